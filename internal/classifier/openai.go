// Package classifier talks to the OpenAI API to derive a category,
// tags and summary for clipboard content.
package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"spiegel/internal/domain"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o"

	// Long text clips are truncated before classification; the head
	// of the content is enough to pick a category.
	maxPromptChars = 2000
)

const categorizePrompt = `You are a clipboard content categorizer. Your job is to categorize content into a primary category and suggest relevant tags.

IMPORTANT: Respond with ONLY a JSON object in this exact format:
{
  "category": "category_name",
  "tags": ["tag1", "tag2", "tag3"]
}

Use these primary categories (choose the best fit):
- code_snippet: Programming code, scripts, configuration files, JSON, XML, HTML, CSS, SQL queries
- technical_advice: Technical explanations, troubleshooting steps, how-to guides, technical discussions
- documentation: API docs, README files, technical specifications, user manuals
- url: Web links, file paths, network addresses
- credentials: Passwords, API keys, tokens, certificates (be careful with sensitive data)
- data: CSV data, logs, structured data, database records
- communication: Emails, messages, social media posts, chat conversations
- notes: Personal notes, reminders, todo items, quick thoughts
- reference: Phone numbers, addresses, contact info, reference materials
- creative: Writing, stories, poems, creative content
- business: Meeting notes, project plans, business documents, proposals
- academic: Research, papers, citations, study materials
- error_log: Error messages, stack traces, debug output
- command: Terminal commands, CLI instructions, scripts to run
- image: Screenshots, photos, diagrams, charts, memes, artwork, UI mockups
- other: Content that doesn't fit the above categories

For tags, suggest 2-4 specific, relevant tags that describe the content in more detail. Tags should be:
- Lowercase
- Single words or hyphenated (e.g., "react", "javascript", "error-handling", "screenshot", "diagram")
- Specific to the technology, topic, context, or visual content

Return ONLY the JSON, no other text.`

const summarizePrompt = `You are a concise summarization assistant.
Provide a clear, bullet-point summary of the key points.
Do not include citations or extra commentary.`

// Classifier calls the OpenAI chat completions API.
type Classifier struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// Option adjusts a Classifier.
type Option func(*Classifier)

// WithBaseURL points the classifier at a different API endpoint,
// mainly for tests.
func WithBaseURL(url string) Option {
	return func(c *Classifier) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *Classifier) {
		if model != "" {
			c.model = model
		}
	}
}

// New creates a Classifier. The API key is required.
func New(apiKey string, opts ...Option) (*Classifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm api key not set")
	}
	c := &Classifier{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Classify analyzes content and returns a category and tags. Summary
// is left empty; Summarize fills it separately where wanted.
func (c *Classifier) Classify(ctx context.Context, content domain.Content) (domain.Suggestion, error) {
	user := userMessage(content, classifyUserPrompt(content))
	resp, err := c.callAPI(ctx, categorizePrompt, user)
	if err != nil {
		return domain.Suggestion{}, fmt.Errorf("api call: %w", err)
	}
	return parseSuggestion(resp)
}

// Summarize produces a short summary of the content: page text or a
// bare link for URLs, visual description for images.
func (c *Classifier) Summarize(ctx context.Context, content domain.Content) (string, error) {
	var prompt string
	switch content.Kind {
	case domain.KindImage:
		prompt = fmt.Sprintf(
			"Please provide a brief summary of the image content. Image dimensions: %dx%d.",
			content.Width, content.Height)
	default:
		prompt = "Please summarize the following content. If it came from a URL, provide a short overview of the page's main points.\n\n" +
			truncate(content.Plain)
	}

	resp, err := c.callAPI(ctx, summarizePrompt, userMessage(content, prompt))
	if err != nil {
		return "", fmt.Errorf("api call: %w", err)
	}
	return strings.TrimSpace(resp), nil
}

func classifyUserPrompt(content domain.Content) string {
	if content.Kind == domain.KindImage {
		return fmt.Sprintf(
			"Categorize this image content. Image dimensions: %dx%d. Analyze what you see in the image and provide appropriate category and tags.",
			content.Width, content.Height)
	}
	return "Categorize this text content:\n\n" + truncate(content.Plain)
}

func truncate(s string) string {
	if len(s) <= maxPromptChars {
		return s
	}
	// Back off to a rune boundary so the cut never produces invalid
	// UTF-8 in the prompt.
	cut := maxPromptChars
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

type apiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// userMessage builds the user turn; image content rides along as a
// data URL part.
func userMessage(content domain.Content, prompt string) apiMessage {
	if content.Kind != domain.KindImage {
		return apiMessage{Role: "user", Content: prompt}
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(content.Data)
	return apiMessage{Role: "user", Content: []contentPart{
		{Type: "text", Text: prompt},
		{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
	}}
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Classifier) callAPI(ctx context.Context, system string, user apiMessage) (string, error) {
	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: 300,
		Messages:  []apiMessage{{Role: "system", Content: system}, user},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("api error: %s", apiResp.Error.Message)
	}

	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("empty response")
	}

	return apiResp.Choices[0].Message.Content, nil
}

func parseSuggestion(resp string) (domain.Suggestion, error) {
	// Clean up response - remove markdown code blocks if present
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	var s domain.Suggestion
	if err := json.Unmarshal([]byte(resp), &s); err != nil {
		return domain.Suggestion{}, fmt.Errorf("parse json: %w (response: %s)", err, resp)
	}
	if s.Category == "" {
		return domain.Suggestion{}, fmt.Errorf("no category in response: %s", resp)
	}
	s.Tags = domain.NormalizeTags(s.Tags)
	return s, nil
}
