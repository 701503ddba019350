package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spiegel/internal/domain"
)

// fakeAPI answers chat completion calls with a fixed message body.
func fakeAPI(t *testing.T, reply string, gotReq *apiRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if gotReq != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(gotReq))
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": reply}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestClassifyText(t *testing.T) {
	var got apiRequest
	srv := fakeAPI(t, `{"category":"url","tags":["github","repository"]}`, &got)
	defer srv.Close()

	c, err := New("test-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	s, err := c.Classify(context.Background(), domain.Text("https://github.com/user/repo"))
	require.NoError(t, err)
	assert.Equal(t, "url", s.Category)
	assert.Equal(t, []string{"github", "repository"}, s.Tags)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	user, ok := got.Messages[1].Content.(string)
	require.True(t, ok)
	assert.Contains(t, user, "https://github.com/user/repo")
}

func TestClassifyImageSendsDataURL(t *testing.T) {
	var got apiRequest
	srv := fakeAPI(t, `{"category":"image","tags":["screenshot"]}`, &got)
	defer srv.Close()

	c, err := New("test-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), domain.Image([]byte{1, 2, 3}, 10, 20))
	require.NoError(t, err)

	parts, ok := got.Messages[1].Content.([]any)
	require.True(t, ok)
	require.Len(t, parts, 2)
	img := parts[1].(map[string]any)
	assert.Equal(t, "image_url", img["type"])
	url := img["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
}

func TestClassifyStripsMarkdownFences(t *testing.T) {
	srv := fakeAPI(t, "```json\n{\"category\":\"notes\",\"tags\":[\"todo\",\"todo\"]}\n```", nil)
	defer srv.Close()

	c, err := New("test-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	s, err := c.Classify(context.Background(), domain.Text("buy milk"))
	require.NoError(t, err)
	assert.Equal(t, "notes", s.Category)
	assert.Equal(t, []string{"todo"}, s.Tags)
}

func TestClassifyMalformedReply(t *testing.T) {
	srv := fakeAPI(t, "I can't categorize that.", nil)
	defer srv.Close()

	c, err := New("test-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), domain.Text("x"))
	assert.Error(t, err)
}

func TestClassifyAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota exceeded"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := New("test-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), domain.Text("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestSummarize(t *testing.T) {
	srv := fakeAPI(t, "  - point one\n- point two  ", nil)
	defer srv.Close()

	c, err := New("test-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	sum, err := c.Summarize(context.Background(), domain.Text("long article text"))
	require.NoError(t, err)
	assert.Equal(t, "- point one\n- point two", sum)
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", maxPromptChars+50)
	got := truncate(long)
	assert.Len(t, got, maxPromptChars+3)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, "short", truncate("short"))
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	// Multi-byte runes straddling the cut point must not be split.
	long := strings.Repeat("日", maxPromptChars)
	got := truncate(long)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len(got), maxPromptChars+3)
}
