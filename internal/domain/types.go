package domain

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

// Kind discriminates the content variants of a clip.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Content is a captured clipboard payload: either plain text or a PNG
// image. Exactly one variant is populated.
type Content struct {
	Kind  Kind
	Plain string

	// Image variant
	Data   []byte
	Width  int
	Height int
}

// Text builds a text content.
func Text(plain string) Content {
	return Content{Kind: KindText, Plain: plain}
}

// Image builds an image content from PNG bytes.
func Image(data []byte, width, height int) Content {
	return Content{Kind: KindImage, Data: data, Width: width, Height: height}
}

// DedupKey returns a fingerprint of the content used to suppress
// repeat captures of unchanged clipboard state.
func (c Content) DedupKey() uint64 {
	h := xxhash.New()
	h.WriteString(string(c.Kind))
	h.WriteString(c.Plain)
	h.Write(c.Data)
	return h.Sum64()
}

// Preview returns a short single-line rendering for logs and CLI output.
func (c Content) Preview(max int) string {
	switch c.Kind {
	case KindImage:
		return fmt.Sprintf("[image %dx%d, %d bytes]", c.Width, c.Height, len(c.Data))
	default:
		s := strings.Join(strings.Fields(c.Plain), " ")
		if len(s) <= max {
			return s
		}
		cut := max - 3
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "..."
	}
}

type contentJSON struct {
	Type   string `json:"type"`
	Plain  string `json:"plain,omitempty"`
	Data   []byte `json:"data,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// MarshalJSON encodes the variant with an explicit type tag so new
// variants can be added without breaking persisted rows.
func (c Content) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case KindText:
		return json.Marshal(contentJSON{Type: string(KindText), Plain: c.Plain})
	case KindImage:
		return json.Marshal(contentJSON{
			Type:   string(KindImage),
			Data:   c.Data,
			Width:  c.Width,
			Height: c.Height,
		})
	default:
		return nil, fmt.Errorf("marshal content: unknown kind %q", c.Kind)
	}
}

// UnmarshalJSON decodes a tagged content value.
func (c *Content) UnmarshalJSON(b []byte) error {
	var raw contentJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("unmarshal content: %w", err)
	}
	switch Kind(raw.Type) {
	case KindText:
		*c = Text(raw.Plain)
	case KindImage:
		*c = Image(raw.Data, raw.Width, raw.Height)
	default:
		return fmt.Errorf("unmarshal content: unknown type %q", raw.Type)
	}
	return nil
}

// Item is one captured clipboard entry with its derived metadata.
// Content and CreatedAt are immutable after creation; Category,
// Summary and Tags are written by enrichment (or a user override at
// save time) through the store.
type Item struct {
	ID        string    `json:"id"`
	Content   Content   `json:"content"`
	Category  string    `json:"category,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CategoryFallback is applied when neither a suggestion nor a user
// value exists.
const CategoryFallback = "other"

// Suggestion is the output of one classification round trip.
type Suggestion struct {
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
	Summary  string   `json:"summary,omitempty"`
}

// FallbackSuggestion returns the defaults applied when classification
// fails: the item stays usable, just uncategorized.
func FallbackSuggestion(c Content) Suggestion {
	if c.Kind == KindImage {
		return Suggestion{Category: "image", Tags: []string{"screenshot"}}
	}
	return Suggestion{Category: CategoryFallback, Tags: []string{"uncategorized"}}
}

// NormalizeTags collapses duplicates while preserving insertion order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// IsURL reports whether text is a single http(s) link.
func IsURL(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// EventType identifies a change broadcast on the notification bus.
type EventType string

const (
	EventItemCreated     EventType = "item-created"
	EventItemUpdated     EventType = "item-updated"
	EventItemDeleted     EventType = "item-deleted"
	EventSuggestionReady EventType = "suggestion-ready"
)

// Event is a change notification. Listeners treat it as a refresh
// hint and re-fetch the list; Suggestion is set only for
// suggestion-ready events.
type Event struct {
	Type       EventType   `json:"type"`
	ItemID     string      `json:"item_id,omitempty"`
	SessionID  uint64      `json:"session_id,omitempty"`
	Suggestion *Suggestion `json:"suggestion,omitempty"`
}
