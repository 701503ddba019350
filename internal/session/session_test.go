package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spiegel/internal/domain"
)

// gatedSuggester blocks every Suggest call until released, so tests
// control which side of the race finishes first.
type gatedSuggester struct {
	suggestion domain.Suggestion
	gate       chan struct{}
}

func newGatedSuggester(s domain.Suggestion) *gatedSuggester {
	return &gatedSuggester{suggestion: s, gate: make(chan struct{})}
}

func (g *gatedSuggester) Suggest(ctx context.Context, c domain.Content) domain.Suggestion {
	<-g.gate
	return g.suggestion
}

func (g *gatedSuggester) release() { close(g.gate) }

type memStore struct {
	mu    sync.Mutex
	items []domain.Item
	err   error
}

// failWith makes subsequent CreateItem calls fail; nil restores writes.
func (m *memStore) failWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *memStore) CreateItem(item domain.Item) (domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Item{}, m.err
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	m.items = append(m.items, item)
	return item, nil
}

func (m *memStore) all() []domain.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Item(nil), m.items...)
}

type memBus struct {
	mu     sync.Mutex
	events []domain.Event
	notify chan domain.Event
}

func newMemBus() *memBus {
	return &memBus{notify: make(chan domain.Event, 16)}
}

func (m *memBus) Publish(ev domain.Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	m.notify <- ev
}

func (m *memBus) wait(t *testing.T, typ domain.EventType) domain.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-m.notify:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func TestSuggestionThenSave(t *testing.T) {
	sug := newGatedSuggester(domain.Suggestion{Category: "url", Tags: []string{"github"}})
	st := &memStore{}
	b := newMemBus()
	m := NewManager(sug, st, b, 0)

	s := m.Open(context.Background(), domain.Text("https://example.com"))
	assert.Equal(t, AwaitingSuggestion, s.State())

	// Save is gated until a category exists.
	_, err := s.Save()
	assert.ErrorIs(t, err, ErrNoCategory)

	sug.release()
	ev := b.wait(t, domain.EventSuggestionReady)
	require.NotNil(t, ev.Suggestion)
	assert.Equal(t, "url", ev.Suggestion.Category)
	assert.Equal(t, Ready, s.State())

	item, err := s.Save()
	require.NoError(t, err)
	assert.Equal(t, "url", item.Category)
	assert.Equal(t, []string{"github"}, item.Tags)
	assert.Equal(t, Saved, s.State())

	created := b.wait(t, domain.EventItemCreated)
	assert.Equal(t, item.ID, created.ItemID)
	require.Len(t, st.all(), 1)
}

func TestUserEditWinsOverSuggestion(t *testing.T) {
	sug := newGatedSuggester(domain.Suggestion{Category: "url"})
	st := &memStore{}
	b := newMemBus()
	m := NewManager(sug, st, b, 0)

	s := m.Open(context.Background(), domain.Text("https://example.com"))
	require.NoError(t, s.SetCategory("bookmarks"))
	assert.Equal(t, Ready, s.State(), "typing makes the session saveable")

	sug.release()
	b.wait(t, domain.EventSuggestionReady)

	item, err := s.Save()
	require.NoError(t, err)
	assert.Equal(t, "bookmarks", item.Category)
}

func TestUserEditBeforeSuggestionAllowsSave(t *testing.T) {
	sug := newGatedSuggester(domain.Suggestion{Category: "url"})
	m := NewManager(sug, &memStore{}, newMemBus(), 0)

	s := m.Open(context.Background(), domain.Text("x"))
	require.NoError(t, s.SetCategory("notes"))

	// Suggestion never arrives; the user value suffices.
	item, err := s.Save()
	require.NoError(t, err)
	assert.Equal(t, "notes", item.Category)
	sug.release()
}

func TestOnlyOneSaveSucceeds(t *testing.T) {
	sug := newGatedSuggester(domain.Suggestion{Category: "notes"})
	st := &memStore{}
	b := newMemBus()
	m := NewManager(sug, st, b, 0)

	s := m.Open(context.Background(), domain.Text("x"))
	sug.release()
	b.wait(t, domain.EventSuggestionReady)

	_, err := s.Save()
	require.NoError(t, err)
	_, err = s.Save()
	assert.ErrorIs(t, err, ErrFinished)
	assert.Len(t, st.all(), 1)
}

func TestFailedPersistLeavesSessionRetryable(t *testing.T) {
	sug := newGatedSuggester(domain.Suggestion{Category: "notes"})
	st := &memStore{}
	b := newMemBus()
	m := NewManager(sug, st, b, 0)

	s := m.Open(context.Background(), domain.Text("important clip"))
	sug.release()
	b.wait(t, domain.EventSuggestionReady)

	st.failWith(errors.New("disk full"))
	_, err := s.Save()
	require.EqualError(t, err, "disk full")
	assert.Equal(t, Ready, s.State())
	require.NotNil(t, m.Active())
	assert.Empty(t, st.all())

	// Once the store recovers the same session saves normally.
	st.failWith(nil)
	item, err := s.Save()
	require.NoError(t, err)
	assert.Equal(t, "notes", item.Category)
	assert.Equal(t, Saved, s.State())
	assert.Len(t, st.all(), 1)
}

func TestCancelDiscardsLateSuggestion(t *testing.T) {
	sug := newGatedSuggester(domain.Suggestion{Category: "notes"})
	st := &memStore{}
	b := newMemBus()
	m := NewManager(sug, st, b, 0)

	s := m.Open(context.Background(), domain.Text("x"))
	require.NoError(t, s.Cancel())
	assert.Equal(t, Cancelled, s.State())

	// The in-flight request completes and is dropped on arrival.
	sug.release()
	time.Sleep(20 * time.Millisecond)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ev := range b.events {
		assert.NotEqual(t, domain.EventSuggestionReady, ev.Type)
	}
	assert.Empty(t, st.all())

	_, err := s.Save()
	assert.ErrorIs(t, err, ErrFinished)
}

func TestSecondOpenResetsActiveSession(t *testing.T) {
	sug := newGatedSuggester(domain.Suggestion{Category: "notes"})
	m := NewManager(sug, &memStore{}, newMemBus(), 0)

	first := m.Open(context.Background(), domain.Text("one"))
	second := m.Open(context.Background(), domain.Text("two"))

	assert.Equal(t, Cancelled, first.State())
	assert.Same(t, second, m.Active())
	assert.NotEqual(t, first.ID, second.ID)
	sug.release()
}

func TestActiveNilAfterFinish(t *testing.T) {
	sug := newGatedSuggester(domain.Suggestion{Category: "notes"})
	m := NewManager(sug, &memStore{}, newMemBus(), 0)

	assert.Nil(t, m.Active())
	s := m.Open(context.Background(), domain.Text("x"))
	assert.NotNil(t, m.Active())
	s.Cancel()
	assert.Nil(t, m.Active())
	sug.release()
}

func TestAutoSaveTimeout(t *testing.T) {
	sug := newGatedSuggester(domain.Suggestion{Category: "never-arrives"})
	st := &memStore{}
	b := newMemBus()
	m := NewManager(sug, st, b, 10*time.Millisecond)

	s := m.Open(context.Background(), domain.Text("timed"))
	b.wait(t, domain.EventItemCreated)

	items := st.all()
	require.Len(t, items, 1)
	assert.Equal(t, domain.CategoryFallback, items[0].Category)
	assert.Equal(t, Saved, s.State())
	sug.release()
}

func TestSaveStopsAutoSaveTimer(t *testing.T) {
	sug := newGatedSuggester(domain.Suggestion{Category: "notes"})
	st := &memStore{}
	b := newMemBus()
	m := NewManager(sug, st, b, 15*time.Millisecond)

	s := m.Open(context.Background(), domain.Text("x"))
	sug.release()
	b.wait(t, domain.EventSuggestionReady)
	_, err := s.Save()
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	assert.Len(t, st.all(), 1, "timer must not fire a second save")
}
