// Package session implements the hotkey-triggered confirm-before-save
// flow: the captured content is shown together with a best-effort
// category suggestion, and the user confirms, edits or cancels.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"spiegel/internal/domain"
)

// State is the session lifecycle position.
type State int

const (
	Idle State = iota
	AwaitingSuggestion
	Ready
	Saved
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingSuggestion:
		return "awaiting-suggestion"
	case Ready:
		return "ready"
	case Saved:
		return "saved"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var (
	// ErrNoCategory gates Save until a suggestion arrived or the user
	// typed a value; an accidental accelerator must never submit the
	// empty default.
	ErrNoCategory = errors.New("no category available yet")
	// ErrFinished is returned when acting on a saved or cancelled session.
	ErrFinished = errors.New("session already finished")
)

// Suggester produces a non-persisted category suggestion.
type Suggester interface {
	Suggest(ctx context.Context, content domain.Content) domain.Suggestion
}

// Store persists confirmed captures.
type Store interface {
	CreateItem(item domain.Item) (domain.Item, error)
}

// Publisher broadcasts session and item events.
type Publisher interface {
	Publish(ev domain.Event)
}

// Session is one interactive capture. The suggestion request and the
// user race; the user's typed value always wins over the suggestion.
type Session struct {
	ID      uint64
	Content domain.Content

	mgr *Manager

	mu           sync.Mutex
	state        State
	suggestion   *domain.Suggestion
	userCategory string
	timer        *time.Timer
}

// State returns the current lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetCategory records the user's typed category. Typing makes the
// session saveable even before the suggestion arrives.
func (s *Session) SetCategory(category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Saved || s.state == Cancelled {
		return ErrFinished
	}
	s.userCategory = category
	if category != "" && s.state == AwaitingSuggestion {
		s.state = Ready
	}
	return nil
}

// deliver hands the arrived suggestion to the session. A late arrival
// after save or cancel is silently discarded.
func (s *Session) deliver(sug domain.Suggestion) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Saved || s.state == Cancelled {
		return false
	}
	s.suggestion = &sug
	s.state = Ready
	return true
}

// effectiveCategory resolves the save value: the user's edit if
// present, else the suggestion, else nothing.
func (s *Session) effectiveCategory() (string, bool) {
	if s.userCategory != "" {
		return s.userCategory, true
	}
	if s.suggestion != nil && s.suggestion.Category != "" {
		return s.suggestion.Category, true
	}
	return "", false
}

// Save persists the capture. Only one save can succeed per session,
// and only once a category exists.
func (s *Session) Save() (domain.Item, error) {
	return s.save(false)
}

func (s *Session) save(timeout bool) (domain.Item, error) {
	s.mu.Lock()

	if s.state == Saved || s.state == Cancelled {
		s.mu.Unlock()
		return domain.Item{}, ErrFinished
	}

	category, ok := s.effectiveCategory()
	if !ok {
		if !timeout {
			s.mu.Unlock()
			return domain.Item{}, ErrNoCategory
		}
		// Timed-out auto-save proceeds with the fallback.
		category = domain.CategoryFallback
	}

	item := domain.Item{Content: s.Content, Category: category}
	if s.suggestion != nil {
		item.Tags = s.suggestion.Tags
		item.Summary = s.suggestion.Summary
	}

	// Persist before committing the transition: a store failure must
	// leave the session open so the capture can be retried.
	created, err := s.mgr.persist(item)
	if err != nil {
		s.mu.Unlock()
		return domain.Item{}, err
	}

	s.state = Saved
	s.stopTimerLocked()
	s.mu.Unlock()

	return created, nil
}

// Cancel discards the session. The in-flight suggestion request is
// left to complete and ignored on arrival.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Saved {
		return ErrFinished
	}
	s.state = Cancelled
	s.stopTimerLocked()
	return nil
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Manager owns at most one active session; a second hotkey press
// while one is open resets it to the new clipboard content.
type Manager struct {
	suggester Suggester
	store     Store
	bus       Publisher
	autoSave  time.Duration

	mu     sync.Mutex
	active *Session
	nextID atomic.Uint64
}

// NewManager creates a Manager. autoSave <= 0 disables the automatic
// timed save.
func NewManager(suggester Suggester, store Store, bus Publisher, autoSave time.Duration) *Manager {
	return &Manager{
		suggester: suggester,
		store:     store,
		bus:       bus,
		autoSave:  autoSave,
	}
}

// Active returns the currently open session, or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	if st := m.active.State(); st == Saved || st == Cancelled {
		return nil
	}
	return m.active
}

// Open starts a session for content, cancelling any session still
// open, and issues the suggestion request in the background. The
// session is usable immediately; the suggestion arrives via a
// suggestion-ready event.
func (m *Manager) Open(ctx context.Context, content domain.Content) *Session {
	m.mu.Lock()
	if m.active != nil {
		m.active.Cancel()
	}

	s := &Session{
		ID:      m.nextID.Add(1),
		Content: content,
		mgr:     m,
		state:   AwaitingSuggestion,
	}
	if m.autoSave > 0 {
		s.timer = time.AfterFunc(m.autoSave, func() {
			if _, err := s.save(true); err != nil && !errors.Is(err, ErrFinished) {
				slog.Error("timed auto-save failed", "session_id", s.ID, "error", err)
			}
		})
	}
	m.active = s
	m.mu.Unlock()

	go func() {
		sug := m.suggester.Suggest(ctx, content)
		if s.deliver(sug) {
			m.bus.Publish(domain.Event{
				Type:       domain.EventSuggestionReady,
				SessionID:  s.ID,
				Suggestion: &sug,
			})
		} else {
			slog.Debug("suggestion arrived for finished session, discarded", "session_id", s.ID)
		}
	}()

	return s
}

func (m *Manager) persist(item domain.Item) (domain.Item, error) {
	created, err := m.store.CreateItem(item)
	if err != nil {
		return domain.Item{}, err
	}
	m.bus.Publish(domain.Event{Type: domain.EventItemCreated, ItemID: created.ID})
	return created, nil
}
