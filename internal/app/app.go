// Package app wires the pipeline together: clipboard watcher,
// enrichment worker, capture sessions, notification bus, hotkey and
// the command-surface API, all around one store.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"spiegel/internal/api"
	"spiegel/internal/bus"
	"spiegel/internal/classifier"
	"spiegel/internal/clipboard"
	"spiegel/internal/domain"
	"spiegel/internal/enrich"
	"spiegel/internal/hotkey"
	"spiegel/internal/session"
	"spiegel/internal/store"
)

// Config holds daemon settings resolved from flags and env.
type Config struct {
	DBPath       string
	Addr         string
	PollInterval time.Duration
	AutoSaveWait time.Duration
	EnrichPool   int
	// AutoCapture persists every clipboard change in the background;
	// when off, the watcher only tracks the latest content for the
	// hotkey flow.
	AutoCapture bool
}

// App owns the long-running pipeline.
type App struct {
	cfg Config

	store     *store.Store
	bus       *bus.Bus
	source    clipboard.Source
	watcher   *clipboard.Watcher
	worker    *enrich.Worker
	sessions  *session.Manager
	registrar hotkey.Registrar
	server    *api.Server

	mu          sync.Mutex
	lastCapture *domain.Content
	sessionKey  uint64
	hasSession  bool
	unregister  func()
}

// Option adjusts construction, mainly to inject fakes in tests.
type Option func(*App)

// WithSource replaces the OS clipboard source.
func WithSource(src clipboard.Source) Option {
	return func(a *App) { a.source = src }
}

// WithRegistrar replaces the OS hotkey registrar.
func WithRegistrar(r hotkey.Registrar) Option {
	return func(a *App) { a.registrar = r }
}

// New builds the pipeline. The LLM classifier is optional: without a
// configured API key every enrichment degrades to the fallback
// defaults and capture keeps working.
func New(cfg Config, opts ...Option) (*App, error) {
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &App{
		cfg:       cfg,
		store:     st,
		bus:       bus.New(),
		source:    clipboard.NewSystemSource(),
		registrar: hotkey.NewSystemRegistrar(),
	}
	for _, opt := range opts {
		opt(a)
	}

	clf, err := a.newClassifier()
	if err != nil {
		slog.Warn("classification disabled", "reason", err)
	}

	a.watcher = clipboard.NewWatcher(a.source, cfg.PollInterval)
	a.worker = enrich.NewWorker(clf, st, a.bus, enrich.WithPoolSize(cfg.EnrichPool))
	a.sessions = session.NewManager(a.worker, st, a.bus, cfg.AutoSaveWait)
	a.server = api.New(st, a.bus, a.worker, a.worker, a.applyHotkey, cfg.Addr)

	return a, nil
}

// newClassifier resolves the API key from settings, falling back to
// the environment the way the original app seeded it.
func (a *App) newClassifier() (enrich.Classifier, error) {
	key, _, err := a.store.GetSetting(store.SettingAPIKey)
	if err != nil {
		return nil, err
	}
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	model, _, _ := a.store.GetSetting(store.SettingModel)

	clf, err := classifier.New(key, classifier.WithModel(model))
	if err != nil {
		return nil, err
	}
	return clf, nil
}

// Store exposes the store for CLI commands sharing an App config.
func (a *App) Store() *store.Store { return a.store }

// Bus exposes the notification bus.
func (a *App) Bus() *bus.Bus { return a.bus }

// Sessions exposes the capture session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Run drives the daemon until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.registerHotkeyFromSettings(); err != nil {
		// Another program may own the binding; the watcher and API
		// still work without the hotkey.
		slog.Warn("hotkey registration failed", "error", err)
	}
	defer a.unregisterHotkey()

	// The group context is always cancelled once Wait returns, so the
	// parent context decides whether this was a shutdown or a failure.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.watcher.Run(gctx) })
	g.Go(func() error { return a.worker.Run(gctx) })
	g.Go(func() error { return a.server.Run(gctx) })
	g.Go(func() error { return a.captureLoop(gctx) })

	err := g.Wait()
	a.bus.Close()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close releases the store. Call after Run returns.
func (a *App) Close() error {
	return a.store.Close()
}

// captureLoop consumes watcher captures: auto-save when enabled,
// otherwise just remember the content for the next hotkey press.
func (a *App) captureLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case content, open := <-a.watcher.Captures():
			if !open {
				return nil
			}
			a.handleCapture(ctx, content)
		}
	}
}

func (a *App) handleCapture(ctx context.Context, content domain.Content) {
	key := content.DedupKey()

	a.mu.Lock()
	a.lastCapture = &content
	claimed := a.hasSession && a.sessionKey == key
	a.mu.Unlock()

	// Content claimed by a hotkey session is the session's to save
	// (or discard), even if the session finished before this tick.
	if claimed || !a.cfg.AutoCapture {
		return
	}

	a.AutoSave(content)
}

// AutoSave persists a capture with the fallback category and
// schedules enrichment; the base record is durable before any
// external call is made.
func (a *App) AutoSave(content domain.Content) {
	item, err := a.store.CreateItem(domain.Item{
		Content:  content,
		Category: domain.CategoryFallback,
	})
	if err != nil {
		slog.Error("auto-save failed", "error", err)
		return
	}
	slog.Info("captured clip", "item_id", item.ID, "preview", content.Preview(60))

	a.bus.Publish(domain.Event{Type: domain.EventItemCreated, ItemID: item.ID})
	a.worker.Enqueue(enrich.Job{ItemID: item.ID, Content: item.Content})
}

// HandleHotkey opens (or resets) the capture session for the current
// clipboard content. Runs on every hotkey press.
func (a *App) HandleHotkey(ctx context.Context) {
	content, err := a.source.Read()
	if err != nil {
		a.mu.Lock()
		last := a.lastCapture
		a.mu.Unlock()
		if last == nil {
			slog.Info("hotkey pressed but nothing captured")
			return
		}
		content = *last
	}

	a.mu.Lock()
	a.sessionKey = content.DedupKey()
	a.hasSession = true
	a.mu.Unlock()

	s := a.sessions.Open(ctx, content)
	slog.Info("capture session opened", "session_id", s.ID, "preview", content.Preview(60))
}

// registerHotkeyFromSettings binds the persisted hotkey.
func (a *App) registerHotkeyFromSettings() error {
	binding, ok, err := a.store.GetSetting(store.SettingHotkey)
	if err != nil {
		return err
	}
	if !ok {
		binding = store.DefaultHotkey
	}
	return a.applyHotkey(binding)
}

// applyHotkey parses and registers a binding, replacing the previous
// registration. Used at startup and when settings change.
func (a *App) applyHotkey(binding string) error {
	b, err := hotkey.Parse(binding)
	if err != nil {
		return err
	}

	unregister, err := a.registrar.Register(b, func() {
		a.HandleHotkey(context.Background())
	})
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.unregister = unregister
	a.mu.Unlock()

	slog.Info("global hotkey registered", "binding", b.String())
	return nil
}

func (a *App) unregisterHotkey() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unregister != nil {
		a.unregister()
		a.unregister = nil
	}
}
