// Package api exposes the command surface consumed by the UI layer:
// item CRUD, settings, hotkey management, on-demand suggestions, and
// a server-sent event stream of store changes.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"spiegel/internal/bus"
	"spiegel/internal/domain"
	"spiegel/internal/hotkey"
	"spiegel/internal/store"
)

// Suggester produces non-persisted enrichment suggestions.
type Suggester interface {
	Suggest(ctx context.Context, content domain.Content) domain.Suggestion
}

// Scheduler enqueues background enrichment for a saved item.
type Scheduler interface {
	Schedule(itemID string, content domain.Content)
}

// Server handles HTTP requests from the UI layer.
type Server struct {
	store       *store.Store
	bus         *bus.Bus
	suggester   Suggester
	scheduler   Scheduler
	applyHotkey func(binding string) error
	addr        string
}

// New creates an API server. applyHotkey re-registers the global
// hotkey when the binding setting changes; nil disables live
// re-registration (validation and persistence still happen).
func New(s *store.Store, b *bus.Bus, sug Suggester, sched Scheduler, applyHotkey func(string) error, addr string) *Server {
	return &Server{
		store:       s,
		bus:         b,
		suggester:   sug,
		scheduler:   sched,
		applyHotkey: applyHotkey,
		addr:        addr,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Items
	mux.HandleFunc("GET /items", s.listItems)
	mux.HandleFunc("POST /items", s.saveItem)
	mux.HandleFunc("GET /items/{id}", s.getItem)
	mux.HandleFunc("DELETE /items/{id}", s.deleteItem)
	mux.HandleFunc("GET /items/search", s.searchItems)

	// Settings
	mux.HandleFunc("GET /settings", s.allSettings)
	mux.HandleFunc("GET /settings/{key}", s.getSetting)
	mux.HandleFunc("PUT /settings/{key}", s.setSetting)

	// Hotkey
	mux.HandleFunc("POST /hotkey/test", s.testHotkey)
	mux.HandleFunc("PUT /hotkey", s.setHotkey)

	// Enrichment suggestion for an open capture session
	mux.HandleFunc("POST /enrich", s.enrich)

	// Outbound events
	mux.HandleFunc("GET /events", s.events)

	mux.HandleFunc("GET /health", s.health)

	return withCORS(mux)
}

// Run starts the HTTP server and shuts it down when ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	}
}

// withCORS adds CORS headers for frontend development
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListItems()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// SaveItemRequest is the request body for persisting a confirmed capture.
type SaveItemRequest struct {
	Content  domain.Content `json:"content"`
	Category string         `json:"category,omitempty"`
}

func (s *Server) saveItem(w http.ResponseWriter, r *http.Request) {
	var req SaveItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content.Kind == domain.KindText && strings.TrimSpace(req.Content.Plain) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	// A missing category means nobody confirmed one: fall back and
	// let background enrichment pick the real value.
	enrichAfter := false
	if req.Category == "" {
		req.Category = domain.CategoryFallback
		enrichAfter = true
	}

	item, err := s.store.CreateItem(domain.Item{Content: req.Content, Category: req.Category})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.bus.Publish(domain.Event{Type: domain.EventItemCreated, ItemID: item.ID})
	if enrichAfter && s.scheduler != nil {
		s.scheduler.Schedule(item.ID, item.Content)
	}

	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.GetItem(r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteItem(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.bus.Publish(domain.Event{Type: domain.EventItemDeleted, ItemID: id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) searchItems(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	items, err := s.store.SearchItems(query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "query": query})
}

func (s *Server) allSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.AllSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) getSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, ok, err := s.store.GetSetting(key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "setting not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

// SettingRequest carries a setting value.
type SettingRequest struct {
	Value string `json:"value"`
}

func (s *Server) setSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var req SettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.SetSetting(key, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}

// HotkeyRequest carries a hotkey binding string.
type HotkeyRequest struct {
	Binding string `json:"binding"`
}

func (s *Server) testHotkey(w http.ResponseWriter, r *http.Request) {
	var req HotkeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := hotkey.Test(req.Binding); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) setHotkey(w http.ResponseWriter, r *http.Request) {
	var req HotkeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := hotkey.Test(req.Binding); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SetSetting(store.SettingHotkey, req.Binding); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.applyHotkey != nil {
		if err := s.applyHotkey(req.Binding); err != nil {
			if errors.Is(err, hotkey.ErrInvalidBinding) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"binding": req.Binding})
}

// EnrichRequest asks for a non-persisted suggestion.
type EnrichRequest struct {
	Content domain.Content `json:"content"`
}

func (s *Server) enrich(w http.ResponseWriter, r *http.Request) {
	var req EnrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	suggestion := s.suggester.Suggest(r.Context(), req.Content)
	writeJSON(w, http.StatusOK, suggestion)
}

// events streams bus events as server-sent events until the client
// disconnects.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, cancel := s.bus.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
