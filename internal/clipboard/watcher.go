package clipboard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"spiegel/internal/domain"
)

// DefaultInterval is the poll interval used when none is configured.
const DefaultInterval = 400 * time.Millisecond

// Watcher polls a Source and emits captures when the clipboard
// content changes. The last-seen dedup key is instance state so the
// watcher stays testable with an injected Source.
type Watcher struct {
	source   Source
	interval time.Duration
	out      chan domain.Content

	lastKey uint64
	primed  bool
}

// NewWatcher creates a Watcher polling source every interval.
func NewWatcher(source Source, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{
		source:   source,
		interval: interval,
		out:      make(chan domain.Content, 8),
	}
}

// Captures returns the channel on which new captures are emitted.
func (w *Watcher) Captures() <-chan domain.Content {
	return w.out
}

// Run polls until ctx is cancelled. Transient read failures are
// logged and the tick skipped; Run only returns on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer close(w.out)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.tick()
		}
	}
}

// tick reads the clipboard once and hands off a capture when the
// content changed. The handoff never blocks the loop: if the consumer
// lags, the key is not advanced and the same content is retried on
// the next tick, so a distinct capture is never silently lost.
func (w *Watcher) tick() {
	content, err := w.source.Read()
	if err != nil {
		if !errors.Is(err, ErrEmpty) {
			slog.Warn("clipboard read failed, skipping tick", "error", err)
		}
		return
	}

	key := content.DedupKey()
	if w.primed && key == w.lastKey {
		return
	}

	select {
	case w.out <- content:
		w.lastKey = key
		w.primed = true
	default:
		slog.Debug("capture consumer busy, retrying next tick")
	}
}
