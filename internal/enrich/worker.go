// Package enrich runs asynchronous classification of captured clips
// and writes the derived fields back through the store.
package enrich

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"spiegel/internal/domain"
	"spiegel/internal/fetcher"
)

// Classifier is the external classification service.
type Classifier interface {
	Classify(ctx context.Context, content domain.Content) (domain.Suggestion, error)
	Summarize(ctx context.Context, content domain.Content) (string, error)
}

// Store is the subset of the store the worker writes through.
type Store interface {
	UpdateEnrichment(id, category string, tags []string, summary string) error
}

// Publisher broadcasts change events.
type Publisher interface {
	Publish(ev domain.Event)
}

// PageFetcher resolves a URL to readable page text.
type PageFetcher func(ctx context.Context, url string) (string, error)

// Job is one enrichment request for an already-persisted item.
type Job struct {
	ItemID  string
	Content domain.Content
}

const (
	defaultPoolSize = 3
	queueSize       = 64
)

// Worker consumes enrichment jobs with a small goroutine pool. A nil
// classifier (no API key configured) degrades every job to the
// fallback defaults.
type Worker struct {
	classifier Classifier
	store      Store
	bus        Publisher
	fetch      PageFetcher
	jobs       chan Job
	pool       int
}

// Option adjusts a Worker.
type Option func(*Worker)

// WithPoolSize sets the number of concurrent enrichment goroutines.
func WithPoolSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.pool = n
		}
	}
}

// WithPageFetcher overrides URL text retrieval, mainly for tests.
func WithPageFetcher(f PageFetcher) Option {
	return func(w *Worker) { w.fetch = f }
}

// NewWorker creates a Worker writing through store and publishing
// item-updated events on bus.
func NewWorker(classifier Classifier, store Store, bus Publisher, opts ...Option) *Worker {
	w := &Worker{
		classifier: classifier,
		store:      store,
		bus:        bus,
		fetch:      fetcher.Fetch,
		jobs:       make(chan Job, queueSize),
		pool:       defaultPoolSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue schedules enrichment for an item. It never blocks the
// caller: when the queue is full the job is dropped and the item
// simply keeps its save-time defaults.
func (w *Worker) Enqueue(job Job) {
	select {
	case w.jobs <- job:
	default:
		slog.Warn("enrichment queue full, dropping job", "item_id", job.ItemID)
	}
}

// Schedule is Enqueue in the shape the command surface expects.
func (w *Worker) Schedule(itemID string, content domain.Content) {
	w.Enqueue(Job{ItemID: itemID, Content: content})
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.pool; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case job := <-w.jobs:
					w.process(ctx, job)
				}
			}
		})
	}
	return g.Wait()
}

// Suggest returns a best-effort classification without persisting
// anything. It never fails: classification errors degrade to the
// fallback suggestion.
func (w *Worker) Suggest(ctx context.Context, content domain.Content) domain.Suggestion {
	if w.classifier == nil {
		return domain.FallbackSuggestion(content)
	}
	s, err := w.classifier.Classify(ctx, content)
	if err != nil {
		slog.Warn("classification failed, using fallback", "error", err)
		return domain.FallbackSuggestion(content)
	}
	return s
}

// process runs the full enrichment for one persisted item: category
// and tags always, a summary for URLs and images. The write is a
// no-op if the item was deleted while the request was in flight.
func (w *Worker) process(ctx context.Context, job Job) {
	s := w.Suggest(ctx, job.Content)
	s.Summary = w.summarize(ctx, job.Content)

	if err := w.store.UpdateEnrichment(job.ItemID, s.Category, s.Tags, s.Summary); err != nil {
		slog.Error("enrichment write failed", "item_id", job.ItemID, "error", err)
		return
	}

	slog.Info("item enriched",
		"item_id", job.ItemID,
		"category", s.Category,
		"tags", s.Tags,
	)
	w.bus.Publish(domain.Event{Type: domain.EventItemUpdated, ItemID: job.ItemID})
}

// summarize derives a summary where one makes sense: URL text clips
// are summarized from the fetched page (falling back to the bare
// link), images from their visual content. Plain text keeps no
// summary. Best effort only; failures leave it absent.
func (w *Worker) summarize(ctx context.Context, content domain.Content) string {
	if w.classifier == nil {
		return ""
	}

	target := content
	switch content.Kind {
	case domain.KindText:
		if !domain.IsURL(content.Plain) {
			return ""
		}
		if page, err := w.fetch(ctx, content.Plain); err == nil {
			target = domain.Text(page)
		} else {
			slog.Debug("page fetch failed, summarizing bare link", "error", err)
		}
	case domain.KindImage:
		// summarized as-is
	default:
		return ""
	}

	sum, err := w.classifier.Summarize(ctx, target)
	if err != nil {
		slog.Warn("summarization failed", "error", err)
		return ""
	}
	return sum
}
