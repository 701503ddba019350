package enrich

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spiegel/internal/domain"
)

type fakeClassifier struct {
	suggestion domain.Suggestion
	summary    string
	err        error

	mu         sync.Mutex
	summarized []domain.Content
}

func (f *fakeClassifier) Classify(ctx context.Context, c domain.Content) (domain.Suggestion, error) {
	return f.suggestion, f.err
}

func (f *fakeClassifier) Summarize(ctx context.Context, c domain.Content) (string, error) {
	f.mu.Lock()
	f.summarized = append(f.summarized, c)
	f.mu.Unlock()
	return f.summary, f.err
}

type recordingStore struct {
	mu      sync.Mutex
	updates []update
	done    chan struct{}
}

type update struct {
	id       string
	category string
	tags     []string
	summary  string
}

func newRecordingStore() *recordingStore {
	return &recordingStore{done: make(chan struct{}, 16)}
}

func (r *recordingStore) UpdateEnrichment(id, category string, tags []string, summary string) error {
	r.mu.Lock()
	r.updates = append(r.updates, update{id, category, tags, summary})
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func (r *recordingStore) last(t *testing.T) update {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for enrichment write")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[len(r.updates)-1]
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingBus) Publish(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingBus) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func runWorker(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestEnrichmentWritesBack(t *testing.T) {
	clf := &fakeClassifier{suggestion: domain.Suggestion{Category: "notes", Tags: []string{"greeting"}}}
	st := newRecordingStore()
	b := &recordingBus{}
	w := NewWorker(clf, st, b)
	runWorker(t, w)

	w.Enqueue(Job{ItemID: "id-1", Content: domain.Text("hello world")})

	got := st.last(t)
	assert.Equal(t, "id-1", got.id)
	assert.Equal(t, "notes", got.category)
	assert.Equal(t, []string{"greeting"}, got.tags)
	assert.Empty(t, got.summary, "plain text gets no summary")

	events := b.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventItemUpdated, events[0].Type)
	assert.Equal(t, "id-1", events[0].ItemID)
}

func TestEnrichmentFallbackOnFailure(t *testing.T) {
	clf := &fakeClassifier{err: errors.New("service unreachable")}
	st := newRecordingStore()
	w := NewWorker(clf, st, &recordingBus{})
	runWorker(t, w)

	w.Enqueue(Job{ItemID: "id-2", Content: domain.Text("whatever")})

	got := st.last(t)
	assert.Equal(t, domain.CategoryFallback, got.category)
	assert.Equal(t, []string{"uncategorized"}, got.tags)
	assert.Empty(t, got.summary)
}

func TestEnrichmentNilClassifier(t *testing.T) {
	st := newRecordingStore()
	w := NewWorker(nil, st, &recordingBus{})
	runWorker(t, w)

	w.Enqueue(Job{ItemID: "id-3", Content: domain.Image([]byte{1}, 1, 1)})

	got := st.last(t)
	assert.Equal(t, "image", got.category)
	assert.Equal(t, []string{"screenshot"}, got.tags)
}

func TestURLSummaryUsesFetchedPage(t *testing.T) {
	clf := &fakeClassifier{
		suggestion: domain.Suggestion{Category: "url", Tags: []string{"github"}},
		summary:    "- a repo",
	}
	st := newRecordingStore()
	fetched := false
	w := NewWorker(clf, st, &recordingBus{}, WithPageFetcher(
		func(ctx context.Context, url string) (string, error) {
			fetched = true
			assert.Equal(t, "https://example.com", url)
			return "page text body", nil
		}))
	runWorker(t, w)

	w.Enqueue(Job{ItemID: "id-4", Content: domain.Text("https://example.com")})

	got := st.last(t)
	assert.Equal(t, "- a repo", got.summary)
	assert.True(t, fetched)

	clf.mu.Lock()
	defer clf.mu.Unlock()
	require.Len(t, clf.summarized, 1)
	assert.Equal(t, "page text body", clf.summarized[0].Plain)
}

func TestURLSummaryFallsBackToBareLink(t *testing.T) {
	clf := &fakeClassifier{
		suggestion: domain.Suggestion{Category: "url"},
		summary:    "a link",
	}
	st := newRecordingStore()
	w := NewWorker(clf, st, &recordingBus{}, WithPageFetcher(
		func(ctx context.Context, url string) (string, error) {
			return "", errors.New("unreachable")
		}))
	runWorker(t, w)

	w.Enqueue(Job{ItemID: "id-5", Content: domain.Text("https://example.com")})

	_ = st.last(t)
	clf.mu.Lock()
	defer clf.mu.Unlock()
	require.Len(t, clf.summarized, 1)
	assert.Equal(t, "https://example.com", clf.summarized[0].Plain)
}

func TestSuggestNeverFails(t *testing.T) {
	w := NewWorker(&fakeClassifier{err: errors.New("down")}, newRecordingStore(), &recordingBus{})
	s := w.Suggest(context.Background(), domain.Text("x"))
	assert.Equal(t, domain.CategoryFallback, s.Category)

	w = NewWorker(nil, newRecordingStore(), &recordingBus{})
	s = w.Suggest(context.Background(), domain.Image(nil, 0, 0))
	assert.Equal(t, "image", s.Category)
}

func TestEnqueueNeverBlocks(t *testing.T) {
	// No worker running: fill the queue well past capacity.
	w := NewWorker(nil, newRecordingStore(), &recordingBus{})
	for i := 0; i < queueSize*2; i++ {
		w.Enqueue(Job{ItemID: "x", Content: domain.Text("y")})
	}
}

func TestReEnrichmentIsIdempotent(t *testing.T) {
	clf := &fakeClassifier{suggestion: domain.Suggestion{Category: "notes", Tags: []string{"a"}}}
	st := newRecordingStore()
	w := NewWorker(clf, st, &recordingBus{})
	runWorker(t, w)

	w.Enqueue(Job{ItemID: "id-6", Content: domain.Text("hi")})
	first := st.last(t)
	w.Enqueue(Job{ItemID: "id-6", Content: domain.Text("hi")})
	second := st.last(t)

	assert.Equal(t, first, second)
}
