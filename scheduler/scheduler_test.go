package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"olx-watcher/models"
	"olx-watcher/scraper/olx"
	"olx-watcher/services"
	"olx-watcher/storage"
	"olx-watcher/utils"
)

// scriptedFetcher delivers pages in order, then returns failWith.
type scriptedFetcher struct {
	pages    []models.RawPage
	failWith error
	calls    atomic.Int32

	// When set, Fetch blocks on release before delivering any page.
	started chan struct{}
	release chan struct{}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, _ models.SourceQuery, handle olx.PageHandler) error {
	f.calls.Add(1)
	if f.started != nil {
		close(f.started)
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, p := range f.pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handle(p); err != nil {
			return err
		}
	}
	return f.failWith
}

// listParser emits one candidate per id listed in the page HTML, and
// skips the literal "-".
type listParser struct{}

func (listParser) Parse(page models.RawPage) services.PageResult {
	var res services.PageResult
	for i, id := range splitIDs(page.HTML) {
		if id == "-" {
			res.Skipped = append(res.Skipped, services.ParseSkip{Page: page.Number, Index: i, Reason: "missing_link"})
			continue
		}
		res.Candidates = append(res.Candidates, models.Listing{
			ID:    id,
			Title: "Listing " + id,
			Link:  "https://www.olx.pt/d/anuncio/" + id + ".html",
		})
	}
	return res
}

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func page(n int, ids string) models.RawPage {
	return models.RawPage{Number: n, URL: fmt.Sprintf("https://www.olx.pt/?page=%d", n), HTML: ids, EntryCount: len(splitIDs(ids))}
}

type failingStore struct {
	storage.Store
	err error
}

func (s *failingStore) Reconcile(context.Context, []models.Listing) (models.ReconcileResult, error) {
	return models.ReconcileResult{}, s.err
}

func newMemStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	s, err := storage.NewMemoryStore(utils.NewNopLogger())
	require.NoError(t, err)
	return s
}

func newTestScheduler(f Fetcher, store storage.Store, history storage.RunHistory) *Scheduler {
	s := New(f, listParser{}, store, history, nil, utils.NewNopLogger(),
		models.SourceQuery{MaxPages: 5}, Config{Interval: time.Hour, RunTimeout: time.Minute})
	n := 0
	s.newID = func() string { n++; return fmt.Sprintf("run-%d", n) }
	return s
}

func TestTriggerSucceeds(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t)
	history := storage.NewMemoryRunHistory(10)
	f := &scriptedFetcher{pages: []models.RawPage{page(1, "a,-,b"), page(2, "c")}}
	s := newTestScheduler(f, store, history)

	rec, err := s.Trigger(ctx, models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, models.RunSucceeded, rec.Outcome)
	assert.Equal(t, "run-1", rec.ID)
	assert.Equal(t, models.TriggerManual, rec.Trigger)
	assert.Equal(t, 2, rec.PagesFetched)
	assert.Equal(t, 4, rec.Fetched)
	assert.Equal(t, 3, rec.Parsed)
	assert.Equal(t, 1, rec.ParseSkipped)
	assert.Equal(t, 3, rec.NewlyAdded)
	assert.Empty(t, rec.Failure)
	assert.False(t, rec.FinishedAt.Before(rec.StartedAt))

	assert.Same(t, rec, s.LastRun())
	assert.Equal(t, StateIdle, s.State())

	runs, err := s.History(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
}

func TestNoNewListingsIsStillSuccess(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t)
	f := &scriptedFetcher{pages: []models.RawPage{page(1, "a,b")}}
	s := newTestScheduler(f, store, nil)

	_, err := s.Trigger(ctx, models.TriggerManual)
	require.NoError(t, err)
	rec, err := s.Trigger(ctx, models.TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, models.RunSucceeded, rec.Outcome)
	assert.Equal(t, 0, rec.NewlyAdded)
	assert.Equal(t, 2, rec.Duplicates)
}

func TestPartialFailureKeepsEarlierPages(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t)
	fetchErr := &olx.FetchError{Kind: olx.KindTimeout, Page: 3, Err: context.DeadlineExceeded}
	f := &scriptedFetcher{pages: []models.RawPage{page(1, "a,b"), page(2, "c")}, failWith: fetchErr}
	s := newTestScheduler(f, store, nil)

	rec, err := s.Trigger(ctx, models.TriggerSchedule)
	require.NoError(t, err)
	assert.Equal(t, models.RunPartiallyFailed, rec.Outcome)
	assert.Equal(t, "timeout", rec.FailureKind)
	assert.Contains(t, rec.Failure, "fetch page 3")
	assert.Equal(t, 2, rec.PagesFetched)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{Total: 3, Unseen: 3}, st)
}

func TestFetchFailureWithoutPagesFails(t *testing.T) {
	store := newMemStore(t)
	f := &scriptedFetcher{failWith: &olx.FetchError{Kind: olx.KindBlocked, Page: 1, Reason: "captcha"}}
	s := newTestScheduler(f, store, nil)

	rec, err := s.Trigger(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, rec.Outcome)
	assert.Equal(t, "blocked", rec.FailureKind)
	assert.Equal(t, 0, rec.PagesFetched)
}

func TestStoreFailureFailsRun(t *testing.T) {
	base := newMemStore(t)
	store := &failingStore{Store: base, err: errors.New("disk full")}
	f := &scriptedFetcher{pages: []models.RawPage{page(1, "a"), page(2, "b")}}
	s := newTestScheduler(f, store, nil)

	rec, err := s.Trigger(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, rec.Outcome)
	assert.Equal(t, "store", rec.FailureKind)
	assert.Contains(t, rec.Failure, "disk full")
	assert.Equal(t, 1, rec.PagesFetched, "pagination stops at the failing page")
}

func TestFailedRunIsNotRetried(t *testing.T) {
	f := &scriptedFetcher{failWith: &olx.FetchError{Kind: olx.KindUnreachable, Page: 1}}
	s := newTestScheduler(f, newMemStore(t), nil)

	_, err := s.Trigger(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestConcurrentTriggerRejected(t *testing.T) {
	ctx := context.Background()
	f := &scriptedFetcher{
		pages:   []models.RawPage{page(1, "a")},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newTestScheduler(f, newMemStore(t), nil)

	var wg sync.WaitGroup
	var first *models.RunRecord
	wg.Add(1)
	go func() {
		defer wg.Done()
		rec, err := s.Trigger(ctx, models.TriggerManual)
		assert.NoError(t, err)
		first = rec
	}()

	<-f.started
	assert.Equal(t, StateRunning, s.State())

	rec, err := s.Trigger(ctx, models.TriggerManual)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Nil(t, rec)

	close(f.release)
	wg.Wait()

	require.NotNil(t, first)
	assert.Equal(t, models.RunSucceeded, first.Outcome)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, StateIdle, s.State())
}

func TestCancelStopsActiveRun(t *testing.T) {
	f := &scriptedFetcher{
		pages:   []models.RawPage{page(1, "a")},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newTestScheduler(f, newMemStore(t), nil)
	assert.False(t, s.Cancel(), "nothing to cancel while idle")

	done := make(chan *models.RunRecord, 1)
	go func() {
		rec, _ := s.Trigger(context.Background(), models.TriggerManual)
		done <- rec
	}()

	<-f.started
	assert.True(t, s.Cancel())

	select {
	case rec := <-done:
		assert.Equal(t, models.RunFailed, rec.Outcome)
		assert.Equal(t, "cancelled", rec.FailureKind)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestRunTimeoutAfterPages(t *testing.T) {
	f := &scriptedFetcher{pages: []models.RawPage{page(1, "a")}, failWith: context.DeadlineExceeded}
	s := newTestScheduler(f, newMemStore(t), nil)

	rec, err := s.Trigger(context.Background(), models.TriggerSchedule)
	require.NoError(t, err)
	assert.Equal(t, models.RunPartiallyFailed, rec.Outcome)
	assert.Equal(t, "run_timeout", rec.FailureKind)
}

func TestStartAndStop(t *testing.T) {
	f := &scriptedFetcher{}
	s := newTestScheduler(f, newMemStore(t), nil)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
}

const indexHTML = `<html><body><div data-testid="listing-grid">
<div data-cy="l-card"><a href="/d/anuncio/sofa-IDs0f4.html?reason=observed"><h4>Sofá</h4></a>
  <p data-testid="ad-price">150 €</p><p data-testid="location-date">Lisboa - Hoje às 10:15</p></div>
<div data-cy="l-card"><h4>Sem link</h4><p data-testid="ad-price">10 €</p></div>
<div data-cy="l-card"><a href="/d/anuncio/mesa-IDm3s4.html"><h4>Mesa</h4></a>
  <p data-testid="ad-price">40 €</p></div>
</div></body></html>`

func TestScrapeReconcileAcknowledgeThroughNormalizer(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t)
	raw := models.RawPage{
		Number:     1,
		URL:        "https://www.olx.pt/coracaodejesus/?page=1",
		FinalURL:   "https://www.olx.pt/coracaodejesus/?page=1",
		HTML:       indexHTML,
		EntryCount: 3,
	}
	f := &scriptedFetcher{pages: []models.RawPage{raw}}
	s := New(f, services.NewNormalizer(utils.NewNopLogger(), services.DefaultSelectors()), store, nil, nil,
		utils.NewNopLogger(), models.SourceQuery{MaxPages: 1}, Config{Interval: time.Hour, RunTimeout: time.Minute})

	first, err := s.Trigger(ctx, models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, models.RunSucceeded, first.Outcome)
	assert.Equal(t, 3, first.Fetched)
	assert.Equal(t, 2, first.Parsed)
	assert.Equal(t, 1, first.ParseSkipped)
	assert.Equal(t, 2, first.NewlyAdded)

	second, err := s.Trigger(ctx, models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 0, second.NewlyAdded)
	assert.Equal(t, 2, second.Duplicates)

	n, err := store.MarkSeen(ctx, []string{"IDs0f4"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{Total: 2, Unseen: 1}, st)

	unseen, err := store.List(ctx, models.ListFilter{IncludeSeen: false})
	require.NoError(t, err)
	require.Len(t, unseen, 1)
	assert.Equal(t, "IDm3s4", unseen[0].ID)
}

// blockingFetcher holds every call open until its context ends.
type blockingFetcher struct{ calls atomic.Int32 }

func (f *blockingFetcher) Fetch(ctx context.Context, _ models.SourceQuery, _ olx.PageHandler) error {
	f.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestStopCancelsScheduledRunAndHaltsTicks(t *testing.T) {
	f := &blockingFetcher{}
	s := New(f, listParser{}, newMemStore(t), nil, nil, utils.NewNopLogger(),
		models.SourceQuery{MaxPages: 1}, Config{Interval: time.Second, RunTimeout: time.Hour})

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.State() == StateRunning }, 5*time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop waited on the scheduled run")
	}

	calls := f.calls.Load()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, calls, f.calls.Load(), "no run starts after Stop")
	assert.Equal(t, StateIdle, s.State())

	rec := s.LastRun()
	require.NotNil(t, rec)
	assert.Equal(t, models.RunFailed, rec.Outcome)
	assert.Equal(t, "cancelled", rec.FailureKind)
}
