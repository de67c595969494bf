package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"

	"olx-watcher/metrics"
	"olx-watcher/models"
	"olx-watcher/scraper/olx"
	"olx-watcher/services"
	"olx-watcher/storage"
	"olx-watcher/utils"
)

// ErrAlreadyRunning is returned by Trigger while another run is active.
var ErrAlreadyRunning = eris.New("scrape run already in progress")

// State is the scheduler's run state. A run leaves Running through one of
// the terminal outcomes recorded on its RunRecord and returns to Idle.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Fetcher streams rendered pages to a handler.
type Fetcher interface {
	Fetch(ctx context.Context, q models.SourceQuery, handle olx.PageHandler) error
}

// Parser turns a rendered page into candidates.
type Parser interface {
	Parse(page models.RawPage) services.PageResult
}

// Config holds the scheduler's timing settings.
type Config struct {
	Interval   time.Duration
	RunTimeout time.Duration
}

// Scheduler runs fetch → parse → reconcile cycles, periodically and on
// demand, with at most one run active at a time.
type Scheduler struct {
	fetcher Fetcher
	parser  Parser
	store   storage.Store
	history storage.RunHistory
	metrics *metrics.Metrics
	logger  *utils.Logger
	query   models.SourceQuery
	cfg     Config

	now   func() time.Time
	newID func() string

	running atomic.Bool
	lastRun atomic.Pointer[models.RunRecord]

	mu     sync.Mutex
	cancel context.CancelFunc
	cron   *cron.Cron
	// stopTicks cancels the parent of scheduled runs.
	stopTicks context.CancelFunc
}

// New creates a Scheduler. m may be nil.
func New(
	fetcher Fetcher,
	parser Parser,
	store storage.Store,
	history storage.RunHistory,
	m *metrics.Metrics,
	logger *utils.Logger,
	query models.SourceQuery,
	cfg Config,
) *Scheduler {
	return &Scheduler{
		fetcher: fetcher,
		parser:  parser,
		store:   store,
		history: history,
		metrics: m,
		logger:  logger,
		query:   query,
		cfg:     cfg,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Start schedules a run every cfg.Interval until Stop. ctx is the parent of
// every scheduled run.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return eris.New("scheduler already started")
	}

	tickCtx, stopTicks := context.WithCancel(ctx)
	c := cron.New(
		cron.WithLogger(cronLogger{s.logger}),
		cron.WithChain(cron.Recover(cronLogger{s.logger})),
	)
	if _, err := c.AddFunc("@every "+s.cfg.Interval.String(), func() {
		if tickCtx.Err() != nil {
			return
		}
		if _, err := s.Trigger(tickCtx, models.TriggerSchedule); errors.Is(err, ErrAlreadyRunning) {
			s.logger.Info("[scheduler] Tick skipped, a run is already active")
		}
	}); err != nil {
		stopTicks()
		return eris.Wrap(err, "scheduler: register periodic run")
	}
	c.Start()
	s.cron = c
	s.stopTicks = stopTicks

	s.logger.Info("[scheduler] Started, interval %s", s.cfg.Interval)
	return nil
}

// Stop halts the periodic trigger, cancels an active run, and waits for a
// scheduled run to finish. No scheduled run starts once Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, stopTicks := s.cron, s.stopTicks
	s.cron, s.stopTicks = nil, nil
	s.mu.Unlock()

	if c == nil {
		s.Cancel()
		return
	}
	done := c.Stop()
	stopTicks()
	s.Cancel()
	<-done.Done()
	s.logger.Info("[scheduler] Stopped")
}

// State reports whether a run is active.
func (s *Scheduler) State() State {
	if s.running.Load() {
		return StateRunning
	}
	return StateIdle
}

// LastRun returns the most recent finished run, or nil.
func (s *Scheduler) LastRun() *models.RunRecord {
	return s.lastRun.Load()
}

// History returns up to n finished runs, newest first.
func (s *Scheduler) History(ctx context.Context, n int) ([]*models.RunRecord, error) {
	if s.history == nil {
		return []*models.RunRecord{}, nil
	}
	return s.history.Recent(ctx, n)
}

// Cancel asks the active run to stop at its next page checkpoint. It reports
// whether a run was active.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Trigger runs one cycle synchronously and returns its record. Fetch,
// cancellation and store failures are reported in the record, not as an
// error; the only error is ErrAlreadyRunning. A failed run is not retried.
func (s *Scheduler) Trigger(ctx context.Context, trigger models.RunTrigger) (*models.RunRecord, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.Rejected()
		return nil, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	s.metrics.SetRunning(true)
	defer s.metrics.SetRunning(false)

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if s.cfg.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	rec := &models.RunRecord{
		ID:        s.newID(),
		Trigger:   trigger,
		StartedAt: s.now().UTC(),
	}
	s.logger.Info("[scheduler] Run %s started (%s)", rec.ID, trigger)

	err := s.fetcher.Fetch(runCtx, s.query, func(page models.RawPage) error {
		return s.processPage(runCtx, rec, page)
	})
	s.finish(ctx, runCtx, rec, err)
	return rec, nil
}

type storeError struct{ err error }

func (e *storeError) Error() string { return "store: " + e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

// processPage parses and reconciles one page. It ignores cancellation of the
// run so a page is never half reconciled.
func (s *Scheduler) processPage(runCtx context.Context, rec *models.RunRecord, page models.RawPage) error {
	res := s.parser.Parse(page)

	rec.PagesFetched++
	rec.Fetched += page.EntryCount
	rec.Parsed += len(res.Candidates)
	rec.ParseSkipped += len(res.Skipped)

	rr, err := s.store.Reconcile(context.WithoutCancel(runCtx), res.Candidates)
	if err != nil {
		return &storeError{err: err}
	}
	rec.NewlyAdded += rr.NewlyAdded
	rec.Duplicates += rr.Duplicates

	s.logger.Info("[scheduler] Page %d: %d new, %d duplicates, %d skipped",
		page.Number, rr.NewlyAdded, rr.Duplicates, len(res.Skipped))
	return nil
}

func (s *Scheduler) finish(parent, runCtx context.Context, rec *models.RunRecord, err error) {
	rec.Outcome, rec.FailureKind = classify(runCtx, err, rec.PagesFetched)
	if err != nil {
		rec.Failure = err.Error()
	}
	rec.FinishedAt = s.now().UTC()

	s.lastRun.Store(rec)
	s.metrics.ObserveRun(rec)

	bg := context.WithoutCancel(parent)
	if s.history != nil {
		if herr := s.history.Record(bg, rec); herr != nil {
			s.logger.Warn("[scheduler] Could not record run %s: %v", rec.ID, herr)
		}
	}
	if st, serr := s.store.Stats(bg); serr == nil {
		s.metrics.ObserveStats(st)
	}

	switch rec.Outcome {
	case models.RunSucceeded:
		s.logger.Info("[scheduler] Run %s succeeded in %s: %d pages, %d new, %d duplicates",
			rec.ID, rec.Duration(), rec.PagesFetched, rec.NewlyAdded, rec.Duplicates)
	default:
		s.logger.Warn("[scheduler] Run %s %s after %d pages (%s): %s",
			rec.ID, rec.Outcome, rec.PagesFetched, rec.FailureKind, rec.Failure)
	}
}

// classify maps a run's terminal error to its outcome. Store failures always
// fail the run; anything else fails it only if no page was processed.
func classify(runCtx context.Context, err error, pages int) (models.RunOutcome, string) {
	if err == nil {
		return models.RunSucceeded, ""
	}

	var se *storeError
	if errors.As(err, &se) {
		return models.RunFailed, "store"
	}

	kind := "internal"
	var fe *olx.FetchError
	switch {
	case errors.As(err, &fe):
		kind = string(fe.Kind)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded):
		kind = "run_timeout"
	case errors.Is(err, context.Canceled):
		kind = "cancelled"
	}

	if pages == 0 {
		return models.RunFailed, kind
	}
	return models.RunPartiallyFailed, kind
}

// cronLogger adapts utils.Logger to cron.Logger.
type cronLogger struct{ l *utils.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("[cron] %s %v", msg, keysAndValues)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("[cron] %s: %v %v", msg, err, keysAndValues)
}
