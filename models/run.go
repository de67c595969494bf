package models

import "time"

// RunOutcome is the terminal state of a scrape run.
type RunOutcome string

const (
	RunSucceeded       RunOutcome = "succeeded"
	RunPartiallyFailed RunOutcome = "partially_failed"
	RunFailed          RunOutcome = "failed"
)

// RunTrigger says what started a run.
type RunTrigger string

const (
	TriggerSchedule RunTrigger = "schedule"
	TriggerManual   RunTrigger = "manual"
)

// RunRecord summarises one fetch → parse → reconcile cycle. It is built while
// the run is active and never mutated once published.
type RunRecord struct {
	ID           string     `json:"id"`
	Trigger      RunTrigger `json:"trigger"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   time.Time  `json:"finished_at"`
	Outcome      RunOutcome `json:"outcome"`
	PagesFetched int        `json:"pages_fetched"`
	Fetched      int        `json:"fetched"`
	Parsed       int        `json:"parsed"`
	ParseSkipped int        `json:"parse_skipped"`
	NewlyAdded   int        `json:"newly_added"`
	Duplicates   int        `json:"duplicates"`
	FailureKind  string     `json:"failure_kind,omitempty"`
	Failure      string     `json:"failure,omitempty"`
}

// Duration reports how long the run took.
func (r *RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
