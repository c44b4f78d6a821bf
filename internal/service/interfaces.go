// Package service defines the interfaces between the pipeline's components.
package service

import (
	"context"
	"time"

	"github.com/xcash-fin/loanflow/internal/model"
)

// RetryOptions configures retry behavior for operations against external
// services. A Multiplier of 1.0 gives a fixed delay between attempts.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// CorrelationLog is the durable, append-only record of verification events.
type CorrelationLog interface {
	// Record appends the event durably; it must not return before the
	// write has been flushed to stable storage.
	Record(ctx context.Context, event model.CorrelationEvent) error
	// FindVerifiedGUID returns the correlation id of the most recent
	// verified event whose name contains both fragments. ok is false when
	// no such event exists.
	FindVerifiedGUID(ctx context.Context, firstName, lastName string) (guid string, ok bool, err error)
}

// DrainOutcome tells the pending queue what to do with an entry after one
// processing pass.
type DrainOutcome int

// Drain outcomes.
const (
	// KeepEntry requeues the (possibly updated) applicant for the next cycle.
	KeepEntry DrainOutcome = iota
	// RemoveEntry drops the applicant from the queue.
	RemoveEntry
)

// DrainFunc processes one pending applicant during a drain cycle. The
// returned applicant replaces the stored entry when the outcome is
// KeepEntry, so matched GUIDs and attempt counters survive requeueing.
type DrainFunc func(ctx context.Context, applicant model.PendingApplicant) (model.PendingApplicant, DrainOutcome)

// DrainStats summarizes one drain cycle.
type DrainStats struct {
	Processed int
	Removed   int
	Kept      int
}

// PendingQueue is the durable working set of unmatched applicants.
type PendingQueue interface {
	Upsert(ctx context.Context, applicant model.PendingApplicant) error
	Snapshot(ctx context.Context) ([]model.PendingApplicant, error)
	Drain(ctx context.Context, fn DrainFunc) (DrainStats, error)
}

// DecisionLedger is the durable, deduplicated append log of decisions.
type DecisionLedger interface {
	// Append writes the record unless its dedup key already exists.
	// inserted is false for a deduplicated no-op.
	Append(ctx context.Context, record model.DecisionRecord) (inserted bool, err error)
	List(ctx context.Context, filter DecisionFilter) ([]model.DecisionRecord, error)
	AppendSkipped(ctx context.Context, skipped model.SkippedApplicant) error
	ListSkipped(ctx context.Context) ([]model.SkippedApplicant, error)
	Close() error
}

// DecisionFilter narrows the ledger's chronological read view.
type DecisionFilter struct {
	Since    *time.Time
	Decision model.Decision
	Name     string
	Limit    int
}

// ReportFetcher retrieves a structured financial report for a correlation
// id. Implementations retry internally on "not ready" with a bounded budget
// and return common.ErrReportUnavailable once it is spent.
type ReportFetcher interface {
	Fetch(ctx context.Context, guid string) (model.Report, error)
}

// Decider turns a feature vector plus narrative into a normalized judgment.
// Malformed model output is coerced to a DecisionError judgment, never an
// error; errors indicate transport-level failure only.
type Decider interface {
	Decide(ctx context.Context, features model.FeatureVector, narrative string, loanAmount float64) (model.Judgment, error)
}
