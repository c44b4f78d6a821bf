// Package reconcile drives pending applicants through match, report fetch,
// feature extraction and decision, and records the outcome.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xcash-fin/loanflow/internal/common"
	"github.com/xcash-fin/loanflow/internal/features"
	"github.com/xcash-fin/loanflow/internal/model"
	"github.com/xcash-fin/loanflow/internal/service"
	"github.com/xcash-fin/loanflow/internal/verify"
)

// Config tunes the reconciliation engine.
type Config struct {
	// WindowDays is the feature extraction window.
	WindowDays int
	// MaxAttempts is how many post-match failures an applicant survives
	// before being dead-lettered with an Error decision.
	MaxAttempts int
	// OnProcessed, when set, is called after each queue entry has been
	// handled. The CLI uses it for progress reporting.
	OnProcessed func(applicant model.PendingApplicant)
}

// DefaultMaxAttempts is the dead-letter threshold used when none is
// configured.
const DefaultMaxAttempts = 5

// Engine coordinates one reconciliation pass over the pending queue.
type Engine struct {
	log     service.CorrelationLog
	queue   service.PendingQueue
	ledger  service.DecisionLedger
	fetcher service.ReportFetcher
	decider service.Decider
	logger  *slog.Logger
	cfg     Config
}

// New creates a reconciliation engine.
func New(log service.CorrelationLog, queue service.PendingQueue, ledger service.DecisionLedger,
	fetcher service.ReportFetcher, decider service.Decider, cfg Config, logger *slog.Logger) *Engine {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = features.DefaultWindowDays
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		log:     log,
		queue:   queue,
		ledger:  ledger,
		fetcher: fetcher,
		decider: decider,
		logger:  logger,
		cfg:     cfg,
	}
}

// RunCycle drains the pending queue once. Each entry is processed in
// isolation: one applicant's failure never blocks the rest of the cycle.
func (e *Engine) RunCycle(ctx context.Context) (service.DrainStats, error) {
	return e.RunCycleWithProgress(ctx, e.cfg.OnProcessed)
}

// RunCycleWithProgress is RunCycle with a per-entry callback, invoked after
// each queue entry has been handled.
func (e *Engine) RunCycleWithProgress(ctx context.Context, fn func(model.PendingApplicant)) (service.DrainStats, error) {
	stats, err := e.queue.Drain(ctx, func(ctx context.Context, applicant model.PendingApplicant) (model.PendingApplicant, service.DrainOutcome) {
		updated, outcome := e.processEntry(ctx, applicant)
		if fn != nil {
			fn(applicant)
		}
		return updated, outcome
	})
	if err != nil {
		if errors.Is(err, common.ErrLockTimeout) {
			e.logger.Warn("skipping cycle, another drain is in progress")
			return stats, err
		}
		return stats, fmt.Errorf("drain failed: %w", err)
	}
	e.logger.Info("reconciliation cycle complete",
		"processed", stats.Processed,
		"removed", stats.Removed,
		"kept", stats.Kept)
	return stats, nil
}

// processEntry advances one applicant as far as possible this cycle.
func (e *Engine) processEntry(ctx context.Context, applicant model.PendingApplicant) (model.PendingApplicant, service.DrainOutcome) {
	logger := e.logger.With("applicant", applicant.Key())

	if applicant.GUID == "" {
		guid, ok, err := e.log.FindVerifiedGUID(ctx, applicant.FirstName, applicant.LastName)
		if err != nil {
			logger.Error("correlation lookup failed", "error", err)
			return applicant, service.KeepEntry
		}
		if !ok {
			// No verified event yet; wait for the next cycle.
			return applicant, service.KeepEntry
		}
		applicant.GUID = guid
		logger.Info("matched verification event", "guid", guid)
	}

	record, err := e.evaluate(ctx, applicant)
	if err != nil {
		applicant.Attempts++
		if applicant.Attempts >= e.cfg.MaxAttempts {
			logger.Error("dead-lettering applicant after repeated failures",
				"attempts", applicant.Attempts, "error", err)
			e.recordError(ctx, applicant, err)
			return applicant, service.RemoveEntry
		}
		logger.Warn("evaluation failed, requeueing",
			"attempts", applicant.Attempts, "error", err)
		return applicant, service.KeepEntry
	}

	inserted, err := e.ledger.Append(ctx, record)
	if err != nil {
		applicant.Attempts++
		if applicant.Attempts >= e.cfg.MaxAttempts {
			logger.Error("dead-lettering applicant, ledger append keeps failing", "error", err)
			e.recordError(ctx, applicant, err)
			return applicant, service.RemoveEntry
		}
		logger.Error("failed to record decision, requeueing", "error", err)
		return applicant, service.KeepEntry
	}
	if !inserted {
		logger.Info("decision already recorded", "guid", applicant.GUID)
	} else {
		logger.Info("decision recorded",
			"guid", applicant.GUID,
			"decision", string(record.Decision))
	}
	return applicant, service.RemoveEntry
}

// evaluate runs the post-match pipeline: fetch, extract, render, decide.
func (e *Engine) evaluate(ctx context.Context, applicant model.PendingApplicant) (model.DecisionRecord, error) {
	report, err := e.fetcher.Fetch(ctx, applicant.GUID)
	if err != nil {
		return model.DecisionRecord{}, fmt.Errorf("report fetch: %w", err)
	}

	vector := features.Extract(report, e.cfg.WindowDays)
	narrative := verify.RenderText(report)

	judgment, err := e.decider.Decide(ctx, vector, narrative, applicant.LoanAmount)
	if err != nil {
		return model.DecisionRecord{}, fmt.Errorf("decision: %w", err)
	}

	return e.buildRecord(applicant, report, judgment), nil
}

// buildRecord binds a judgment to the applicant. The record timestamp is the
// report's completion time when available, so reprocessing the same report
// deduplicates instead of appending again.
func (e *Engine) buildRecord(applicant model.PendingApplicant, report model.Report, judgment model.Judgment) model.DecisionRecord {
	ts := report.CompletedAt()
	if ts.IsZero() {
		ts = time.Now()
	}
	return model.DecisionRecord{
		Timestamp:      ts,
		GUID:           applicant.GUID,
		FirstName:      applicant.FirstName,
		LastName:       applicant.LastName,
		LoanAmount:     applicant.LoanAmount,
		Decision:       judgment.Decision,
		ApprovedAmount: judgment.ApprovedAmount,
		Rationale:      judgment.Rationale,
	}
}

// recordError writes the dead-letter Error decision so the applicant is
// never silently dropped. A ledger failure here is logged and given up on;
// the next operator review of the queue file will not show the entry, but
// the error log names it.
func (e *Engine) recordError(ctx context.Context, applicant model.PendingApplicant, cause error) {
	record := model.DecisionRecord{
		Timestamp:  time.Now(),
		GUID:       applicant.GUID,
		FirstName:  applicant.FirstName,
		LastName:   applicant.LastName,
		LoanAmount: applicant.LoanAmount,
		Decision:   model.DecisionError,
		Rationale:  fmt.Sprintf("abandoned after %d attempts: %v", applicant.Attempts, cause),
	}
	if _, err := e.ledger.Append(ctx, record); err != nil {
		e.logger.Error("failed to record dead-letter decision",
			"applicant", applicant.Key(), "error", err)
	}
}

// ProcessDirect evaluates one applicant immediately, bypassing the queue.
// Used by intake when the verification event already arrived. done is false
// when no verified event matches and the caller should queue the applicant.
func (e *Engine) ProcessDirect(ctx context.Context, applicant model.PendingApplicant) (record model.DecisionRecord, done bool, err error) {
	applicant.Normalize()

	if applicant.GUID == "" {
		guid, ok, findErr := e.log.FindVerifiedGUID(ctx, applicant.FirstName, applicant.LastName)
		if findErr != nil {
			return model.DecisionRecord{}, false, findErr
		}
		if !ok {
			return model.DecisionRecord{}, false, nil
		}
		applicant.GUID = guid
	}

	record, err = e.evaluate(ctx, applicant)
	if err != nil {
		return model.DecisionRecord{}, false, err
	}
	if _, err := e.ledger.Append(ctx, record); err != nil {
		return model.DecisionRecord{}, false, fmt.Errorf("failed to record decision: %w", err)
	}
	return record, true, nil
}
