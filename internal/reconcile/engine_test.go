package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcash-fin/loanflow/internal/corrlog"
	"github.com/xcash-fin/loanflow/internal/ledger"
	"github.com/xcash-fin/loanflow/internal/model"
	"github.com/xcash-fin/loanflow/internal/queue"
	"github.com/xcash-fin/loanflow/internal/service"
	"github.com/xcash-fin/loanflow/internal/verify"
)

// stubDecider returns a canned judgment, or an error when set.
type stubDecider struct {
	judgment model.Judgment
	err      error
	calls    int
}

func (s *stubDecider) Decide(_ context.Context, _ model.FeatureVector, _ string, _ float64) (model.Judgment, error) {
	s.calls++
	return s.judgment, s.err
}

type fixture struct {
	engine  *Engine
	log     *corrlog.Log
	queue   *queue.Store
	ledger  *ledger.SQLiteLedger
	fetcher *verify.MockFetcher
	decider *stubDecider
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	dir := t.TempDir()

	log, err := corrlog.New(filepath.Join(dir, "events.jsonl"))
	require.NoError(t, err)

	q, err := queue.New(filepath.Join(dir, "pending.json"))
	require.NoError(t, err)

	led, err := ledger.New(":memory:", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = led.Close() })

	fetcher := verify.NewMockFetcher()
	decider := &stubDecider{judgment: model.Judgment{
		Decision:  model.DecisionApproved,
		Rationale: "stable income",
	}}

	return &fixture{
		engine:  New(log, q, led, fetcher, decider, cfg, slog.Default()),
		log:     log,
		queue:   q,
		ledger:  led,
		fetcher: fetcher,
		decider: decider,
	}
}

func verifiedEvent(guid, name string) model.CorrelationEvent {
	return model.CorrelationEvent{GUID: guid, Name: name, Status: model.StatusVerified}
}

func janeReport() model.Report {
	return model.Report{
		CreatedAt: "2024-03-15 10:00:00",
		Transactions: []model.ReportTransaction{
			{Date: "2024-03-10", Details: "PAYROLL ACME", Credit: 1500, Flags: []string{"is_payroll"}},
		},
	}
}

func TestEngine_MatchedApplicantGetsDecision(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	require.NoError(t, f.log.Record(ctx, verifiedEvent("G-1", "Jane Marie Doe")))
	f.fetcher.SetReport("G-1", janeReport())
	require.NoError(t, f.queue.Upsert(ctx, model.PendingApplicant{
		FirstName: "Jane", LastName: "Doe", LoanAmount: 500,
	}))

	stats, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Removed)

	entries, err := f.queue.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	records, err := f.ledger.List(ctx, service.DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "G-1", records[0].GUID)
	assert.Equal(t, model.DecisionApproved, records[0].Decision)
	assert.Equal(t, "Jane", records[0].FirstName)
	assert.Equal(t, 500.0, records[0].LoanAmount)
}

func TestEngine_UnmatchedApplicantStaysQueued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	require.NoError(t, f.queue.Upsert(ctx, model.PendingApplicant{FirstName: "Jane", LastName: "Doe"}))

	stats, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Kept)
	assert.Empty(t, f.fetcher.Calls(), "no fetch without a match")

	entries, err := f.queue.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].GUID)
	assert.Zero(t, entries[0].Attempts, "pre-match waiting does not burn attempts")
}

func TestEngine_MatchSurvivesRequeue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{MaxAttempts: 5})

	require.NoError(t, f.log.Record(ctx, verifiedEvent("G-1", "Jane Doe")))
	f.fetcher.SetError("G-1", errors.New("provider down"))
	require.NoError(t, f.queue.Upsert(ctx, model.PendingApplicant{FirstName: "Jane", LastName: "Doe"}))

	_, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)

	entries, err := f.queue.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "G-1", entries[0].GUID, "match is remembered across cycles")
	assert.Equal(t, 1, entries[0].Attempts)
}

func TestEngine_DeadLetterAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{MaxAttempts: 2})

	require.NoError(t, f.log.Record(ctx, verifiedEvent("G-1", "Jane Doe")))
	f.fetcher.SetError("G-1", errors.New("provider down"))
	require.NoError(t, f.queue.Upsert(ctx, model.PendingApplicant{FirstName: "Jane", LastName: "Doe", LoanAmount: 400}))

	// First cycle: attempt 1, kept.
	_, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	entries, err := f.queue.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Second cycle: attempt 2 hits the threshold.
	_, err = f.engine.RunCycle(ctx)
	require.NoError(t, err)

	entries, err = f.queue.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries, "dead-lettered entry leaves the queue")

	records, err := f.ledger.List(ctx, service.DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.DecisionError, records[0].Decision)
	assert.Contains(t, records[0].Rationale, "abandoned after 2 attempts")
	assert.Equal(t, 400.0, records[0].LoanAmount)
}

// flakyLedger fails Append for regular decisions while letting the
// dead-letter Error record through.
type flakyLedger struct {
	*ledger.SQLiteLedger
}

func (f *flakyLedger) Append(ctx context.Context, record model.DecisionRecord) (bool, error) {
	if record.Decision != model.DecisionError {
		return false, errors.New("disk full")
	}
	return f.SQLiteLedger.Append(ctx, record)
}

func TestEngine_LedgerFailureDeadLettersWithErrorRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	flaky := &flakyLedger{SQLiteLedger: f.ledger}
	engine := New(f.log, f.queue, flaky, f.fetcher, f.decider, Config{MaxAttempts: 2}, slog.Default())

	require.NoError(t, f.log.Record(ctx, verifiedEvent("G-1", "Jane Doe")))
	f.fetcher.SetReport("G-1", janeReport())
	require.NoError(t, f.queue.Upsert(ctx, model.PendingApplicant{FirstName: "Jane", LastName: "Doe", LoanAmount: 400}))

	_, err := engine.RunCycle(ctx)
	require.NoError(t, err)
	_, err = engine.RunCycle(ctx)
	require.NoError(t, err)

	entries, err := f.queue.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	records, err := f.ledger.List(ctx, service.DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1, "dead-lettering on ledger failure still leaves a trace")
	assert.Equal(t, model.DecisionError, records[0].Decision)
	assert.Contains(t, records[0].Rationale, "abandoned after 2 attempts")
	assert.Equal(t, 400.0, records[0].LoanAmount)
}

func TestEngine_RunCycleWithProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	require.NoError(t, f.log.Record(ctx, verifiedEvent("G-1", "Jane Doe")))
	f.fetcher.SetReport("G-1", janeReport())
	require.NoError(t, f.queue.Upsert(ctx, model.PendingApplicant{FirstName: "Jane", LastName: "Doe"}))
	require.NoError(t, f.queue.Upsert(ctx, model.PendingApplicant{FirstName: "John", LastName: "Roe"}))

	var seen []string
	stats, err := f.engine.RunCycleWithProgress(ctx, func(a model.PendingApplicant) {
		seen = append(seen, a.Key())
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processed)
	assert.Len(t, seen, 2, "callback fires once per entry")
}

func TestEngine_DeciderTransportFailureRequeues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{MaxAttempts: 3})

	require.NoError(t, f.log.Record(ctx, verifiedEvent("G-1", "Jane Doe")))
	f.fetcher.SetReport("G-1", janeReport())
	f.decider.err = errors.New("model unavailable")
	require.NoError(t, f.queue.Upsert(ctx, model.PendingApplicant{FirstName: "Jane", LastName: "Doe"}))

	_, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)

	entries, err := f.queue.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Attempts)

	records, err := f.ledger.List(ctx, service.DecisionFilter{})
	require.NoError(t, err)
	assert.Empty(t, records, "no decision recorded on transient failure")
}

func TestEngine_PerApplicantIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	require.NoError(t, f.log.Record(ctx, verifiedEvent("G-1", "Jane Doe")))
	require.NoError(t, f.log.Record(ctx, verifiedEvent("G-2", "John Roe")))
	f.fetcher.SetError("G-1", errors.New("provider down"))
	f.fetcher.SetReport("G-2", janeReport())

	require.NoError(t, f.queue.Upsert(ctx, model.PendingApplicant{FirstName: "Jane", LastName: "Doe"}))
	require.NoError(t, f.queue.Upsert(ctx, model.PendingApplicant{FirstName: "John", LastName: "Roe"}))

	stats, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, 1, stats.Kept)

	records, err := f.ledger.List(ctx, service.DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "G-2", records[0].GUID)
}

func TestEngine_ReprocessingSameReportDeduplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	require.NoError(t, f.log.Record(ctx, verifiedEvent("G-1", "Jane Doe")))
	f.fetcher.SetReport("G-1", janeReport())

	require.NoError(t, f.queue.Upsert(ctx, model.PendingApplicant{FirstName: "Jane", LastName: "Doe"}))
	_, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)

	// Same applicant resubmits; the same report yields the same dedup key.
	require.NoError(t, f.queue.Upsert(ctx, model.PendingApplicant{FirstName: "Jane", LastName: "Doe"}))
	_, err = f.engine.RunCycle(ctx)
	require.NoError(t, err)

	records, err := f.ledger.List(ctx, service.DecisionFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 1, "replayed report must not duplicate the decision")
}

func TestEngine_ProcessDirect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	// No verified event yet: caller should queue.
	_, done, err := f.engine.ProcessDirect(ctx, model.PendingApplicant{FirstName: "Jane", LastName: "Doe"})
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, f.log.Record(ctx, verifiedEvent("G-1", "Jane Doe")))
	f.fetcher.SetReport("G-1", janeReport())

	record, done, err := f.engine.ProcessDirect(ctx, model.PendingApplicant{
		FirstName: "Jane", LastName: "Doe", LoanAmount: 500,
	})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, model.DecisionApproved, record.Decision)

	records, err := f.ledger.List(ctx, service.DecisionFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
