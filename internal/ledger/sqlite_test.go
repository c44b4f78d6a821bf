package ledger

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcash-fin/loanflow/internal/model"
	"github.com/xcash-fin/loanflow/internal/service"
)

func newTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	s, err := New(":memory:", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(guid string, ts time.Time, decision model.Decision) model.DecisionRecord {
	return model.DecisionRecord{
		GUID:       guid,
		Timestamp:  ts,
		FirstName:  "Jane",
		LastName:   "Doe",
		LoanAmount: 500,
		Decision:   decision,
		Rationale:  "test",
	}
}

func TestLedger_AppendAndList(t *testing.T) {
	ctx := context.Background()
	s := newTestLedger(t)

	ts := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	amount := 350.0
	r := record("G-1", ts, model.DecisionApprovedLower)
	r.ApprovedAmount = &amount

	inserted, err := s.Append(ctx, r)
	require.NoError(t, err)
	assert.True(t, inserted)

	records, err := s.List(ctx, service.DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "G-1", records[0].GUID)
	assert.Equal(t, model.DecisionApprovedLower, records[0].Decision)
	require.NotNil(t, records[0].ApprovedAmount)
	assert.Equal(t, 350.0, *records[0].ApprovedAmount)
	assert.True(t, ts.Equal(records[0].Timestamp))
}

func TestLedger_AppendDeduplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestLedger(t)

	ts := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	r := record("G-1", ts, model.DecisionApproved)

	inserted, err := s.Append(ctx, r)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same guid and timestamp: a replayed decision, not a new one.
	r.Rationale = "replayed"
	inserted, err = s.Append(ctx, r)
	require.NoError(t, err)
	assert.False(t, inserted)

	records, err := s.List(ctx, service.DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "test", records[0].Rationale, "first write wins")
}

func TestLedger_AppendSameGUIDDifferentTimestamp(t *testing.T) {
	ctx := context.Background()
	s := newTestLedger(t)

	ts := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	inserted, err := s.Append(ctx, record("G-1", ts, model.DecisionDeclined))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.Append(ctx, record("G-1", ts.Add(time.Hour), model.DecisionApproved))
	require.NoError(t, err)
	assert.True(t, inserted, "a later re-evaluation is a distinct record")

	records, err := s.List(ctx, service.DecisionFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestLedger_AppendRejectsUnknownDecision(t *testing.T) {
	ctx := context.Background()
	s := newTestLedger(t)

	_, err := s.Append(ctx, record("G-1", time.Now(), model.Decision("Maybe")))
	require.Error(t, err)
}

func TestLedger_ListOrderedAndFiltered(t *testing.T) {
	ctx := context.Background()
	s := newTestLedger(t)

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	decisions := []model.Decision{model.DecisionApproved, model.DecisionDeclined, model.DecisionError}
	for i, d := range decisions {
		r := record("G-"+string(rune('1'+i)), base.Add(time.Duration(i)*time.Hour), d)
		if i == 2 {
			r.FirstName = "John"
			r.LastName = "Roe"
		}
		_, err := s.Append(ctx, r)
		require.NoError(t, err)
	}

	records, err := s.List(ctx, service.DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, model.DecisionError, records[0].Decision, "most recent first")

	since := base.Add(30 * time.Minute)
	records, err = s.List(ctx, service.DecisionFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = s.List(ctx, service.DecisionFilter{Decision: model.DecisionDeclined})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.DecisionDeclined, records[0].Decision)

	records, err = s.List(ctx, service.DecisionFilter{Name: "roe"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "John", records[0].FirstName)

	records, err = s.List(ctx, service.DecisionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestLedger_SkippedApplicants(t *testing.T) {
	ctx := context.Background()
	s := newTestLedger(t)

	require.NoError(t, s.AppendSkipped(ctx, model.SkippedApplicant{
		Timestamp:        time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC),
		FirstName:        "Jane",
		LastName:         "Doe",
		Address:          "1 Main St, Quebec City QC",
		DetectedProvince: "QC",
	}))
	require.NoError(t, s.AppendSkipped(ctx, model.SkippedApplicant{
		Timestamp:        time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC),
		FirstName:        "John",
		LastName:         "Roe",
		DetectedProvince: "SK",
	}))

	skipped, err := s.ListSkipped(ctx)
	require.NoError(t, err)
	require.Len(t, skipped, 2)
	assert.Equal(t, "John", skipped[0].FirstName, "most recent first")
	assert.Equal(t, "QC", skipped[1].DetectedProvince)
}

func TestLedger_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	s, err := New(path, slog.Default())
	require.NoError(t, err)
	_, err = s.Append(ctx, record("G-1", time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC), model.DecisionApproved))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := New(path, slog.Default())
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	records, err := reopened.List(ctx, service.DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "G-1", records[0].GUID)
}
