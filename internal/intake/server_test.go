package intake

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcash-fin/loanflow/internal/corrlog"
	"github.com/xcash-fin/loanflow/internal/ledger"
	"github.com/xcash-fin/loanflow/internal/model"
	"github.com/xcash-fin/loanflow/internal/queue"
)

// stubProcessor controls the fast-path outcome.
type stubProcessor struct {
	record model.DecisionRecord
	done   bool
	err    error
}

func (s *stubProcessor) ProcessDirect(_ context.Context, _ model.PendingApplicant) (model.DecisionRecord, bool, error) {
	return s.record, s.done, s.err
}

type testEnv struct {
	server *Server
	log    *corrlog.Log
	queue  *queue.Store
	ledger *ledger.SQLiteLedger
}

func newTestEnv(t *testing.T, processor DirectProcessor, cfg Config) *testEnv {
	t.Helper()
	dir := t.TempDir()

	log, err := corrlog.New(filepath.Join(dir, "events.jsonl"))
	require.NoError(t, err)
	q, err := queue.New(filepath.Join(dir, "pending.json"))
	require.NoError(t, err)
	led, err := ledger.New(":memory:", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = led.Close() })

	return &testEnv{
		server: NewServer(log, q, led, processor, cfg, slog.Default()),
		log:    log,
		queue:  q,
		ledger: led,
	}
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestVerificationWebhook_RecordsEvent(t *testing.T) {
	env := newTestEnv(t, nil, Config{})

	rec := postJSON(t, env.server.Handler(), "/webhook/verification",
		`{"guid": "G-1", "name": "Jane Doe", "status": "verified"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "logged", decodeBody(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	guid, ok, err := env.log.FindVerifiedGUID(context.Background(), "Jane", "Doe")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "G-1", guid)
}

func TestVerificationWebhook_MalformedBodyRecordedAndAcked(t *testing.T) {
	env := newTestEnv(t, nil, Config{})

	rec := postJSON(t, env.server.Handler(), "/webhook/verification", "{not json")

	assert.Equal(t, http.StatusOK, rec.Code, "provider retries on non-200; never bounce garbage")
	assert.Equal(t, "ignored", decodeBody(t, rec)["status"])

	// The notice is still durably recorded, tagged so it can never match.
	events, err := env.log.Events(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.StatusUnparseable, events[0].Status)
	assert.Equal(t, "{not json", events[0].Raw)
	assert.False(t, events[0].Actionable())
	assert.False(t, events[0].ReceivedAt.IsZero())
}

func TestVerificationWebhook_Forwarding(t *testing.T) {
	received := make(chan string, 1)
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event model.CorrelationEvent
		_ = json.NewDecoder(r.Body).Decode(&event)
		received <- event.GUID
	}))
	defer downstream.Close()

	env := newTestEnv(t, nil, Config{ForwardURL: downstream.URL})

	rec := postJSON(t, env.server.Handler(), "/webhook/verification",
		`{"guid": "G-9", "name": "Jane Doe", "status": "verified"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case guid := <-received:
		assert.Equal(t, "G-9", guid)
	case <-time.After(2 * time.Second):
		t.Fatal("forward never arrived")
	}
}

func TestLoanWebhook_QueuesWhenNoMatch(t *testing.T) {
	env := newTestEnv(t, &stubProcessor{done: false}, Config{})

	rec := postJSON(t, env.server.Handler(), "/webhook/loan",
		`{"first_name": "Jane", "last_name": "Doe", "loan_amount": "$1,500", "address": "1 Main St, Toronto ON"}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "pending", decodeBody(t, rec)["status"])

	entries, err := env.queue.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Jane", entries[0].FirstName)
	assert.Equal(t, 1500.0, entries[0].LoanAmount)
	assert.Equal(t, model.DefaultLoanType, entries[0].LoanType)
}

func TestLoanWebhook_FormEncoded(t *testing.T) {
	env := newTestEnv(t, nil, Config{})

	form := url.Values{}
	form.Set("first_name", "John")
	form.Set("last_name", "Roe")
	form.Set("loan_amount", "750")
	req := httptest.NewRequest(http.MethodPost, "/webhook/loan", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	entries, err := env.queue.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 750.0, entries[0].LoanAmount)
}

func TestLoanWebhook_FastPathDecision(t *testing.T) {
	processor := &stubProcessor{
		record: model.DecisionRecord{Decision: model.DecisionApproved},
		done:   true,
	}
	env := newTestEnv(t, processor, Config{})

	rec := postJSON(t, env.server.Handler(), "/webhook/loan",
		`{"first_name": "Jane", "last_name": "Doe", "loan_amount": 500}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "decided", body["status"])
	assert.Equal(t, "Approved", body["decision"])

	entries, err := env.queue.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries, "decided submissions bypass the queue")
}

func TestLoanWebhook_FastPathFailureFallsBackToQueue(t *testing.T) {
	processor := &stubProcessor{err: assert.AnError}
	env := newTestEnv(t, processor, Config{})

	rec := postJSON(t, env.server.Handler(), "/webhook/loan",
		`{"first_name": "Jane", "last_name": "Doe"}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	entries, err := env.queue.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoanWebhook_ProvinceGate(t *testing.T) {
	env := newTestEnv(t, nil, Config{ServiceableProvinces: []string{"ON", "BC"}})

	rec := postJSON(t, env.server.Handler(), "/webhook/loan",
		`{"first_name": "Jane", "last_name": "Doe", "address": "12 Rue Principale, Montreal, Quebec"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "skipped", body["status"])
	assert.Equal(t, "QC", body["province"])

	entries, err := env.queue.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)

	skipped, err := env.ledger.ListSkipped(context.Background())
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, "QC", skipped[0].DetectedProvince)
}

func TestLoanWebhook_UnknownProvincePassesGate(t *testing.T) {
	env := newTestEnv(t, nil, Config{ServiceableProvinces: []string{"ON"}})

	rec := postJSON(t, env.server.Handler(), "/webhook/loan",
		`{"first_name": "Jane", "last_name": "Doe", "address": "somewhere"}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestLoanWebhook_MissingNames(t *testing.T) {
	env := newTestEnv(t, nil, Config{})

	rec := postJSON(t, env.server.Handler(), "/webhook/loan", `{"loan_amount": 500}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecisionsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil, Config{})

	ts := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	_, err := env.ledger.Append(context.Background(), model.DecisionRecord{
		GUID: "G-1", Timestamp: ts, FirstName: "Jane", LastName: "Doe",
		Decision: model.DecisionApproved, LoanAmount: 500,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/decisions?decision=Approved&limit=10", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var records []model.DecisionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "G-1", records[0].GUID)
}

func TestDecisionsEndpoint_BadSince(t *testing.T) {
	env := newTestEnv(t, nil, Config{})

	req := httptest.NewRequest(http.MethodGet, "/decisions?since=yesterday", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecisionsEndpoint_EmptyLedgerIsEmptyArray(t *testing.T) {
	env := newTestEnv(t, nil, Config{})

	req := httptest.NewRequest(http.MethodGet, "/decisions", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil, Config{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}
