package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcash-fin/loanflow/internal/common"
	"github.com/xcash-fin/loanflow/internal/model"
	"github.com/xcash-fin/loanflow/internal/service"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: serverURL, APIKey: "test-key"})
	require.NoError(t, err)
	// Fast retries for tests.
	c.retryOpts = service.RetryOptions{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   1.0,
	}
	return c
}

func TestClient_FetchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fetch/G-1", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("Auth"))
		_ = json.NewEncoder(w).Encode(model.Report{
			CreatedAt: "2024-03-15 10:00:00",
			Applicant: model.ReportApplicant{FirstName: "Jane", LastName: "Doe"},
		})
	}))
	defer server.Close()

	report, err := newTestClient(t, server.URL).Fetch(context.Background(), "G-1")
	require.NoError(t, err)
	assert.Equal(t, "Jane", report.Applicant.FirstName)
}

func TestClient_FetchRetriesWhileNotReady(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		_ = json.NewEncoder(w).Encode(model.Report{CreatedAt: "2024-03-15 10:00:00"})
	}))
	defer server.Close()

	report, err := newTestClient(t, server.URL).Fetch(context.Background(), "G-1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "2024-03-15 10:00:00", report.CreatedAt)
}

func TestClient_FetchUnavailableAfterBudget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).Fetch(context.Background(), "G-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrReportUnavailable)
}

func TestClient_FetchNotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).Fetch(context.Background(), "G-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrReportUnavailable)
	assert.Equal(t, int32(1), calls.Load(), "404 must not be retried")
}

func TestClient_FetchRetriesOnPartialBody(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			// Truncated body, as served while the report is finalizing.
			_, _ = w.Write([]byte(`{"created": "2024-03-15 10:0`))
			return
		}
		_ = json.NewEncoder(w).Encode(model.Report{CreatedAt: "2024-03-15 10:00:00"})
	}))
	defer server.Close()

	report, err := newTestClient(t, server.URL).Fetch(context.Background(), "G-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "parse failure must be retried")
	assert.Equal(t, "2024-03-15 10:00:00", report.CreatedAt)
}

func TestClient_FetchMalformedBodyExhaustsBudget(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).Fetch(context.Background(), "G-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrReportUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_FetchEmptyGUID(t *testing.T) {
	c, err := NewClient(Config{BaseURL: "http://localhost:1", APIKey: "k"})
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), "  ")
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{BaseURL: "https://api.example.com", APIKey: "k"}},
		{name: "missing base URL", cfg: Config{APIKey: "k"}, wantErr: true},
		{name: "missing API key", cfg: Config{BaseURL: "https://api.example.com"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
