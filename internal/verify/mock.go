package verify

import (
	"context"
	"sync"

	"github.com/xcash-fin/loanflow/internal/model"
	"github.com/xcash-fin/loanflow/internal/service"
)

// MockFetcher is a test double for service.ReportFetcher.
type MockFetcher struct {
	mu      sync.Mutex
	reports map[string]model.Report
	errs    map[string]error
	calls   []string
}

// NewMockFetcher creates an empty mock fetcher.
func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		reports: make(map[string]model.Report),
		errs:    make(map[string]error),
	}
}

// SetReport registers the report returned for guid.
func (m *MockFetcher) SetReport(guid string, report model.Report) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[guid] = report
}

// SetError registers the error returned for guid.
func (m *MockFetcher) SetError(guid string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[guid] = err
}

// Fetch returns the configured report or error for guid.
func (m *MockFetcher) Fetch(_ context.Context, guid string) (model.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, guid)
	if err, ok := m.errs[guid]; ok {
		return model.Report{}, err
	}
	return m.reports[guid], nil
}

// Calls returns the guids fetched so far.
func (m *MockFetcher) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

var _ service.ReportFetcher = (*MockFetcher)(nil)
