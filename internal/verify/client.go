// Package verify retrieves structured financial reports from the bank
// verification provider and renders them for downstream consumers.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/xcash-fin/loanflow/internal/common"
	"github.com/xcash-fin/loanflow/internal/model"
	"github.com/xcash-fin/loanflow/internal/service"
)

// Config holds verification provider configuration.
type Config struct {
	BaseURL string
	APIKey  string
}

// Validate ensures all required fields are present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("verification base URL is required")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("verification API key is required")
	}
	return nil
}

// Client implements service.ReportFetcher against the provider's fetch API.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	retryOpts  service.RetryOptions
	baseURL    string
	apiKey     string
}

// NewClient creates a report fetch client. Retries are fixed-interval: the
// provider signals "not ready" while the report is still being assembled,
// and backing off further just delays the pipeline.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  slog.Default().With("component", "verify"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retryOpts: service.RetryOptions{
			MaxAttempts:  5,
			InitialDelay: 5 * time.Second,
			MaxDelay:     5 * time.Second,
			Multiplier:   1.0,
		},
	}, nil
}

// Fetch retrieves the report for a correlation id, retrying while the
// provider reports it is not ready. Once the retry budget is spent the
// report is considered unavailable.
func (c *Client) Fetch(ctx context.Context, guid string) (model.Report, error) {
	if strings.TrimSpace(guid) == "" {
		return model.Report{}, fmt.Errorf("guid must not be empty")
	}

	var report model.Report
	err := common.WithRetry(ctx, func() error {
		r, fetchErr := c.fetchOnce(ctx, guid)
		if fetchErr != nil {
			return fetchErr
		}
		report = r
		return nil
	}, c.retryOpts)

	if err != nil {
		if ctx.Err() != nil {
			return model.Report{}, err
		}
		c.logger.Warn("report fetch failed", "guid", guid, "error", err)
		return model.Report{}, fmt.Errorf("%w: %v", common.ErrReportUnavailable, err)
	}
	return report, nil
}

func (c *Client) fetchOnce(ctx context.Context, guid string) (model.Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fetch/"+guid, nil)
	if err != nil {
		return model.Report{}, common.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Auth", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.Report{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Report{}, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// Fall through to decode.
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusTooEarly:
		return model.Report{}, fmt.Errorf("%w (status %d)", common.ErrReportNotReady, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return model.Report{}, common.Permanent(fmt.Errorf("%w (status 404)", common.ErrReportUnavailable))
	case resp.StatusCode >= 500:
		return model.Report{}, fmt.Errorf("provider error (status %d): %s", resp.StatusCode, string(body))
	default:
		return model.Report{}, common.Permanent(fmt.Errorf("provider rejected request (status %d): %s", resp.StatusCode, string(body)))
	}

	var report model.Report
	if err := json.Unmarshal(body, &report); err != nil {
		// The provider can serve a partial body while a report is still
		// being finalized; treat it like not-ready and try again.
		return model.Report{}, fmt.Errorf("failed to parse report: %w", err)
	}
	return report, nil
}

var _ service.ReportFetcher = (*Client)(nil)
