// Package corrlog implements the append-only correlation log of
// verification-completion events.
//
// The log is a JSON-lines file: one self-contained object per line, flushed
// to disk before an append is acknowledged. Lookups scan the whole file and
// skip lines that fail to parse, so a partially corrupted log degrades to
// fewer matches rather than an error.
package corrlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xcash-fin/loanflow/internal/model"
)

// Log is a file-backed correlation log. Safe for concurrent use within one
// process; across processes each append is a single O_APPEND write of one
// line, which POSIX keeps atomic for the sizes involved here.
type Log struct {
	logger *slog.Logger
	path   string
	mu     sync.Mutex
}

// New creates a correlation log backed by the file at path. The parent
// directory is created if needed; the file itself is created on first write.
func New(path string) (*Log, error) {
	if path == "" {
		return nil, fmt.Errorf("correlation log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &Log{
		path:   path,
		logger: slog.Default().With("component", "corrlog"),
	}, nil
}

// Record appends the event and syncs the file before returning, so an
// acknowledged event survives a process crash. Events with missing fields
// are recorded as-is; a missing status simply makes the entry non-actionable
// at lookup time.
func (l *Log) Record(ctx context.Context, event model.CorrelationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open correlation log: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync correlation log: %w", err)
	}

	l.logger.Debug("correlation event recorded",
		"guid", event.GUID,
		"status", event.Status)
	return nil
}

// FindVerifiedGUID scans the log for verified events whose free-text name
// contains both fragments, case-insensitively. The log may hold duplicate or
// conflicting entries for the same person; the most recent verified match
// wins, so the scan keeps the last hit rather than returning the first.
func (l *Log) FindVerifiedGUID(ctx context.Context, firstName, lastName string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to open correlation log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var guid string
	var found bool
	skipped := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var event model.CorrelationEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			skipped++
			continue
		}
		if event.Actionable() && event.MatchesName(firstName, lastName) {
			guid = event.GUID
			found = true
		}
	}
	if err := scanner.Err(); err != nil {
		return "", false, fmt.Errorf("failed to scan correlation log: %w", err)
	}

	if skipped > 0 {
		l.logger.Debug("skipped malformed log lines", "count", skipped)
	}
	return guid, found, nil
}

// Events returns every parseable event in append order. Used by the review
// surface; malformed lines are skipped.
func (l *Log) Events(ctx context.Context) ([]model.CorrelationEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open correlation log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var events []model.CorrelationEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var event model.CorrelationEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan correlation log: %w", err)
	}
	return events, nil
}
