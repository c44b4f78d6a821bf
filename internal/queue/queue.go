// Package queue implements the durable pending-applicant queue.
//
// The queue is a JSON array file shared by the intake process and the
// reconciliation scheduler. Every mutation is a read-modify-write under an
// exclusive file lock with a bounded acquisition timeout, committed by
// writing a temp file and atomically renaming it over the canonical path, so
// a concurrent reader never observes a partial write. A drain cycle holds a
// separate cycle lock for its whole duration (one logical drain at a time)
// but releases the queue lock while external calls run.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/xcash-fin/loanflow/internal/common"
	"github.com/xcash-fin/loanflow/internal/model"
	"github.com/xcash-fin/loanflow/internal/service"
)

const lockRetryDelay = 50 * time.Millisecond

// DefaultLockTimeout bounds how long writers wait for the queue lock before
// failing loudly instead of hanging.
const DefaultLockTimeout = 10 * time.Second

// Store is a file-backed pending queue.
type Store struct {
	logger      *slog.Logger
	path        string
	lockPath    string
	cyclePath   string
	lockTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout overrides the lock acquisition timeout.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// New creates a pending queue backed by the JSON file at path.
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("pending queue path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}
	s := &Store{
		path:        path,
		lockPath:    path + ".lock",
		cyclePath:   path + ".drain.lock",
		lockTimeout: DefaultLockTimeout,
		logger:      slog.Default().With("component", "queue"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Upsert inserts or refreshes an entry keyed by (first, last, loanType),
// case-insensitive. Last write wins for amount and timestamp; a correlation
// id already bound to the existing entry is carried forward so matching
// never recurs.
func (s *Store) Upsert(ctx context.Context, applicant model.PendingApplicant) error {
	applicant.Normalize()
	if applicant.SubmittedAt.IsZero() {
		applicant.SubmittedAt = time.Now()
	}

	return s.withLock(ctx, func() error {
		entries := s.load()
		replaced := false
		for i, existing := range entries {
			if existing.Key() == applicant.Key() {
				if applicant.GUID == "" {
					applicant.GUID = existing.GUID
				}
				entries[i] = applicant
				replaced = true
				break
			}
		}
		if !replaced {
			entries = append(entries, applicant)
		}
		return s.store(entries)
	})
}

// Snapshot returns a copy of the current queue contents.
func (s *Store) Snapshot(ctx context.Context) ([]model.PendingApplicant, error) {
	var entries []model.PendingApplicant
	err := s.withLock(ctx, func() error {
		entries = s.load()
		return nil
	})
	return entries, err
}

// Drain runs one cycle over the queue. The cycle lock is held end to end so
// two drains never overlap, but fn runs with the queue lock released: the
// cycle snapshots the entries, processes them, then commits removals and
// updates in a second locked read-modify-write. Entries upserted while fn
// was running are preserved; an entry refreshed mid-cycle beats the cycle's
// stale update.
func (s *Store) Drain(ctx context.Context, fn service.DrainFunc) (service.DrainStats, error) {
	var stats service.DrainStats

	cycle := flock.New(s.cyclePath)
	acquired, err := s.tryLock(ctx, cycle)
	if err != nil {
		return stats, err
	}
	if !acquired {
		return stats, fmt.Errorf("drain cycle: %w", common.ErrLockTimeout)
	}
	defer func() { _ = cycle.Unlock() }()

	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return stats, err
	}
	if len(snapshot) == 0 {
		return stats, nil
	}

	type result struct {
		applicant model.PendingApplicant
		outcome   service.DrainOutcome
		seenAt    time.Time
	}
	results := make(map[string]result, len(snapshot))

	for _, entry := range snapshot {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		updated, outcome := fn(ctx, entry)
		results[entry.Key()] = result{
			applicant: updated,
			outcome:   outcome,
			seenAt:    entry.SubmittedAt,
		}
		stats.Processed++
	}

	err = s.withLock(ctx, func() error {
		current := s.load()
		kept := make([]model.PendingApplicant, 0, len(current))
		for _, entry := range current {
			res, processed := results[entry.Key()]
			if !processed {
				// Upserted mid-cycle; untouched.
				kept = append(kept, entry)
				continue
			}
			if entry.SubmittedAt.After(res.seenAt) {
				// Refreshed while the cycle ran; the newer submission wins
				// over this cycle's stale outcome.
				kept = append(kept, entry)
				continue
			}
			if res.outcome == service.RemoveEntry {
				stats.Removed++
				continue
			}
			stats.Kept++
			kept = append(kept, res.applicant)
		}
		return s.store(kept)
	})
	if err != nil {
		return stats, err
	}

	s.logger.Info("drain cycle complete",
		"processed", stats.Processed,
		"removed", stats.Removed,
		"kept", stats.Kept)
	return stats, nil
}

// withLock runs fn while holding the queue's exclusive file lock. The lock
// is released on every exit path.
func (s *Store) withLock(ctx context.Context, fn func() error) error {
	fl := flock.New(s.lockPath)
	acquired, err := s.tryLock(ctx, fl)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("pending queue: %w", common.ErrLockTimeout)
	}
	defer func() { _ = fl.Unlock() }()
	return fn()
}

func (s *Store) tryLock(ctx context.Context, fl *flock.Flock) (bool, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	acquired, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire lock %s: %w", fl.Path(), err)
	}
	return acquired, nil
}

// load reads the queue file. A missing file is an empty queue; a malformed
// file is treated as empty and left untouched on disk for inspection (the
// next committed write replaces it).
func (s *Store) load() []model.PendingApplicant {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to read pending queue", "error", err)
		}
		return nil
	}

	var entries []model.PendingApplicant
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("pending queue file is malformed, treating as empty",
			"path", s.path,
			"error", err)
		return nil
	}
	return entries
}

// store writes entries to a temp file in the queue's directory and renames
// it over the canonical path.
func (s *Store) store(entries []model.PendingApplicant) error {
	if entries == nil {
		entries = []model.PendingApplicant{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode pending queue: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".pending-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp queue file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp queue file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp queue file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp queue file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o640); err != nil {
		return fmt.Errorf("failed to chmod temp queue file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace pending queue: %w", err)
	}
	return nil
}
