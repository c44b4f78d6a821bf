// Package ledger persists decisions and skipped applicants in SQLite.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xcash-fin/loanflow/internal/model"
	"github.com/xcash-fin/loanflow/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteLedger implements service.DecisionLedger using SQLite.
type SQLiteLedger struct {
	db     *sql.DB
	logger *slog.Logger
	dbPath string
}

// New opens (or creates) the ledger database at dbPath and applies pending
// migrations. Pass ":memory:" for an ephemeral ledger in tests.
func New(dbPath string, logger *slog.Logger) (*SQLiteLedger, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("ledger: dbPath must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping ledger database: %w", err)
	}

	s := &SQLiteLedger{db: db, logger: logger, dbPath: dbPath}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

// Append writes the record unless one with the same correlation id and
// timestamp already exists. Returns false for the deduplicated no-op.
func (s *SQLiteLedger) Append(ctx context.Context, record model.DecisionRecord) (bool, error) {
	if !record.Decision.Valid() {
		return false, fmt.Errorf("ledger: unknown decision %q", record.Decision)
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	var approved sql.NullFloat64
	if record.ApprovedAmount != nil {
		approved = sql.NullFloat64{Float64: *record.ApprovedAmount, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO decisions
			(guid, timestamp, first_name, last_name, loan_amount, decision, approved_amount, rationale)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.GUID,
		record.Timestamp.UTC().Format(time.RFC3339),
		record.FirstName,
		record.LastName,
		record.LoanAmount,
		string(record.Decision),
		approved,
		record.Rationale,
	)
	if err != nil {
		return false, fmt.Errorf("failed to append decision: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read append result: %w", err)
	}
	if n == 0 {
		s.logger.Debug("duplicate decision ignored", "guid", record.GUID, "key", record.DedupKey())
		return false, nil
	}
	return true, nil
}

// List returns decisions matching the filter, most recent first.
func (s *SQLiteLedger) List(ctx context.Context, filter service.DecisionFilter) ([]model.DecisionRecord, error) {
	query := `
		SELECT guid, timestamp, first_name, last_name, loan_amount, decision, approved_amount, rationale
		FROM decisions`
	var conds []string
	var args []any

	if filter.Since != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339))
	}
	if filter.Decision != "" {
		conds = append(conds, "decision = ?")
		args = append(args, string(filter.Decision))
	}
	if name := strings.TrimSpace(filter.Name); name != "" {
		conds = append(conds, "(LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?)")
		pattern := "%" + strings.ToLower(name) + "%"
		args = append(args, pattern, pattern)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.DecisionRecord
	for rows.Next() {
		var r model.DecisionRecord
		var ts, decision string
		var approved sql.NullFloat64
		if err := rows.Scan(&r.GUID, &ts, &r.FirstName, &r.LastName, &r.LoanAmount, &decision, &approved, &r.Rationale); err != nil {
			return nil, fmt.Errorf("failed to scan decision row: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse decision timestamp %q: %w", ts, err)
		}
		r.Timestamp = parsed
		r.Decision = model.Decision(decision)
		if approved.Valid {
			v := approved.Float64
			r.ApprovedAmount = &v
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate decision rows: %w", err)
	}
	return records, nil
}

// AppendSkipped records a submission turned away at intake.
func (s *SQLiteLedger) AppendSkipped(ctx context.Context, skipped model.SkippedApplicant) error {
	if skipped.Timestamp.IsZero() {
		skipped.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO skipped_applicants (timestamp, first_name, last_name, address, detected_province)
		VALUES (?, ?, ?, ?, ?)`,
		skipped.Timestamp.UTC().Format(time.RFC3339),
		skipped.FirstName,
		skipped.LastName,
		skipped.Address,
		skipped.DetectedProvince,
	)
	if err != nil {
		return fmt.Errorf("failed to append skipped applicant: %w", err)
	}
	return nil
}

// ListSkipped returns all skipped applicants, most recent first.
func (s *SQLiteLedger) ListSkipped(ctx context.Context) ([]model.SkippedApplicant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, first_name, last_name, address, detected_province
		FROM skipped_applicants
		ORDER BY timestamp DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list skipped applicants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var skipped []model.SkippedApplicant
	for rows.Next() {
		var sk model.SkippedApplicant
		var ts string
		if err := rows.Scan(&ts, &sk.FirstName, &sk.LastName, &sk.Address, &sk.DetectedProvince); err != nil {
			return nil, fmt.Errorf("failed to scan skipped row: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse skipped timestamp %q: %w", ts, err)
		}
		sk.Timestamp = parsed
		skipped = append(skipped, sk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate skipped rows: %w", err)
	}
	return skipped, nil
}
