package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

// ReportStore implements storage.ReportStore using ClickHouse.
type ReportStore struct {
	conn *Conn
}

// NewReportStore creates a new ReportStore.
func NewReportStore(conn *Conn) *ReportStore {
	return &ReportStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ReportStore = (*ReportStore)(nil)

// Insert adds a report. Returns ErrDuplicateKey if (lab_id, generated_at) exists.
func (s *ReportStore) Insert(ctx context.Context, entry *domain.ReportEntry) error {
	if entry == nil || entry.LabID == "" || entry.Timestamp.IsZero() {
		return storage.ErrInvalidInput
	}

	// ReplacingMergeTree would collapse duplicates silently; keep append-only semantics
	exists, err := s.exists(ctx, entry.LabID, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	err = s.conn.Exec(ctx, `
		INSERT INTO analysis_reports (lab_id, generated_at, report_key, blob)
		VALUES (?, ?, ?, ?)
	`, entry.LabID, entry.Timestamp.UTC(), entry.Key, string(entry.Blob))
	if err != nil {
		return fmt.Errorf("insert analysis report: %w", err)
	}
	return nil
}

// Latest retrieves the newest report for a lab. Returns ErrNotFound if none.
func (s *ReportStore) Latest(ctx context.Context, labID string) (*domain.ReportEntry, error) {
	rows, err := s.query(ctx, `
		SELECT lab_id, generated_at, report_key, blob
		FROM analysis_reports FINAL
		WHERE lab_id = ?
		ORDER BY generated_at DESC
		LIMIT 1
	`, labID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}
	return rows[0], nil
}

// List retrieves all reports for a lab, newest first.
func (s *ReportStore) List(ctx context.Context, labID string) ([]*domain.ReportEntry, error) {
	return s.query(ctx, `
		SELECT lab_id, generated_at, report_key, blob
		FROM analysis_reports FINAL
		WHERE lab_id = ?
		ORDER BY generated_at DESC
	`, labID)
}

// Delete removes one report. The mutation runs synchronously.
func (s *ReportStore) Delete(ctx context.Context, labID string, ts time.Time) error {
	ctx = clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"mutations_sync": 1,
	}))
	err := s.conn.Exec(ctx, `
		ALTER TABLE analysis_reports DELETE
		WHERE lab_id = ? AND generated_at = ?
	`, labID, ts.UTC())
	if err != nil {
		return fmt.Errorf("delete analysis report: %w", err)
	}
	return nil
}

func (s *ReportStore) query(ctx context.Context, q string, args ...any) ([]*domain.ReportEntry, error) {
	rows, err := s.conn.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query analysis reports: %w", err)
	}
	defer rows.Close()

	var result []*domain.ReportEntry
	for rows.Next() {
		var (
			e    domain.ReportEntry
			blob string
		)
		if err := rows.Scan(&e.LabID, &e.Timestamp, &e.Key, &blob); err != nil {
			return nil, fmt.Errorf("scan analysis report: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		e.Blob = []byte(blob)
		result = append(result, &e)
	}
	return result, rows.Err()
}

func (s *ReportStore) exists(ctx context.Context, labID string, ts time.Time) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count() FROM analysis_reports
		WHERE lab_id = ? AND generated_at = ?
	`, labID, ts.UTC()).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
