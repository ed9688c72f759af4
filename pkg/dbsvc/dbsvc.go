// Package dbsvc stores scan runs and their bucket reports in PostgreSQL.
package dbsvc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sgaunet/s3bucketstats/pkg/dto"
	"github.com/sgaunet/s3bucketstats/pkg/orchestrator"
	"github.com/sgaunet/s3bucketstats/pkg/scanner"
)

// ErrNoRun is returned when no scan has been recorded yet.
var ErrNoRun = errors.New("no scan recorded")

// Service provides database operations for scan runs
type Service struct {
	db  *sql.DB
	log *slog.Logger
}

// NewService creates a new database service
func NewService(db *sql.DB) *Service {
	return &Service{
		db:  db,
		log: slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the logger for the service
func (s *Service) SetLogger(log *slog.Logger) {
	s.log = log
}

// HistoryPoint is the state of a bucket in one past run.
type HistoryPoint struct {
	RunID         uuid.UUID `json:"runId"`
	StartedAt     time.Time `json:"startedAt"`
	TotalObjects  uint64    `json:"totalObjects"`
	TotalBytes    uint64    `json:"totalBytes"`
	TotalCost     float64   `json:"totalCost"`
	CostAvailable bool      `json:"costAvailable"`
	Error         string    `json:"error,omitempty"`
}

const (
	insertRun = `INSERT INTO scan_runs
  (id, started_at, duration_ms, total_buckets, total_objects, total_bytes, total_cost)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertReport = `INSERT INTO bucket_reports
  (run_id, position, name, creation_date, region, source_kind, source_location,
   total_objects, total_bytes, total_cost, cost_available, last_modified, metadata, error, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
RETURNING id`

	insertRow = `INSERT INTO bucket_report_rows
  (report_id, storage_class, object_count, total_bytes, last_modified, estimated_cost, priced)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	selectLatestRun = `SELECT id, started_at, duration_ms FROM scan_runs ORDER BY started_at DESC LIMIT 1`

	selectReports = `SELECT id, name, creation_date, region, source_kind, source_location,
  total_objects, total_bytes, total_cost, cost_available, last_modified, metadata, error, duration_ms
FROM bucket_reports WHERE run_id = $1 ORDER BY position`

	selectRows = `SELECT r.report_id, r.storage_class, r.object_count, r.total_bytes, r.last_modified, r.estimated_cost, r.priced
FROM bucket_report_rows r JOIN bucket_reports b ON b.id = r.report_id
WHERE b.run_id = $1 ORDER BY r.report_id, r.storage_class`

	selectHistory = `SELECT s.id, s.started_at, b.total_objects, b.total_bytes, b.total_cost, b.cost_available, b.error
FROM bucket_reports b JOIN scan_runs s ON s.id = b.run_id
WHERE b.name = $1 ORDER BY s.started_at DESC LIMIT $2`
)

// SaveRun stores a run with all its reports in one transaction.
func (s *Service) SaveRun(ctx context.Context, run scanner.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Error("Failed to rollback transaction", slog.String("error", err.Error()))
		}
	}()

	totals := run.Result.Totals
	_, err = tx.ExecContext(ctx, insertRun,
		run.ID, run.StartedAt, run.Result.Duration.Milliseconds(),
		totals.TotalBuckets, int64(totals.TotalObjects), int64(totals.TotalBytes), totals.TotalCost())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for i, report := range run.Result.Reports {
		args, err := reportArgs(run.ID, i, report)
		if err != nil {
			return err
		}
		var reportID int64
		if err := tx.QueryRowContext(ctx, insertReport, args...).Scan(&reportID); err != nil {
			return fmt.Errorf("failed to insert report of %s: %w", report.Name, err)
		}
		for _, row := range report.Rows {
			_, err := tx.ExecContext(ctx, insertRow,
				reportID, string(row.StorageClass), int64(row.ObjectCount), int64(row.TotalBytes),
				nullTime(row.LastModified), row.EstimatedCost, row.Priced)
			if err != nil {
				return fmt.Errorf("failed to insert %s row of %s: %w", row.StorageClass, report.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	s.log.Debug("Scan recorded", slog.String("run", run.ID.String()), slog.Int("buckets", len(run.Result.Reports)))
	return nil
}

// LatestRun loads the most recent run.
func (s *Service) LatestRun(ctx context.Context) (scanner.Run, error) {
	var (
		run        scanner.Run
		durationMS int64
	)
	err := s.db.QueryRowContext(ctx, selectLatestRun).Scan(&run.ID, &run.StartedAt, &durationMS)
	if errors.Is(err, sql.ErrNoRows) {
		return run, ErrNoRun
	}
	if err != nil {
		return run, fmt.Errorf("failed to get latest run: %w", err)
	}
	run.StartedAt = run.StartedAt.UTC()

	reports, ids, err := s.loadReports(ctx, run.ID)
	if err != nil {
		return run, err
	}
	if err := s.loadRows(ctx, run.ID, reports, ids); err != nil {
		return run, err
	}

	run.Result = resultOf(reports, time.Duration(durationMS)*time.Millisecond)
	return run, nil
}

// BucketHistory returns the last limit recorded states of a bucket, newest first.
func (s *Service) BucketHistory(ctx context.Context, bucket string, limit int) ([]HistoryPoint, error) {
	rows, err := s.db.QueryContext(ctx, selectHistory, bucket, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get history of %s: %w", bucket, err)
	}
	defer func() { _ = rows.Close() }()

	var history []HistoryPoint
	for rows.Next() {
		var (
			p              HistoryPoint
			objects, bytes int64
		)
		if err := rows.Scan(&p.RunID, &p.StartedAt, &objects, &bytes, &p.TotalCost, &p.CostAvailable, &p.Error); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		p.TotalObjects, p.TotalBytes = uint64(objects), uint64(bytes)
		p.StartedAt = p.StartedAt.UTC()
		history = append(history, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return history, nil
}

func (s *Service) loadReports(ctx context.Context, runID uuid.UUID) ([]dto.BucketReport, map[int64]int, error) {
	rows, err := s.db.QueryContext(ctx, selectReports, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reports []dto.BucketReport
	ids := map[int64]int{}
	for rows.Next() {
		var (
			id                 int64
			r                  dto.BucketReport
			created, modified  sql.NullTime
			kind               string
			objects, bytes, ms int64
			metadata           []byte
		)
		err := rows.Scan(&id, &r.Name, &created, &r.Region, &kind, &r.Source.Location,
			&objects, &bytes, &r.TotalCost, &r.CostAvailable, &modified, &metadata, &r.Error, &ms)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan report: %w", err)
		}
		r.Source.Kind = dto.SourceKind(kind)
		r.TotalObjects, r.TotalBytes = uint64(objects), uint64(bytes)
		r.CreationDate, r.LastModified = timeOf(created), timeOf(modified)
		r.ProcessingDuration = time.Duration(ms) * time.Millisecond
		if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
			return nil, nil, fmt.Errorf("failed to decode metadata of %s: %w", r.Name, err)
		}
		ids[id] = len(reports)
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read reports: %w", err)
	}
	return reports, ids, nil
}

func (s *Service) loadRows(ctx context.Context, runID uuid.UUID, reports []dto.BucketReport, ids map[int64]int) error {
	rows, err := s.db.QueryContext(ctx, selectRows, runID)
	if err != nil {
		return fmt.Errorf("failed to get report rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			reportID, objects, bytes int64
			class                    string
			modified                 sql.NullTime
			row                      dto.CostedRow
		)
		if err := rows.Scan(&reportID, &class, &objects, &bytes, &modified, &row.EstimatedCost, &row.Priced); err != nil {
			return fmt.Errorf("failed to scan report row: %w", err)
		}
		i, ok := ids[reportID]
		if !ok {
			continue
		}
		row.StorageClass = dto.StorageClass(class)
		row.ObjectCount, row.TotalBytes = uint64(objects), uint64(bytes)
		row.LastModified = timeOf(modified)
		reports[i].Rows = append(reports[i].Rows, row)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read report rows: %w", err)
	}
	return nil
}

func reportArgs(runID uuid.UUID, position int, r dto.BucketReport) ([]any, error) {
	metadata, err := json.Marshal(r.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata of %s: %w", r.Name, err)
	}
	return []any{
		runID, position, r.Name, nullTime(r.CreationDate), r.Region,
		string(r.Source.Kind), r.Source.Location,
		int64(r.TotalObjects), int64(r.TotalBytes), r.TotalCost, r.CostAvailable,
		nullTime(r.LastModified), metadata, r.Error, r.ProcessingDuration.Milliseconds(),
	}, nil
}

// resultOf rebuilds a result, totals included, from stored reports.
func resultOf(reports []dto.BucketReport, d time.Duration) orchestrator.Result {
	res := orchestrator.Result{Reports: make([]dto.BucketReport, 0, len(reports)), Duration: d}
	for _, r := range reports {
		res.Totals.Add(r)
		res.Reports = append(res.Reports, r)
	}
	return res
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func timeOf(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}
