package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"chain-anomaly-watch/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultListLimit = 20

type PgxPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ReportRepository stores the history of scan reports.
type ReportRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewReportRepository(pool PgxPool, tracer trace.Tracer) *ReportRepository {
	return &ReportRepository{pool: pool, tracer: tracer}
}

// The report row and its anomalies are written by one statement so a report
// is never stored without its transactions.
const insertReport = `
WITH r AS (
    INSERT INTO anomaly_reports (scanned_at, range_start, range_end, scanned, model_key)
    VALUES ($1, $2, $3, $4, $5)
    RETURNING id, created_at
), t AS (
    INSERT INTO anomaly_transactions (report_id, position, block, value)
    SELECT r.id, a.position, a.block, a.value::numeric
    FROM r, unnest($6::int[], $7::bigint[], $8::text[]) AS a(position, block, value)
)
SELECT id, created_at FROM r`

const selectReports = `
SELECT r.id, r.scanned_at, r.range_start, r.range_end, r.scanned, r.model_key, r.created_at,
       COALESCE((
           SELECT json_agg(json_build_object('block', t.block, 'value', t.value) ORDER BY t.position)
           FROM anomaly_transactions t
           WHERE t.report_id = r.id
       ), '[]'::json)
FROM anomaly_reports r
ORDER BY r.scanned_at DESC, r.id DESC
LIMIT $1`

func (r *ReportRepository) SaveReport(ctx context.Context, report *domain.AnomalyReport) (*domain.StoredReport, error) {
	_, span := r.tracer.Start(ctx, "report-repo.save-report")
	defer span.End()

	if report == nil {
		return nil, errors.New("nil report")
	}

	positions := make([]int32, len(report.Anomalies))
	blocks := make([]int64, len(report.Anomalies))
	values := make([]string, len(report.Anomalies))
	for i, a := range report.Anomalies {
		positions[i] = int32(i)
		blocks[i] = int64(a.Block)
		values[i] = a.Value.String()
	}
	span.SetAttributes(attribute.Int("anomalies", len(report.Anomalies)))

	stored := &domain.StoredReport{
		Report:     *report,
		RangeStart: report.Range.Start,
		RangeEnd:   report.Range.End,
		Scanned:    report.Scanned,
		ModelKey:   report.ModelKey,
	}
	err := r.pool.QueryRow(ctx, insertReport,
		report.Timestamp.UTC(), int64(report.Range.Start), int64(report.Range.End),
		report.Scanned, report.ModelKey,
		positions, blocks, values,
	).Scan(&stored.ID, &stored.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("insert report: %w", err)
	}
	return stored, nil
}

// LatestReport returns the most recent report, or nil when none is stored.
func (r *ReportRepository) LatestReport(ctx context.Context) (*domain.StoredReport, error) {
	_, span := r.tracer.Start(ctx, "report-repo.latest-report")
	defer span.End()

	reports, err := r.listReports(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, nil
	}
	return reports[0], nil
}

func (r *ReportRepository) ListReports(ctx context.Context, limit int) ([]*domain.StoredReport, error) {
	_, span := r.tracer.Start(ctx, "report-repo.list-reports")
	defer span.End()

	if limit <= 0 {
		limit = defaultListLimit
	}
	return r.listReports(ctx, limit)
}

func (r *ReportRepository) listReports(ctx context.Context, limit int) ([]*domain.StoredReport, error) {
	rows, err := r.pool.Query(ctx, selectReports, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*domain.StoredReport
	for rows.Next() {
		var (
			s          domain.StoredReport
			start, end int64
			anomalies  []byte
		)
		if err := rows.Scan(&s.ID, &s.Report.Timestamp, &start, &end, &s.Scanned, &s.ModelKey, &s.CreatedAt, &anomalies); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(anomalies, &s.Report.Anomalies); err != nil {
			return nil, fmt.Errorf("decode anomalies of report %d: %w", s.ID, err)
		}
		if s.Report.Anomalies == nil {
			s.Report.Anomalies = domain.FeatureTable{}
		}
		s.RangeStart, s.RangeEnd = uint64(start), uint64(end)
		s.Report.Timestamp = s.Report.Timestamp.UTC()
		s.Report.Range = domain.BlockRange{Start: s.RangeStart, End: s.RangeEnd}
		s.Report.Scanned = s.Scanned
		s.Report.ModelKey = s.ModelKey
		reports = append(reports, &s)
	}
	return reports, rows.Err()
}
