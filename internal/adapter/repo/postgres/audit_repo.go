package postgres

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/graphscript/evalserver/internal/domain"
)

var auditRepoTracer = otel.Tracer("github.com/graphscript/evalserver/internal/adapter/repo/postgres")

// AuditRecord is one terminal response, persisted for operability and for
// the admin "recent requests" view.
type AuditRecord struct {
	RequestID  string
	Code       domain.StatusCode
	ElapsedMS  int64
	BatchCount int
	CreatedAt  time.Time
}

// AuditRepo persists terminal responses to eval_audit_log.
type AuditRepo struct {
	pool PgxPool
}

// NewAuditRepo constructs an AuditRepo backed by pool.
func NewAuditRepo(pool PgxPool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Insert records one terminal response.
func (r *AuditRepo) Insert(ctx context.Context, rec AuditRecord) error {
	ctx, span := auditRepoTracer.Start(ctx, "AuditRepo.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "eval_audit_log"),
	)

	_, err := r.pool.Exec(ctx, `
		INSERT INTO eval_audit_log (request_id, code, elapsed_ms, batch_count, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.RequestID, string(rec.Code), rec.ElapsedMS, rec.BatchCount, rec.CreatedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// Recent returns the most recent limit audit records, newest first.
func (r *AuditRepo) Recent(ctx context.Context, limit int) ([]AuditRecord, error) {
	ctx, span := auditRepoTracer.Start(ctx, "AuditRepo.Recent")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "eval_audit_log"),
	)

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT request_id, code, elapsed_ms, batch_count, created_at
		FROM eval_audit_log
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query recent audit records: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var code string
		if err := rows.Scan(&rec.RequestID, &code, &rec.ElapsedMS, &rec.BatchCount, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Code = domain.StatusCode(code)
		out = append(out, rec)
	}
	return out, rows.Err()
}
