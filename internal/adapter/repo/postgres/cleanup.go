package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// Tx is the minimal transaction surface CleanupService needs; satisfied by
// pgx.Tx.
type Tx interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Beginner starts a Tx. *pgxpool.Pool does not satisfy it directly (its
// Begin returns pgx.Tx), so callers wrap the pool in a small adapter.
type Beginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// CleanupService enforces the audit log's data retention policy.
type CleanupService struct {
	beginner      Beginner
	retentionDays int
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(beginner Beginner, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &CleanupService{beginner: beginner, retentionDays: retentionDays}
}

// CleanupOldData removes audit log rows older than the retention period.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	tx, err := s.beginner.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cleanup begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var deleted int64
	err = tx.QueryRow(ctx, `
		WITH deleted AS (
			DELETE FROM eval_audit_log
			WHERE created_at < $1
			RETURNING 1
		)
		SELECT count(*) FROM deleted
	`, cutoff).Scan(&deleted)
	if err != nil {
		slog.Debug("no audit rows to delete", slog.Any("error", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cleanup commit: %w", err)
	}

	slog.Info("audit log cleanup completed",
		slog.Int64("deleted_rows", deleted),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// RunPeriodic starts a periodic cleanup job.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
