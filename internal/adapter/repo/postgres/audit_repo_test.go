package postgres_test

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphscript/evalserver/internal/adapter/repo/postgres"
	"github.com/graphscript/evalserver/internal/domain"
)

func TestAuditRepo_Insert(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	repo := postgres.NewAuditRepo(m)
	now := time.Now().UTC()

	m.ExpectExec("INSERT INTO eval_audit_log").
		WithArgs("req-1", string(domain.StatusSuccess), int64(12), 3, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Insert(context.Background(), postgres.AuditRecord{
		RequestID:  "req-1",
		Code:       domain.StatusSuccess,
		ElapsedMS:  12,
		BatchCount: 3,
		CreatedAt:  now,
	})
	require.NoError(t, err)
}

func TestAuditRepo_Recent(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	repo := postgres.NewAuditRepo(m)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"request_id", "code", "elapsed_ms", "batch_count", "created_at"}).
		AddRow("req-1", string(domain.StatusSuccess), int64(12), 3, now)
	m.ExpectQuery("SELECT request_id, code, elapsed_ms, batch_count, created_at").
		WithArgs(50).
		WillReturnRows(rows)

	recs, err := repo.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "req-1", recs[0].RequestID)
	assert.Equal(t, domain.StatusSuccess, recs[0].Code)
}
