package postgres_test

import (
	"context"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphscript/evalserver/internal/adapter/repo/postgres"
)

func TestGraphAliasManager_RegisterAndResolve(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	mgr := postgres.NewGraphAliasManager(m)
	ctx := context.Background()

	m.ExpectExec("INSERT INTO graph_aliases").
		WithArgs("g", "graph-prod").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, mgr.RegisterAlias(ctx, "g", "graph-prod"))

	rows := pgxmock.NewRows([]string{"alias", "graph_name"}).AddRow("g", "graph-prod")
	m.ExpectQuery("SELECT alias, graph_name FROM graph_aliases").WillReturnRows(rows)
	aliases, err := mgr.ResolveAliases(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"g": "graph-prod"}, aliases)
}

func TestGraphAliasManager_CommitAll(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	mgr := postgres.NewGraphAliasManager(m)
	ctx := context.Background()

	m.ExpectBegin()
	require.NoError(t, mgr.TouchGraph(ctx, "graph-prod"))

	m.ExpectCommit()
	require.NoError(t, mgr.CommitAll(ctx))
}

func TestGraphAliasManager_RollbackScoped(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	mgr := postgres.NewGraphAliasManager(m)
	ctx := context.Background()

	m.ExpectBegin()
	require.NoError(t, mgr.TouchGraph(ctx, "graph-a"))

	m.ExpectRollback()
	require.NoError(t, mgr.RollbackScoped(ctx, []string{"graph-a"}))
}

func TestGraphAliasManager_CommitScoped_SkipsUntouched(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	mgr := postgres.NewGraphAliasManager(m)
	ctx := context.Background()

	// No graphs touched, so CommitScoped for an untouched graph is a no-op.
	require.NoError(t, mgr.CommitScoped(ctx, []string{"graph-never-touched"}))
}
