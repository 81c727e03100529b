package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphscript/evalserver/internal/adapter/repo/postgres"
	"github.com/graphscript/evalserver/internal/app"
)

func TestBootstrapGraphAliases_MissingFile_IsNoop(t *testing.T) {
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	mgr := postgres.NewGraphAliasManager(m)
	err = app.BootstrapGraphAliases(context.Background(), mgr, filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.NoError(t, err)
}

func TestBootstrapGraphAliases_MalformedYAML_Errors(t *testing.T) {
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	mgr := postgres.NewGraphAliasManager(m)
	path := filepath.Join(t.TempDir(), "bootstrap.yaml")
	writeFile(t, path, "aliases: [this is not a list of maps")

	err = app.BootstrapGraphAliases(context.Background(), mgr, path)
	assert.Error(t, err)
}

func TestBootstrapGraphAliases_ValidYAML_RegistersEachAlias(t *testing.T) {
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	mgr := postgres.NewGraphAliasManager(m)
	path := filepath.Join(t.TempDir(), "bootstrap.yaml")
	writeFile(t, path, `
aliases:
  - alias: g
    graphName: graph-prod
  - alias: social
    graphName: graph-social
`)

	m.ExpectExec("INSERT INTO graph_aliases").
		WithArgs("g", "graph-prod").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectExec("INSERT INTO graph_aliases").
		WithArgs("social", "graph-social").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, app.BootstrapGraphAliases(context.Background(), mgr, path))
	require.NoError(t, m.ExpectationsWereMet())
}

func TestBootstrapGraphAliases_SkipsIncompleteEntries(t *testing.T) {
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	mgr := postgres.NewGraphAliasManager(m)
	path := filepath.Join(t.TempDir(), "bootstrap.yaml")
	writeFile(t, path, `
aliases:
  - alias: g
    graphName: ""
  - alias: ""
    graphName: graph-social
`)

	require.NoError(t, app.BootstrapGraphAliases(context.Background(), mgr, path))
	require.NoError(t, m.ExpectationsWereMet())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
