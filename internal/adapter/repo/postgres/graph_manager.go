package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/graphscript/evalserver/internal/domain"
)

var graphManagerTracer = otel.Tracer("github.com/graphscript/evalserver/internal/adapter/repo/postgres")

// PgxPool is the pool surface the graph alias registry and audit repo need.
// *pgxpool.Pool satisfies it.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// GraphAliasManager resolves aliases to graph names against a Postgres-backed
// registry, and owns one open transaction per graph name touched by the
// engine during a request's lifetime. It implements domain.GraphManager.
type GraphAliasManager struct {
	pool PgxPool

	mu   sync.Mutex
	open map[string]pgx.Tx
}

// NewGraphAliasManager constructs a manager backed by pool.
func NewGraphAliasManager(pool PgxPool) *GraphAliasManager {
	return &GraphAliasManager{pool: pool, open: make(map[string]pgx.Tx)}
}

// RegisterAlias upserts an alias -> graph name mapping.
func (m *GraphAliasManager) RegisterAlias(ctx context.Context, alias, graphName string) error {
	ctx, span := graphManagerTracer.Start(ctx, "GraphAliasManager.RegisterAlias")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "graph_aliases"),
	)

	_, err := m.pool.Exec(ctx, `
		INSERT INTO graph_aliases (alias, graph_name)
		VALUES ($1, $2)
		ON CONFLICT (alias) DO UPDATE SET graph_name = EXCLUDED.graph_name
	`, alias, graphName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("register alias %q: %w", alias, err)
	}
	return nil
}

// ResolveAliases returns the full alias -> graph name registry.
func (m *GraphAliasManager) ResolveAliases(ctx context.Context) (map[string]string, error) {
	ctx, span := graphManagerTracer.Start(ctx, "GraphAliasManager.ResolveAliases")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "graph_aliases"),
	)

	rows, err := m.pool.Query(ctx, `SELECT alias, graph_name FROM graph_aliases`)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("resolve aliases: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var alias, graphName string
		if err := rows.Scan(&alias, &graphName); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("scan alias row: %w", err)
		}
		out[alias] = graphName
	}
	return out, rows.Err()
}

// beginGraph returns the open transaction for graphName, opening one against
// the pool if none is outstanding yet. Callers hold m.mu.
func (m *GraphAliasManager) beginGraph(ctx context.Context, graphName string) (pgx.Tx, error) {
	if tx, ok := m.open[graphName]; ok {
		return tx, nil
	}
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin graph %q: %w", graphName, err)
	}
	m.open[graphName] = tx
	return tx, nil
}

// TouchGraph records that graphName participates in the current request's
// transaction scope, opening its underlying transaction lazily. Bindings
// suppliers call this when a traversal source resolves to graphName.
func (m *GraphAliasManager) TouchGraph(ctx context.Context, graphName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.beginGraph(ctx, graphName)
	return err
}

// CommitAll commits every graph touched during the request (non-strict mode).
func (m *GraphAliasManager) CommitAll(ctx domain.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finishAll(ctx, true, nil)
}

// RollbackAll rolls back every graph touched during the request (non-strict mode).
func (m *GraphAliasManager) RollbackAll(ctx domain.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finishAll(ctx, false, nil)
}

// CommitScoped commits only the named graphs (strict mode).
func (m *GraphAliasManager) CommitScoped(ctx domain.Context, graphNames []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finishAll(ctx, true, graphNames)
}

// RollbackScoped rolls back only the named graphs (strict mode).
func (m *GraphAliasManager) RollbackScoped(ctx domain.Context, graphNames []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finishAll(ctx, false, graphNames)
}

func (m *GraphAliasManager) finishAll(ctx context.Context, commit bool, scope []string) error {
	action := "rollback"
	if commit {
		action = "commit"
	}
	ctx, span := graphManagerTracer.Start(ctx, "GraphAliasManager."+action)
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"))

	var scoped map[string]struct{}
	if scope != nil {
		scoped = make(map[string]struct{}, len(scope))
		for _, g := range scope {
			scoped[g] = struct{}{}
		}
	}

	var firstErr error
	for graphName, tx := range m.open {
		if scoped != nil {
			if _, want := scoped[graphName]; !want {
				continue
			}
		}
		var err error
		if commit {
			err = tx.Commit(ctx)
		} else {
			err = tx.Rollback(ctx)
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s graph %q: %w", action, graphName, err)
		}
		delete(m.open, graphName)
	}
	if firstErr != nil {
		span.RecordError(firstErr)
		span.SetStatus(codes.Error, firstErr.Error())
	}
	return firstErr
}
