// Package txn implements the Transaction Coordinator (C2): it issues
// commit/rollback against the graph manager, scoped either to all graphs
// or to the aliased subset, retrying transient failures with bounded
// exponential backoff.
package txn

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/graphscript/evalserver/internal/domain"
)

// Coordinator issues commit/rollback against a domain.GraphManager. A
// Coordinator is created per request and enforces that it is invoked at
// most once (§4.4: "idempotent from the caller's perspective... never
// invoked more than once per request, and never after a conflicting
// call").
type Coordinator struct {
	graphManager domain.GraphManager
	strict       bool
	backoffMax   time.Duration

	mu   sync.Mutex
	done bool
}

// New constructs a Coordinator bound to graphManager, operating in strict
// or non-strict mode per strict. backoffMax bounds the retry window around
// a single commit/rollback attempt.
func New(graphManager domain.GraphManager, strict bool, backoffMax time.Duration) *Coordinator {
	if backoffMax <= 0 {
		backoffMax = 5 * time.Second
	}
	return &Coordinator{graphManager: graphManager, strict: strict, backoffMax: backoffMax}
}

// Commit performs attemptCommit (§4.4), extracting the alias mapping from
// msg when operating in strict mode. It is a no-op (returns nil) if this
// Coordinator already completed a commit or rollback.
func (c *Coordinator) Commit(ctx domain.Context, msg domain.RequestMessage) error {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return nil
	}
	c.done = true
	c.mu.Unlock()

	return c.retry(ctx, func() error {
		if c.strict {
			graphs := aliasTargets(msg)
			return c.graphManager.CommitScoped(ctx, graphs)
		}
		return c.graphManager.CommitAll(ctx)
	})
}

// Rollback performs attemptRollback (§4.4). It is a no-op if this
// Coordinator already completed a commit or rollback.
func (c *Coordinator) Rollback(ctx domain.Context, msg domain.RequestMessage) error {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return nil
	}
	c.done = true
	c.mu.Unlock()

	return c.retry(ctx, func() error {
		if c.strict {
			graphs := aliasTargets(msg)
			return c.graphManager.RollbackScoped(ctx, graphs)
		}
		return c.graphManager.RollbackAll(ctx)
	})
}

// retry wraps a single commit/rollback attempt in a bounded exponential
// backoff, so a transient graph-manager error (e.g. a serialization
// failure reported by the storage layer) does not immediately surface as a
// coordinator failure.
func (c *Coordinator) retry(ctx domain.Context, op func() error) error {
	bo := backoff.WithContext(backoff.WithMaxElapsedTime(backoff.NewExponentialBackOff(), c.backoffMax), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return fmt.Errorf("transaction coordinator: %w", err)
	}
	return nil
}

// aliasTargets extracts the graph names a strict-mode operation is scoped
// to: the values of args[aliases], falling back to args[rebindings]
// (§4.4, §9 Design Notes). Assumes the mapping's presence and shape were
// validated upstream by the Dispatcher.
func aliasTargets(msg domain.RequestMessage) []string {
	mapping, ok := msg.AliasMapping()
	if !ok {
		return nil
	}
	graphs := make([]string, 0, len(mapping))
	for _, graphName := range mapping {
		graphs = append(graphs, graphName)
	}
	return graphs
}
