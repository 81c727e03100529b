package domain

import "time"

// ResultIterator is the natural-order traversal the Evaluator wraps a
// script's result object in before handing it to the Result Streamer.
// Scalars and single values become one-element iterators; native
// iterable/array-like values preserve their traversal order; a null result
// becomes an empty iterator (§9 Design Notes, ambiguity 3).
type ResultIterator interface {
	HasNext() bool
	Next() (any, error)
}

// SliceIterator adapts a pre-materialized slice to ResultIterator. It is
// the adaptor used for scalars (a one-element slice), native iterables, and
// null results (a nil/empty slice).
type SliceIterator struct {
	items []any
	pos   int
}

// NewSliceIterator wraps items as a ResultIterator.
func NewSliceIterator(items []any) *SliceIterator {
	return &SliceIterator{items: items}
}

// HasNext reports whether another element remains.
func (s *SliceIterator) HasNext() bool {
	return s != nil && s.pos < len(s.items)
}

// Next returns the next element, advancing the cursor.
func (s *SliceIterator) Next() (any, error) {
	if !s.HasNext() {
		return nil, errNoSuchElement
	}
	v := s.items[s.pos]
	s.pos++
	return v, nil
}

var errNoSuchElement = ErrUnexpected

// GraphManager is the Transaction Coordinator's collaborator: it owns the
// set of named graphs and performs commit/rollback against them, either
// globally or scoped to an aliased subset.
type GraphManager interface {
	// CommitAll commits every graph the manager owns (non-strict mode).
	CommitAll(ctx Context) error
	// RollbackAll rolls back every graph the manager owns (non-strict mode).
	RollbackAll(ctx Context) error
	// CommitScoped commits only the graphs named by graphNames (strict mode).
	CommitScoped(ctx Context, graphNames []string) error
	// RollbackScoped rolls back only the graphs named by graphNames (strict mode).
	RollbackScoped(ctx Context, graphNames []string) error
}

// EvalFuture is the handle returned by ScriptEngine.Submit; it completes
// with either a result object or an engine-level failure.
type EvalFuture interface {
	// Await blocks until the future completes or ctx is done, returning the
	// raw result object (to be wrapped by the Evaluator into a
	// ResultIterator) or an error. A deadline exceeded on ctx surfaces
	// wrapped in ErrEvaluationTimeout.
	Await(ctx Context) (any, error)
}

// ScriptEngine is the pluggable scripting-engine handle a script is
// submitted to. Implementations run scripts on a worker pool distinct from
// the I/O thread (spec §5).
type ScriptEngine interface {
	// Submit begins evaluating script under language with the given
	// bindings, returning a future that completes asynchronously.
	Submit(ctx Context, script, language string, bindings map[string]any) (EvalFuture, error)
}

// Channel is the per-connection network channel. It carries two
// per-connection attributes consulted by the Frame Builder: the serializer
// choice (UseBinary) and writability (IsWritable, for backpressure).
type Channel interface {
	// UseBinary reports whether the binary (vs. text) serializer should be
	// used for frames on this channel.
	UseBinary() bool
	// IsWritable reports whether the channel's outbound buffer currently has
	// room; false signals backpressure.
	IsWritable() bool
	// Write submits a frame for asynchronous transmission. Ownership of the
	// frame's buffer transfers to the channel.
	Write(frame Frame) error
}

// BackpressurePollInterval is the fixed sleep duration used when the
// channel is not writable (spec §4.3 step 4; §9 notes an edge-triggered
// alternative is also conformant).
const BackpressurePollInterval = 10 * time.Millisecond
