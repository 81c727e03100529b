// Package evaluator implements the Evaluator (C4): it obtains the
// scripting-engine handle, submits the validated script, awaits the
// evaluation future, funnels a successful result into the Result Streamer,
// and translates evaluation-level and streaming-level failures into
// exactly one terminal response per request.
package evaluator

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/graphscript/evalserver/internal/adapter/observability"
	"github.com/graphscript/evalserver/internal/domain"
	"github.com/graphscript/evalserver/internal/frame"
	"github.com/graphscript/evalserver/internal/stream"
	"github.com/graphscript/evalserver/internal/txn"
)

var tracer = otel.Tracer("github.com/graphscript/evalserver/internal/evaluator")

// BindingsSupplier resolves the bindings map for a request, failing with a
// wrapped domain.ErrInvalidArguments if the supplied bindings are invalid.
// This fails the step before evaluation begins (spec §4.2).
type BindingsSupplier func(msg domain.RequestMessage) (map[string]any, error)

// MetricsHook is the Metrics Hook (C6) collaborator: it times each
// evaluation and counts errors by status code.
type MetricsHook interface {
	ObserveEval(elapsed time.Duration, code domain.StatusCode)
}

// noopMetrics discards all observations; used when no hook is wired.
type noopMetrics struct{}

func (noopMetrics) ObserveEval(time.Duration, domain.StatusCode) {}

// Evaluator drives one request through submission, streaming, and
// finalization.
type Evaluator struct {
	engine       domain.ScriptEngine
	streamer     *stream.Streamer
	builder      *frame.Builder
	metrics      MetricsHook
	logger       *slog.Logger
	backoffMax   time.Duration
}

// New constructs an Evaluator. metrics may be nil, in which case
// observations are discarded.
func New(engine domain.ScriptEngine, streamer *stream.Streamer, builder *frame.Builder, metrics MetricsHook, logger *slog.Logger, backoffMax time.Duration) *Evaluator {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{engine: engine, streamer: streamer, builder: builder, metrics: metrics, logger: logger, backoffMax: backoffMax}
}

// Evaluate runs msg against e.engine and streams its result to channel,
// committing or rolling back against graphManager at the appropriate
// boundary. It writes exactly one terminal frame to channel, tracked via a
// request-scoped terminalWritten flag (spec §9 Design Notes, "Callback
// chaining on the eval future"). It returns the StatusCode of that
// terminal frame alongside any error encountered while writing it, so
// callers (e.g. the audit log) record what actually happened rather than
// assuming a nil error means SUCCESS.
func (e *Evaluator) Evaluate(ctx domain.Context, channel domain.Channel, msg domain.RequestMessage, settings domain.Settings, graphManager domain.GraphManager, bindings BindingsSupplier) (domain.StatusCode, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Evaluator.Evaluate")
	span.SetAttributes(attribute.String("request_id", msg.RequestID))
	defer span.End()

	coordinator := txn.New(graphManager, settings.StrictTransactionManagement, e.backoffMax)
	terminalWritten := false

	resolvedBindings, err := bindings(msg)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		surfaced := fmt.Errorf("%w: %s", domain.ErrInvalidArguments, err.Error())
		writeErr := e.writeFailure(ctx, channel, msg, surfaced, coordinator, &terminalWritten, start)
		return domain.StatusCodeFor(surfaced), writeErr
	}

	language := msg.Language(engineDefaultLanguage)
	script, _ := msg.Gremlin()

	future, err := e.engine.Submit(ctx, script, language, resolvedBindings)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		writeErr := e.writeFailure(ctx, channel, msg, err, coordinator, &terminalWritten, start)
		return domain.StatusCodeFor(err), writeErr
	}

	result, err := future.Await(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		surfaced := translateEvalFailure(err)
		writeErr := e.writeFailure(ctx, channel, msg, surfaced, coordinator, &terminalWritten, start)
		return domain.StatusCodeFor(surfaced), writeErr
	}

	iterator := toIterator(result)
	streamErr := e.streamer.Stream(ctx, channel, msg, iterator, settings, coordinator)
	if streamErr != nil {
		span.SetStatus(codes.Error, streamErr.Error())
		writeErr := e.writeFailure(ctx, channel, msg, streamErr, coordinator, &terminalWritten, start)
		return domain.StatusCodeFor(streamErr), writeErr
	}

	// The Streamer already wrote the terminal SUCCESS/NO_CONTENT frame and
	// performed the commit; nothing further to write here.
	terminalWritten = true
	e.metrics.ObserveEval(time.Since(start), domain.StatusSuccess)
	return domain.StatusSuccess, nil
}

// writeFailure rolls back (if managed) and writes the single terminal
// error frame for err, unless a terminal frame was already written by the
// Streamer — upholding the "exactly one terminal status" invariant even
// when a Timeout surfaces after the Streamer already succeeded, or when
// the Frame Builder itself already wrote a SERVER_ERROR_SERIALIZATION
// frame directly to the channel before returning domain.ErrSerialization.
func (e *Evaluator) writeFailure(ctx domain.Context, channel domain.Channel, msg domain.RequestMessage, err error, coordinator *txn.Coordinator, terminalWritten *bool, start time.Time) error {
	if *terminalWritten {
		return nil
	}
	*terminalWritten = true

	if domain.RequiresRollback(err) {
		observability.RecordRollback(string(domain.StatusCodeFor(err)))
		if rbErr := coordinator.Rollback(ctx, msg); rbErr != nil {
			e.logger.Error("rollback failed", slog.String("request_id", msg.RequestID), slog.Any("error", rbErr))
		}
	}

	code := domain.StatusCodeFor(err)
	e.metrics.ObserveEval(time.Since(start), code)

	if errors.Is(err, domain.ErrSerialization) {
		// The Builder already wrote this response's only terminal frame.
		return nil
	}

	f, buildErr := e.builder.MakeTerminal(channel, msg.RequestID, code, err.Error())
	if buildErr != nil {
		return buildErr
	}
	return channel.Write(f)
}

// translateEvalFailure maps the evaluation future's failure kind to the
// sentinel surfaced in the terminal response (spec §4.2: Timeout → server
// error timeout; anything else → script evaluation error).
func translateEvalFailure(err error) error {
	if errors.Is(err, domain.ErrEvaluationTimeout) {
		return fmt.Errorf("%w: response evaluation exceeded the configured timeout", domain.ErrEvaluationTimeout)
	}
	if errors.Is(err, domain.ErrInvalidArguments) {
		return err
	}
	return fmt.Errorf("%w: %s", domain.ErrScriptEvaluation, err.Error())
}

const engineDefaultLanguage = "lua"

// toIterator wraps a raw script result as a domain.ResultIterator per the
// rule in spec §4.2: scalars and single values become one-element
// iterators; native iterable/array-like values preserve traversal order;
// null becomes an empty iterator.
func toIterator(result any) domain.ResultIterator {
	switch v := result.(type) {
	case nil:
		return domain.NewSliceIterator(nil)
	case []any:
		return domain.NewSliceIterator(v)
	case domain.ResultIterator:
		return v
	default:
		return domain.NewSliceIterator([]any{v})
	}
}
