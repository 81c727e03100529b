// Package stream implements the Result Streamer (C3), the core algorithm
// of the processor: it consumes a result iterator, accumulates batches,
// respects channel backpressure, enforces the serialization-time budget,
// emits framed responses, and invokes the Transaction Coordinator at the
// correct commit/rollback boundaries.
package stream

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/graphscript/evalserver/internal/adapter/observability"
	"github.com/graphscript/evalserver/internal/domain"
	"github.com/graphscript/evalserver/internal/frame"
)

// Coordinator is the subset of txn.Coordinator the Streamer depends on,
// narrowed to keep this package independent of the txn package's backoff
// wiring.
type Coordinator interface {
	Commit(ctx domain.Context, msg domain.RequestMessage) error
}

// Streamer drives the loop described in spec §4.3.
type Streamer struct {
	builder *frame.Builder
	logger  *slog.Logger
}

// New constructs a Streamer that builds frames with builder and logs
// backpressure warnings with logger.
func New(builder *frame.Builder, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{builder: builder, logger: logger}
}

// Stream consumes iterator for msg on channel, writing frames until the
// iterator is exhausted or an error requires aborting the loop. coordinator
// is invoked exactly once, at the successful terminal boundary (commit
// precedes flush, per §4.3 step 3). Callers are responsible for invoking
// rollback when Stream returns a non-nil error, per §4.2.
func (s *Streamer) Stream(ctx domain.Context, channel domain.Channel, msg domain.RequestMessage, iterator domain.ResultIterator, settings domain.Settings, coordinator Coordinator) error {
	batchSize := settings.ResultIterationBatchSize
	if n, ok := msg.BatchSize(); ok {
		batchSize = n
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	if !iterator.HasNext() {
		if err := coordinator.Commit(ctx, msg); err != nil {
			return fmt.Errorf("%w: commit on empty result: %s", domain.ErrUnexpected, err.Error())
		}
		f, err := s.builder.MakeTerminal(channel, msg.RequestID, domain.StatusNoContent, "")
		if err != nil {
			return err
		}
		return channel.Write(f)
	}

	aggregate := make([]any, 0, batchSize)
	hasMore := true
	startTime := time.Now()
	warnedBackpressure := false
	timeout := time.Duration(settings.SerializedResponseTimeout) * time.Millisecond

	for hasMore {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w", domain.ErrInterrupted)
		default:
		}

		if len(aggregate) < batchSize {
			v, err := iterator.Next()
			if err != nil {
				return fmt.Errorf("%w: %s", domain.ErrUnexpected, err.Error())
			}
			aggregate = append(aggregate, v)
		}

		if channel.IsWritable() {
			shouldEmit := len(aggregate) == batchSize || !iterator.HasNext()
			if shouldEmit {
				terminal := !iterator.HasNext()
				code := domain.StatusPartialContent
				if terminal {
					code = domain.StatusSuccess
				}

				f, err := s.builder.Make(channel, msg.RequestID, code, aggregate)
				if err != nil {
					return err
				}

				if terminal {
					if err := coordinator.Commit(ctx, msg); err != nil {
						return fmt.Errorf("%w: commit before flush: %s", domain.ErrUnexpected, err.Error())
					}
					hasMore = false
				}

				if err := channel.Write(f); err != nil {
					return fmt.Errorf("%w: %s", domain.ErrUnexpected, err.Error())
				}

				if !terminal {
					aggregate = make([]any, 0, batchSize)
				}
			}
		} else {
			if !warnedBackpressure {
				s.logger.Warn("channel backpressure observed",
					slog.String("request_id", msg.RequestID))
				observability.RecordBackpressure("eval")
				warnedBackpressure = true
			}
			time.Sleep(domain.BackpressurePollInterval)
		}

		elapsed := time.Since(startTime)
		if timeout > 0 && elapsed > timeout {
			note := "no backpressure observed"
			if warnedBackpressure {
				note = "backpressure observed"
			}
			return fmt.Errorf("%w: serialization of the entire response exceeded the configured timeout (%s)", domain.ErrStreamingTimeout, note)
		}
	}

	return nil
}
