// Package redpanda publishes terminal-response audit events to a
// Kafka/Redpanda topic. It is a fire-and-forget side effect of finishing a
// request, not a work queue: script evaluation in this processor is always
// synchronous (spec §1 Non-goals), so there is no consumer side to this
// package.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"

	"github.com/graphscript/evalserver/internal/adapter/observability"
	"github.com/graphscript/evalserver/internal/domain"
)

// TopicAudit is the topic terminal-response audit events are published to.
const TopicAudit = "eval-audit"

// AuditEvent is one row of the evaluation audit trail: the outcome of a
// single request's terminal response.
type AuditEvent struct {
	RequestID  string           `json:"requestId"`
	Code       domain.StatusCode `json:"code"`
	ElapsedMS  int64            `json:"elapsedMs"`
	BatchCount int              `json:"batchCount"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Producer publishes AuditEvents asynchronously and never blocks the
// request path on delivery.
type Producer struct {
	client *kgo.Client
	cb     *observability.CircuitBreaker
}

// NewProducer connects to brokers and ensures the audit topic exists.
func NewProducer(brokers []string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}

	tracer := kotel.NewTracer()
	kotelHook := kotel.NewKotel(kotel.WithTracer(tracer))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(5),
		kgo.WithHooks(kotelHook.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := createTopicIfNotExists(ctx, client, TopicAudit, 3, 1); err != nil {
		slog.Warn("failed to ensure audit topic exists", slog.Any("error", err))
	}

	return &Producer{
		client: client,
		cb:     observability.NewCircuitBreaker("redpanda.audit_publish", 5, 30*time.Second),
	}, nil
}

// PublishAudit fires ev at the audit topic without waiting for the broker
// acknowledgment; a publish failure is logged, not surfaced, since it must
// never affect the request's own terminal response. Repeated marshal
// failures trip a circuit breaker; produce failures are reported
// asynchronously to the delivery callback, which only logs them, so they do
// not count toward the breaker.
func (p *Producer) PublishAudit(ctx domain.Context, ev AuditEvent) {
	err := p.cb.Call(func() error {
		b, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal audit event: %w", err)
		}
		record := &kgo.Record{
			Topic: TopicAudit,
			Key:   []byte(ev.RequestID),
			Value: b,
		}
		p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
			if err != nil {
				slog.Error("audit event publish failed", slog.String("request_id", ev.RequestID), slog.Any("error", err))
			}
		})
		return nil
	})
	if err != nil {
		slog.Warn("audit event publish skipped", slog.String("request_id", ev.RequestID), slog.Any("error", err))
	}
}

// Close flushes pending records and closes the client.
func (p *Producer) Close() error {
	if p.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		slog.Warn("audit producer flush incomplete", slog.Any("error", err))
	}
	p.client.Close()
	return nil
}
