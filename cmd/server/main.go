// Command server starts the script-evaluation processor: a websocket
// channel listener for eval requests and an admin HTTP surface for
// health, readiness, metrics, and audit introspection.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/graphscript/evalserver/internal/adapter/httpserver"
	"github.com/graphscript/evalserver/internal/adapter/observability"
	"github.com/graphscript/evalserver/internal/adapter/queue/redpanda"
	"github.com/graphscript/evalserver/internal/adapter/repo/postgres"
	"github.com/graphscript/evalserver/internal/app"
	"github.com/graphscript/evalserver/internal/channel"
	"github.com/graphscript/evalserver/internal/config"
	"github.com/graphscript/evalserver/internal/dispatch"
	"github.com/graphscript/evalserver/internal/domain"
	"github.com/graphscript/evalserver/internal/engine"
	"github.com/graphscript/evalserver/internal/evaluator"
	"github.com/graphscript/evalserver/internal/frame"
	"github.com/graphscript/evalserver/internal/service/ratelimiter"
	"github.com/graphscript/evalserver/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	auditRepo := postgres.NewAuditRepo(pool)

	if cfg.GraphBootstrapFile != "" {
		if err := app.BootstrapGraphAliases(ctx, postgres.NewGraphAliasManager(pool), cfg.GraphBootstrapFile); err != nil {
			slog.Error("graph alias bootstrap failed", slog.Any("error", err))
		}
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	limiter := ratelimiter.NewRedisLuaLimiter(rdb, pool, map[string]ratelimiter.BucketConfig{
		"default": ratelimiter.NewBucketConfigFromPerMinute(cfg.SubmissionRateLimitPerMin),
	})
	if err := limiter.WarmFromPostgres(ctx); err != nil {
		slog.Warn("rate limiter warm-up failed", slog.Any("error", err))
	}

	producer, err := redpanda.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		slog.Error("redpanda producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("failed to close queue client", slog.Any("error", err))
		}
	}()

	enginePool := engine.NewPool(cfg.EnginePoolSize, cfg.EvaluationTimeout)
	builder := frame.NewBuilder(logger)
	streamer := stream.New(builder, logger)
	evalRunner := evaluator.New(enginePool, streamer, builder, observability.EvalMetricsHook{}, logger, cfg.TransactionBackoffMaxElapsed)
	dispatcher := dispatch.New(nil)

	settings := domain.Settings{
		ResultIterationBatchSize:    cfg.ResultIterationBatchSize,
		SerializedResponseTimeout:   cfg.SerializedResponseTimeoutMS,
		StrictTransactionManagement: cfg.StrictTransactionManagement,
	}

	process := func(reqCtx domain.Context, ch domain.Channel, msg domain.RequestMessage) {
		start := time.Now()
		graphManager := postgres.NewGraphAliasManager(pool)

		resultCode := domain.StatusSuccess
		evalHandler := dispatch.Handler(func(handlerCtx domain.Context) error {
			code, err := evalRunner.Evaluate(handlerCtx, ch, msg, settings, graphManager, bindingsSupplier(graphManager))
			resultCode = code
			producer.PublishAudit(handlerCtx, redpanda.AuditEvent{
				RequestID: msg.RequestID,
				Code:      code,
				ElapsedMS: time.Since(start).Milliseconds(),
			})
			return err
		})

		handler, selErr := dispatcher.Select(msg, evalHandler)
		if selErr != nil {
			code := domain.StatusCodeFor(selErr)
			f, buildErr := builder.MakeTerminal(ch, msg.RequestID, code, selErr.Error())
			if buildErr == nil {
				_ = ch.Write(f)
			}
			recordAudit(reqCtx, auditRepo, msg.RequestID, code, time.Since(start))
			return
		}

		if err := handler(reqCtx); err != nil {
			slog.Error("request processing failed", slog.String("request_id", msg.RequestID), slog.Any("error", err))
		}
		// resultCode carries the actual terminal StatusCode Evaluate wrote to
		// the channel, not just whether handler returned an error — the
		// audit log must reflect what the client actually received.
		recordAudit(reqCtx, auditRepo, msg.RequestID, resultCode, time.Since(start))
	}

	listener := channel.NewListener(cfg.ChannelUseBinary, logger, process)
	channelMux := http.NewServeMux()
	channelMux.Handle("/gremlin", listener)

	channelHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ChannelPort),
		Handler:           channelMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("channel listener starting", slog.Int("port", cfg.ChannelPort))
		if err := channelHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("channel listener failed", slog.Any("error", err))
		}
	}()

	checks := []httpserver.ReadinessCheck{app.BuildRedisReadinessCheck(rdb)}
	srv := httpserver.NewServer(cfg, pool, auditRepo, checks...)
	handlerHTTP := app.BuildRouter(cfg, srv)

	adminHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handlerHTTP,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin http server starting", slog.Int("port", cfg.Port))
		errCh <- adminHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin http server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = adminHTTP.Shutdown(shutdownCtx)
	_ = channelHTTP.Shutdown(shutdownCtx)
}

// bindingsSupplier resolves a request's bindings, touching the graph
// manager for every graph name the request's alias mapping names so the
// Transaction Coordinator finds an open transaction to commit or roll back.
func bindingsSupplier(graphManager *postgres.GraphAliasManager) evaluator.BindingsSupplier {
	return func(msg domain.RequestMessage) (map[string]any, error) {
		if mapping, ok := msg.AliasMapping(); ok {
			for _, graphName := range mapping {
				if err := graphManager.TouchGraph(context.Background(), graphName); err != nil {
					return nil, err
				}
			}
		}
		bindings, _ := msg.Bindings()
		return bindings, nil
	}
}

// recordAudit inserts the terminal outcome into the audit log, logging but
// not failing the request on a write error.
func recordAudit(ctx context.Context, auditRepo *postgres.AuditRepo, requestID string, code domain.StatusCode, elapsed time.Duration) {
	err := auditRepo.Insert(ctx, postgres.AuditRecord{
		RequestID: requestID,
		Code:      code,
		ElapsedMS: elapsed.Milliseconds(),
		CreatedAt: time.Now(),
	})
	if err != nil {
		slog.Error("audit insert failed", slog.String("request_id", requestID), slog.Any("error", err))
	}
}
