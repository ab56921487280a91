package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/promo-price-index/internal/bootstrap"
	"github.com/kirillkom/promo-price-index/internal/config"
	"github.com/kirillkom/promo-price-index/internal/core/domain"
	"github.com/kirillkom/promo-price-index/internal/observability/logging"
	"github.com/kirillkom/promo-price-index/internal/observability/metrics"
)

const (
	serviceName    = "worker"
	computeTimeout = 2 * time.Minute
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, nil)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker_subscribed", "subject", cfg.NATSIndexSubject)
	err = app.Queue.SubscribeIndexRequests(ctx, func(handlerCtx context.Context, req domain.IndexRequest) error {
		if !req.RequestedAt.IsZero() {
			workerMetrics.ObserveQueueLag(serviceName, time.Since(req.RequestedAt))
		}

		processCtx, cancel := context.WithTimeout(handlerCtx, computeTimeout)
		defer cancel()

		start := time.Now()
		workerMetrics.StartRequest()
		result, err := app.ProcessUC.Process(processCtx, req)
		workerMetrics.FinishRequest(serviceName, time.Since(start), result, err)

		switch {
		case err != nil:
			return err
		case result == nil:
			slog.Info("index_request_duplicate", "request_id", req.RequestID, "city", req.City)
		default:
			slog.Info("index_computed",
				"request_id", req.RequestID,
				"city", result.City,
				"period", result.Period,
				"index_value", result.IndexValue,
				"quality_score", result.QualityScore,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
		return nil
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
