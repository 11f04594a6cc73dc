package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/aggregation"
	"github.com/smukkama/weather-alerts/internal/alerting"
	"github.com/smukkama/weather-alerts/internal/database"
	"github.com/smukkama/weather-alerts/internal/httpserver"
	"github.com/smukkama/weather-alerts/internal/logging"
	"github.com/smukkama/weather-alerts/internal/observability"
	"github.com/smukkama/weather-alerts/internal/queue"
	"github.com/smukkama/weather-alerts/internal/weather"
	"github.com/smukkama/weather-alerts/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "alert-evaluator")
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	db, err := database.Connect(ctx, cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("connected to database", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))

	applied, err := db.RunMigrations(ctx, "migrations")
	if err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("migrations applied", zap.Strings("files", applied))

	if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicAlertStatus, 3, 1); err != nil {
		logger.Warn("topic creation failed", zap.String("topic", cfg.Kafka.TopicAlertStatus), zap.Error(err))
	}

	producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlertStatus)
	defer producer.Close()

	if cfg.Weather.APIKey == "" {
		logger.Warn("WEATHER_API_KEY is not set, every weather request will fail")
	}
	client := weather.NewClient(cfg.Weather.BaseURL, cfg.Weather.APIKey, cfg.Weather.Timeout, logger.Named("weather"))
	fetcher := weather.NewFetcher(client, cfg.Weather.BatchSize, cfg.Weather.BatchDelay, clockwork.NewRealClock(), logger.Named("fetcher"), metrics)

	cycle := alerting.NewCycle(alerting.CycleConfig{
		Aggregator:  aggregation.NewAlertAggregator(db, logger.Named("aggregator")),
		Fetcher:     fetcher,
		Store:       db,
		Publisher:   producer,
		TriggerHold: cfg.Evaluation.TriggerHold,
		Clock:       clockwork.NewRealClock(),
		Logger:      logger.Named("cycle"),
		Metrics:     metrics,
	})

	scheduler, err := alerting.NewScheduler(cfg.Evaluation.Schedule, cycle, logger.Named("scheduler"))
	if err != nil {
		logger.Fatal("failed to create scheduler", zap.Error(err))
	}
	scheduler.Start(ctx)

	httpSrv := httpserver.NewServer(cfg.HTTP.Addr, httpserver.CheckFunc(db.PingContext), logger.Named("http"))
	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	logger.Info("alert evaluator running",
		zap.String("schedule", cfg.Evaluation.Schedule),
		zap.Duration("trigger_hold", cfg.Evaluation.TriggerHold),
		zap.String("http_addr", cfg.HTTP.Addr),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", zap.Error(err))
	}
	// ctx is already done, so a cycle in its trigger hold is reverting now.
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("evaluation cycle did not finish before shutdown timeout", zap.Error(err))
	}
	logger.Info("alert evaluator stopped")
}
