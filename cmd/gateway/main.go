package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/api"
	"github.com/smukkama/weather-alerts/internal/connection"
	"github.com/smukkama/weather-alerts/internal/database"
	"github.com/smukkama/weather-alerts/internal/httpserver"
	"github.com/smukkama/weather-alerts/internal/logging"
	"github.com/smukkama/weather-alerts/internal/monitor"
	"github.com/smukkama/weather-alerts/internal/notify"
	"github.com/smukkama/weather-alerts/internal/observability"
	"github.com/smukkama/weather-alerts/internal/queue"
	"github.com/smukkama/weather-alerts/internal/server"
	"github.com/smukkama/weather-alerts/internal/timer"
	"github.com/smukkama/weather-alerts/internal/weather"
	"github.com/smukkama/weather-alerts/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "realtime-gateway")
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

	if _, err := db.RunMigrations(ctx, "migrations"); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	logger.Info("connected to database and redis")

	notifier := notify.NewRedisNotifier(rdb, logger.Named("notify"), metrics)

	timerManager := timer.NewTimerManager(clockwork.NewRealClock())
	timerManager.Start()
	defer timerManager.Stop()

	client := weather.NewClient(cfg.Weather.BaseURL, cfg.Weather.APIKey, cfg.Weather.Timeout, logger.Named("weather"))
	fetcher := weather.NewFetcher(client, 1, 0, nil, logger.Named("fetcher"), metrics)

	mon := monitor.New(monitor.Config{
		Store:               db,
		Fetcher:             fetcher,
		Publisher:           notifier,
		Scheduler:           timerManager,
		Interval:            cfg.Monitor.Interval,
		RateLimitedInterval: cfg.Monitor.RateLimitedInterval,
		Logger:              logger.Named("monitor"),
		Metrics:             metrics,
	})
	defer mon.Stop()

	connManager := connection.NewManager(cfg.Gateway.MaxConnections)
	tcpServer := server.NewTCPServer(&cfg.Gateway, connManager, timerManager, db, mon, logger.Named("tcp"), metrics)
	if err := tcpServer.Start(); err != nil {
		logger.Fatal("failed to start TCP server", zap.Error(err))
	}
	defer tcpServer.Stop()

	subscriber := notify.NewSubscriber(rdb, logger.Named("subscriber"))
	go func() {
		if err := subscriber.Run(ctx, tcpServer.Deliver); err != nil {
			logger.Error("user channel subscription ended", zap.Error(err))
			stop()
		}
	}()

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlertStatus, cfg.Kafka.GroupID)
	defer consumer.Close()
	relay := queue.NewStatusRelay(consumer, notifier, logger.Named("relay"), metrics)
	relay.Start(ctx)
	defer relay.Stop()

	httpSrv := httpserver.NewServer(cfg.HTTP.Addr, httpserver.CheckFunc(func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	}), logger.Named("http"))
	api.NewHandler(db, logger.Named("api")).Mount(httpSrv)
	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := connManager.Stats()
				timerStats := timerManager.Stats()
				logger.Info("gateway statistics",
					zap.Int("sessions", stats.TotalSessions),
					zap.Int("max_sessions", stats.MaxConnections),
					zap.Int("users", stats.UniqueUsers),
					zap.Int("scheduled_timers", timerStats.ScheduledTasks),
					zap.Bool("rate_limited", mon.RateLimited()),
				)
			}
		}
	}()

	logger.Info("realtime gateway running",
		zap.Int("tcp_port", cfg.Gateway.Port),
		zap.String("http_addr", cfg.HTTP.Addr),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", zap.Error(err))
	}
}
