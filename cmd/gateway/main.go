package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/paulofpaiva/realtime-trading-simulator/cmd/gateway/internal/api"
	"github.com/paulofpaiva/realtime-trading-simulator/cmd/gateway/internal/consumer"
	"github.com/paulofpaiva/realtime-trading-simulator/cmd/gateway/internal/gateway"
	"github.com/paulofpaiva/realtime-trading-simulator/cmd/gateway/internal/history"
	"github.com/paulofpaiva/realtime-trading-simulator/cmd/gateway/internal/hub"
	"github.com/paulofpaiva/realtime-trading-simulator/cmd/gateway/internal/latest"
	"github.com/paulofpaiva/realtime-trading-simulator/cmd/gateway/internal/repository"
	"github.com/paulofpaiva/realtime-trading-simulator/pkg/config"
)

const burstHeadroom = 64

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := latest.NewStore()
	wsHub := hub.NewHub(store, logger, cfg.Gateway.PublishBuffer)

	var opts []consumer.Option
	opts = append(opts, consumer.WithBackoff(cfg.Processor.RetryBackoff))

	// Redis mirror: warm the cache so late joiners get data right after a restart
	var async *repository.AsyncMirror
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: 2 * time.Second,
		})
		mirror := repository.NewRedisStore(rdb, logger)
		defer mirror.Close()

		warmCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		snaps, err := mirror.LoadAll(warmCtx)
		cancel()
		if err != nil {
			logger.Warn("Redis warm start skipped", zap.Error(err))
		} else {
			logger.Info("Warmed latest store from Redis", zap.Int("instruments", store.Warm(snaps)))
		}
		async = repository.NewAsyncMirror(mirror, logger, cfg.Redis.WriteTimeout)
		opts = append(opts, consumer.WithMirror(async))
	}

	var hist api.HistoryReader
	var recorder *history.Recorder
	if cfg.History.Enabled {
		repo, err := history.Open(ctx, cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			logger.Fatal("Failed to open history store", zap.String("driver", cfg.History.Driver), zap.Error(err))
		}
		defer repo.Close()

		hist = repo
		recorder = history.NewRecorder(repo, logger, cfg.History.BatchSize, cfg.History.FlushInterval)
		opts = append(opts, consumer.WithRecorder(recorder))
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.SnapshotTopic,
		GroupID:        cfg.Kafka.GatewayGroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        cfg.Kafka.MaxWait,
		StartOffset:    kafka.LastOffset,
		CommitInterval: time.Second,
	})
	feed := consumer.New(reader, wsHub, logger, opts...)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		wsHub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		feed.Run(ctx)
	}()
	if async != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			async.Run(ctx)
		}()
	}
	if recorder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Run(ctx)
		}()
	}

	wsHandler := func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			logger.Debug("Websocket upgrade failed", zap.Error(err))
			return
		}
		// Leave room for the whole initial burst plus some live traffic
		sendBuffer := max(cfg.Gateway.SendBuffer, wsHub.Instruments()+burstHeadroom)
		gateway.NewClient(conn, wsHub, logger, sendBuffer).Start()
	}

	srv := &http.Server{
		Addr:    cfg.App.Port,
		Handler: api.NewServer(wsHub, hist, wsHandler, logger, cfg.Logger.Development).Handler(),
	}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	wg.Wait()
	logger.Info("Shutdown Complete")
}
