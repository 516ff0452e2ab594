package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/paulofpaiva/realtime-trading-simulator/cmd/aggregator/internal/processor"
	"github.com/paulofpaiva/realtime-trading-simulator/cmd/aggregator/internal/window"
	"github.com/paulofpaiva/realtime-trading-simulator/pkg/config"
)

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

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.TickTopic,
		GroupID:  cfg.Kafka.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  cfg.Kafka.MaxWait,
		// Only ticks produced after start matter for a 5s window
		StartOffset:       kafka.LastOffset,
		CommitInterval:    time.Second,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    10 * time.Second,
	})

	writer := &kafka.Writer{
		Addr:  kafka.TCP(cfg.Kafka.Brokers...),
		Topic: cfg.Kafka.SnapshotTopic,
		// Hash keeps each instrument on one partition, so its snapshots stay ordered
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error("Kafka Writer Error", zap.String("detail", fmt.Sprintf(msg, args...)))
		}),
	}

	agg := window.NewAggregator(cfg.Processor.Window, window.RealClock{})
	proc := processor.NewProcessor(cfg, logger, reader, writer, agg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Aggregating",
		zap.String("ticks", cfg.Kafka.TickTopic),
		zap.String("snapshots", cfg.Kafka.SnapshotTopic),
		zap.Duration("window", cfg.Processor.Window))

	if err := proc.Run(ctx); err != nil {
		logger.Error("Aggregator stopped with error", zap.Error(err))
	}

	logger.Info("Flushing Kafka writer...")
	if err := writer.Close(); err != nil {
		logger.Error("Error closing writer", zap.Error(err))
	}

	logger.Info("Aggregator exited cleanly")
}
