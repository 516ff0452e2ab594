package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/paulofpaiva/realtime-trading-simulator/cmd/generator/internal/generator"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	generator.NewTopicCreator(logger, generator.BrokerDialer(10*time.Second), generator.SystemClock{}).
		Create(ctx, cfg.Kafka.Brokers, cfg.Kafka.TickTopic, cfg.Kafka.SnapshotTopic)

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.TickTopic,
		Balancer: &kafka.Hash{},
		// Send batches to reduce network IO
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error("Kafka Writer Error", zap.String("detail", fmt.Sprintf(msg, args...)))
		}),
	}

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	gen := generator.NewTickGenerator(logger, writer, cfg.Generator.Tickers, generator.DefaultBasePrices, rnd, generator.SystemClock{}, cfg.Generator.Interval)

	gen.Run(ctx)
	logger.Info("Shutdown signal received")

	// Flush Kafka buffer
	if err := writer.Close(); err != nil {
		logger.Error("Error closing Kafka writer", zap.Error(err))
	} else {
		logger.Info("Kafka writer closed cleanly")
	}
}
