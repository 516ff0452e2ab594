package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/paulofpaiva/realtime-trading-simulator/pkg/config"
	"github.com/paulofpaiva/realtime-trading-simulator/pkg/reconciler"
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

	rec := reconciler.New(cfg.Client.HistoryCap)
	session := reconciler.NewSession(reconciler.SessionConfig{
		URL:                  cfg.Client.URL,
		MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Client.ReconnectDelay,
		ReadTimeout:          cfg.Client.ReadTimeout,
	}, rec, logger)

	go report(ctx, rec, logger)

	if err := session.Run(ctx); err != nil {
		logger.Error("Session ended", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Watch stopped")
}

// report logs the merged view once a second
func report(ctx context.Context, rec *reconciler.Reconciler, logger *zap.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, instrument := range rec.Instruments() {
				s, _ := rec.Latest(instrument)
				logger.Info("Price",
					zap.String("instrument", instrument),
					zap.Float64("lastPrice", s.LastPrice),
					zap.Float64("movingAverage", s.MovingAverage),
					zap.Float64("volatility", s.Volatility),
					zap.Time("asOf", s.AsOf),
					zap.Int("points", len(rec.History(instrument))))
			}
		}
	}
}
