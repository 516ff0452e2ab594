package generator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/paulofpaiva/realtime-trading-simulator/pkg/models"
)

// DefaultBasePrices are the starting points of the random walks
var DefaultBasePrices = map[string]float64{
	"BTC":  50000,
	"ETH":  3000,
	"AAPL": 180,
	"TSLA": 250,
}

var (
	minPrice  = decimal.RequireFromString("0.01")
	stepScale = decimal.NewFromInt(100)
)

// TickGenerator emits one random-walk tick per instrument on every interval
type TickGenerator struct {
	logger   *zap.Logger
	writer   KafkaWriter
	tickers  []string
	prices   map[string]decimal.Decimal
	rand     Rand
	clock    Clock
	interval time.Duration
}

func NewTickGenerator(
	logger *zap.Logger,
	writer KafkaWriter,
	tickers []string,
	basePrices map[string]float64,
	rnd Rand,
	clock Clock,
	interval time.Duration,
) *TickGenerator {
	prices := make(map[string]decimal.Decimal, len(tickers))
	for _, t := range tickers {
		base, ok := basePrices[t]
		if !ok || base <= 0 {
			base = 100
		}
		prices[t] = decimal.NewFromFloat(base)
	}
	return &TickGenerator{
		logger:   logger,
		writer:   writer,
		tickers:  tickers,
		prices:   prices,
		rand:     rnd,
		clock:    clock,
		interval: interval,
	}
}

// NextPrice moves the instrument by a uniform step in [-0.5%, +0.5%), floored at 0.01
func (tg *TickGenerator) NextPrice(symbol string) decimal.Decimal {
	step := decimal.NewFromFloat(tg.rand.Float64() - 0.5).Div(stepScale)
	next := tg.prices[symbol].Mul(decimal.NewFromInt(1).Add(step)).Round(4)
	if next.LessThan(minPrice) {
		next = minPrice
	}
	tg.prices[symbol] = next
	return next
}

func (tg *TickGenerator) Run(ctx context.Context) {
	tg.logger.Info("Generator Started", zap.Strings("tickers", tg.tickers), zap.Duration("interval", tg.interval))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if len(tg.tickers) == 0 {
				tg.clock.Sleep(1 * time.Second)
				continue
			}

			msgs := make([]kafka.Message, 0, len(tg.tickers))
			now := tg.clock.Now().UTC()
			for _, symbol := range tg.tickers {
				tick := models.Tick{Instrument: symbol, Price: tg.NextPrice(symbol), EventTime: now}
				payload, err := json.Marshal(tick)
				if err != nil {
					tg.logger.Error("JSON Marshal Error", zap.Error(err))
					continue
				}
				msgs = append(msgs, kafka.Message{
					Key:   []byte(symbol), // Key ensures partition ordering
					Value: payload,
				})
			}

			if err := tg.writer.WriteMessages(ctx, msgs...); err != nil {
				tg.logger.Error("Kafka Write Error", zap.Error(err))
			} else {
				tg.logger.Debug("Sent ticks", zap.Int("count", len(msgs)))
			}

			tg.clock.Sleep(tg.interval)
		}
	}
}
