package repository_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/paulofpaiva/realtime-trading-simulator/cmd/gateway/internal/repository"
	"github.com/paulofpaiva/realtime-trading-simulator/cmd/gateway/internal/testutils"
	"github.com/paulofpaiva/realtime-trading-simulator/pkg/models"
)

func TestAsyncMirror_WritesThroughToRedis(t *testing.T) {
	store, _ := setup(t)
	m := repository.NewAsyncMirror(store, zap.NewNop(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)

	asOf := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m.Save(models.Snapshot{Instrument: "BTC", LastPrice: 101, MovingAverage: 101, AsOf: asOf})
	m.Save(models.Snapshot{Instrument: "ETH", LastPrice: 3000, MovingAverage: 3000, AsOf: asOf})

	cancel()
	m.Wait()

	snaps, err := store.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("Expected both instruments mirrored after shutdown flush, got %+v", snaps)
	}
}

func TestAsyncMirror_CoalescesPerInstrument(t *testing.T) {
	backend := &testutils.MockMirror{}
	// Run is not started, so everything stays pending
	m := repository.NewAsyncMirror(backend, zap.NewNop(), time.Second)

	asOf := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m.Save(models.Snapshot{Instrument: "BTC", LastPrice: 101, AsOf: asOf})
	m.Save(models.Snapshot{Instrument: "BTC", LastPrice: 103, AsOf: asOf.Add(2 * time.Second)})
	m.Save(models.Snapshot{Instrument: "BTC", LastPrice: 102, AsOf: asOf.Add(time.Second)})

	if m.Pending() != 1 {
		t.Fatalf("Expected one pending instrument, got %d", m.Pending())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Run(ctx)

	if backend.Count() != 1 {
		t.Fatalf("Expected a single write, got %d", backend.Count())
	}
	if got := backend.Saved[0].LastPrice; got != 103 {
		t.Errorf("Expected newest snapshot 103 to win, got %v", got)
	}
}

func TestAsyncMirror_FlushIsBoundedByTimeout(t *testing.T) {
	backend := &testutils.MockMirror{Delay: time.Second}
	m := repository.NewAsyncMirror(backend, zap.NewNop(), 30*time.Millisecond)

	asOf := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, inst := range []string{"AAPL", "BTC", "ETH", "MSFT"} {
		m.Save(models.Snapshot{Instrument: inst, AsOf: asOf})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	m.Run(ctx)

	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Flush against a stalled mirror took %v", elapsed)
	}
	if backend.Count() != 0 {
		t.Errorf("Timed out writes should not be recorded, got %d", backend.Count())
	}
}
