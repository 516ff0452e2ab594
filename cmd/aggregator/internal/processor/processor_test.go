package processor_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/paulofpaiva/realtime-trading-simulator/cmd/aggregator/internal/processor"
	"github.com/paulofpaiva/realtime-trading-simulator/cmd/aggregator/internal/testutils"
	"github.com/paulofpaiva/realtime-trading-simulator/cmd/aggregator/internal/window"
	"github.com/paulofpaiva/realtime-trading-simulator/pkg/config"
	"github.com/paulofpaiva/realtime-trading-simulator/pkg/models"
)

func tickMsg(instrument string, price float64, ts time.Time) kafka.Message {
	val := fmt.Sprintf(`{"instrument":%q,"price":%v,"eventTime":%q}`, instrument, price, ts.UTC().Format(time.RFC3339Nano))
	return kafka.Message{Key: []byte(instrument), Value: []byte(val)}
}

func testConfig(workers int) *config.Config {
	cfg := &config.Config{}
	cfg.Processor.NumWorkers = workers
	cfg.Processor.RetryBackoff = 10 * time.Millisecond
	return cfg
}

func runFor(t *testing.T, proc *processor.Processor, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := proc.Run(ctx); err != nil {
		t.Logf("Processor stopped: %v", err)
	}
}

func TestProcessor_WorkerLogic(t *testing.T) {
	now := time.Now()
	msgs := []kafka.Message{
		tickMsg("BTC", 100, now),
		tickMsg("BTC", 102, now),
		{Key: []byte("BTC"), Value: []byte("{broken-json")},
		tickMsg("BTC", 101, now),
		tickMsg("ETH", 3000, now),
	}

	mockReader := &testutils.MockKafkaReader{Messages: msgs}
	mockWriter := &testutils.MockKafkaWriter{}
	agg := window.NewAggregator(5*time.Second, nil)

	proc := processor.NewProcessor(testConfig(2), zap.NewNop(), mockReader, mockWriter, agg)
	runFor(t, proc, 500*time.Millisecond)

	if mockWriter.Count() != 4 {
		t.Fatalf("Expected 4 snapshots, got %d", mockWriter.Count())
	}

	btc := mockWriter.ByKey("BTC")
	if len(btc) != 3 {
		t.Fatalf("Expected 3 BTC snapshots, got %d", len(btc))
	}

	// Same instrument is produced in ingestion order
	wantLast := []float64{100, 102, 101}
	for i, raw := range btc {
		snap, err := models.DecodeSnapshot(raw)
		if err != nil {
			t.Fatalf("Invalid snapshot JSON: %v", err)
		}
		if snap.LastPrice != wantLast[i] {
			t.Errorf("Snapshot %d: expected lastPrice %v, got %v", i, wantLast[i], snap.LastPrice)
		}
	}

	final, _ := models.DecodeSnapshot(btc[2])
	if math.Abs(final.MovingAverage-101) > 1e-9 || math.Abs(final.Volatility-1) > 1e-9 {
		t.Errorf("Unexpected final BTC stats %+v", final)
	}

	if len(mockWriter.ByKey("ETH")) != 1 {
		t.Error("Missing ETH snapshot")
	}
}

func TestProcessor_SnapshotWireFormat(t *testing.T) {
	mockReader := &testutils.MockKafkaReader{Messages: []kafka.Message{tickMsg("AAPL", 180, time.Now())}}
	mockWriter := &testutils.MockKafkaWriter{}

	proc := processor.NewProcessor(testConfig(1), zap.NewNop(), mockReader, mockWriter, window.NewAggregator(0, nil))
	runFor(t, proc, 200*time.Millisecond)

	raw := mockWriter.ByKey("AAPL")
	if len(raw) != 1 {
		t.Fatalf("Expected 1 snapshot, got %d", len(raw))
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw[0], &fields); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"instrument", "lastPrice", "movingAverage", "volatility", "asOf"} {
		if _, ok := fields[k]; !ok {
			t.Errorf("Snapshot missing camelCase field %q: %s", k, raw[0])
		}
	}
}

func TestProcessor_InvalidJSON(t *testing.T) {
	msgs := []kafka.Message{
		{Key: []byte("AAPL"), Value: []byte("{broken-json")},
	}

	mockReader := &testutils.MockKafkaReader{Messages: msgs}
	mockWriter := &testutils.MockKafkaWriter{}

	proc := processor.NewProcessor(testConfig(1), zap.NewNop(), mockReader, mockWriter, window.NewAggregator(0, nil))
	runFor(t, proc, 200*time.Millisecond)

	if mockWriter.Count() > 0 {
		t.Error("Should not write snapshots for invalid JSON")
	}
}

func TestProcessor_RetriesTransientReadErrors(t *testing.T) {
	mockReader := &testutils.MockKafkaReader{
		Errors:   []error{errors.New("broker unreachable"), kafka.RequestTimedOut},
		Messages: []kafka.Message{tickMsg("BTC", 1, time.Now())},
	}
	mockWriter := &testutils.MockKafkaWriter{}

	proc := processor.NewProcessor(testConfig(1), zap.NewNop(), mockReader, mockWriter, window.NewAggregator(0, nil))
	runFor(t, proc, 300*time.Millisecond)

	if mockWriter.Count() != 1 {
		t.Errorf("Expected loop to survive read errors and process 1 tick, got %d", mockWriter.Count())
	}
}

func TestProcessor_WriteFailureDoesNotStopLoop(t *testing.T) {
	now := time.Now()
	mockReader := &testutils.MockKafkaReader{Messages: []kafka.Message{tickMsg("BTC", 1, now), tickMsg("BTC", 2, now)}}
	mockWriter := &testutils.MockKafkaWriter{ShouldFail: true}

	proc := processor.NewProcessor(testConfig(1), zap.NewNop(), mockReader, mockWriter, window.NewAggregator(0, nil))
	runFor(t, proc, 200*time.Millisecond)

	mockReader.Mu.Lock()
	defer mockReader.Mu.Unlock()
	if mockReader.Index != 2 {
		t.Errorf("Expected both ticks to be read, got %d", mockReader.Index)
	}
}

func TestProcessor_ClosesReaderOnShutdown(t *testing.T) {
	mockReader := &testutils.MockKafkaReader{}
	proc := processor.NewProcessor(testConfig(2), zap.NewNop(), mockReader, &testutils.MockKafkaWriter{}, window.NewAggregator(0, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		proc.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly after cancellation")
	}

	if !mockReader.IsClosed() {
		t.Error("Reader should be closed on shutdown")
	}
}
