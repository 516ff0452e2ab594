package tests

import (
	"context"
	"fmt"
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

// Many instruments through several workers: every instrument's snapshots keep their order.
func TestProcessor_EndToEnd_ManyInstruments(t *testing.T) {
	instruments := []string{"BTC", "ETH", "AAPL", "TSLA", "MSFT", "GOOG"}
	now := time.Now().UTC()

	var msgs []kafka.Message
	for round := 1; round <= 10; round++ {
		for _, inst := range instruments {
			val := fmt.Sprintf(`{"instrument":%q,"price":%d,"eventTime":%q}`, inst, round, now.Format(time.RFC3339Nano))
			msgs = append(msgs, kafka.Message{Key: []byte(inst), Value: []byte(val)})
		}
	}
	// Use Mock Reader because spinning up real Kafka is heavy/complex for unit tests
	mockReader := &testutils.MockKafkaReader{Messages: msgs}
	mockWriter := &testutils.MockKafkaWriter{}

	cfg := &config.Config{}
	cfg.Processor.NumWorkers = 3
	cfg.Processor.QueueSize = 100

	proc := processor.NewProcessor(cfg, zap.NewNop(), mockReader, mockWriter, window.NewAggregator(time.Minute, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		proc.Run(ctx)
		close(done)
	}()

	// Poll until everything is written (processor is async)
	for i := 0; i < 20 && mockWriter.Count() < len(msgs); i++ {
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	<-done

	if mockWriter.Count() != len(msgs) {
		t.Fatalf("Expected %d snapshots, got %d", len(msgs), mockWriter.Count())
	}

	for _, inst := range instruments {
		for i, raw := range mockWriter.ByKey(inst) {
			snap, err := models.DecodeSnapshot(raw)
			if err != nil {
				t.Fatal(err)
			}
			if snap.LastPrice != float64(i+1) {
				t.Errorf("%s snapshot %d out of order: lastPrice %v", inst, i, snap.LastPrice)
			}
		}
	}
}
