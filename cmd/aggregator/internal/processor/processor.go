package processor

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/paulofpaiva/realtime-trading-simulator/pkg/config"
)

type Processor struct {
	logger       Logger
	reader       KafkaReader
	writer       KafkaWriter
	agg          Aggregator
	numWorkers   int
	queueSize    int
	retryBackoff time.Duration
}

func NewProcessor(cfg *config.Config, logger Logger, reader KafkaReader, writer KafkaWriter, agg Aggregator) *Processor {
	queueSize := cfg.Processor.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	numWorkers := cfg.Processor.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Processor{
		logger:       logger,
		reader:       reader,
		writer:       writer,
		agg:          agg,
		numWorkers:   numWorkers,
		queueSize:    queueSize,
		retryBackoff: cfg.Processor.RetryBackoff,
	}
}

// Run consumes ticks until ctx is cancelled. On return the reader is closed and
// every worker has finished the tick it was holding.
func (p *Processor) Run(ctx context.Context) error {
	workerChans := make([]chan kafka.Message, p.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < p.numWorkers; i++ {
		workerChans[i] = make(chan kafka.Message, p.queueSize)
		wg.Add(1)
		go p.worker(ctx, i, workerChans[i], &wg)
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		p.readLoop(ctx, workerChans)
	}()

	<-ctx.Done()
	p.logger.Info("Shutdown signal received, stopping aggregator...")

	if err := p.reader.Close(); err != nil {
		p.logger.Error("Error closing reader", zap.Error(err))
	}
	<-readerDone

	for _, ch := range workerChans {
		close(ch)
	}
	p.logger.Info("Waiting for workers to drain...")
	wg.Wait()

	return nil
}

func (p *Processor) readLoop(ctx context.Context, workerChans []chan kafka.Message) {
	p.logger.Info("Aggregator Started", zap.Int("workers", p.numWorkers))
	for {
		m, err := p.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("Kafka Read Error", zap.Error(err))
			if !sleepCtx(ctx, p.retryBackoff) {
				return
			}
			continue
		}

		// Deterministic Sharding: Same instrument always goes to same worker
		workerID := getWorkerID(shardKey(m), p.numWorkers)

		select {
		case workerChans[workerID] <- m:
		case <-ctx.Done():
			return
		default:
			p.logger.Warn("Dropping slow packet", zap.String("key", string(m.Key)), zap.Int("worker_id", workerID))
		}
	}
}

func (p *Processor) worker(ctx context.Context, id int, msgs <-chan kafka.Message, wg *sync.WaitGroup) {
	defer wg.Done()
	// Background context: a snapshot already computed is still written during shutdown
	writeCtx := context.Background()

	for m := range msgs {
		if ctx.Err() != nil {
			// Shutting down: queued ticks are not started
			continue
		}

		snap, ok, err := p.agg.IngestPayload(m.Value)
		if err != nil {
			p.logger.Warn("Skipping malformed tick", zap.Error(err), zap.String("key", string(m.Key)), zap.Int64("offset", m.Offset))
			continue
		}
		if !ok {
			p.logger.Debug("Window empty after eviction", zap.String("key", string(m.Key)))
			continue
		}

		payload, err := json.Marshal(snap)
		if err != nil {
			p.logger.Error("JSON Marshal Error", zap.Error(err), zap.String("instrument", snap.Instrument))
			continue
		}

		err = p.writer.WriteMessages(writeCtx, kafka.Message{
			Key:   []byte(snap.Instrument),
			Value: payload,
		})
		if err != nil {
			p.logger.Error("Kafka Write Error", zap.Error(err), zap.String("instrument", snap.Instrument))
			continue
		}
		p.logger.Debug("Processed", zap.String("instrument", snap.Instrument), zap.Int("worker_id", id))
	}
}

// shardKey prefers the message key and falls back to the instrument in the payload
func shardKey(m kafka.Message) []byte {
	if len(m.Key) > 0 {
		return m.Key
	}
	var probe struct {
		Instrument string `json:"instrument"`
	}
	if err := json.Unmarshal(m.Value, &probe); err == nil {
		return []byte(probe.Instrument)
	}
	return nil
}

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(numWorkers))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
