package consumer

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/paulofpaiva/realtime-trading-simulator/pkg/models"
)

type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Publisher interface {
	Publish(snap models.Snapshot)
}

// Mirror must not block; see repository.AsyncMirror
type Mirror interface {
	Save(snap models.Snapshot)
}

type Recorder interface {
	Record(snap models.Snapshot)
}

// Consumer feeds snapshots from the analytics topic into the gateway
type Consumer struct {
	reader    KafkaReader
	publisher Publisher
	mirror    Mirror   // optional
	recorder  Recorder // optional
	logger    *zap.Logger
	backoff   time.Duration
}

type Option func(*Consumer)

func WithMirror(m Mirror) Option { return func(c *Consumer) { c.mirror = m } }

func WithRecorder(r Recorder) Option { return func(c *Consumer) { c.recorder = r } }

func WithBackoff(d time.Duration) Option { return func(c *Consumer) { c.backoff = d } }

func New(reader KafkaReader, publisher Publisher, logger *zap.Logger, opts ...Option) *Consumer {
	c := &Consumer{
		reader:    reader,
		publisher: publisher,
		logger:    logger,
		backoff:   time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run reads until ctx is cancelled, then closes the reader
func (c *Consumer) Run(ctx context.Context) {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Error("Failed to close reader", zap.Error(err))
		}
	}()

	var count int
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("Kafka read error, retrying", zap.Error(err), zap.Duration("backoff", c.backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
			continue
		}

		if c.Handle(msg.Value) {
			count++
			if count <= 3 || count%500 == 0 {
				c.logger.Info("Broadcast snapshot", zap.Int("count", count), zap.ByteString("payload", msg.Value))
			}
		}
	}
}

// Handle applies one payload; it reports false when the payload is not a snapshot
func (c *Consumer) Handle(payload []byte) bool {
	snap, err := models.DecodeSnapshot(payload)
	if err != nil {
		c.logger.Warn("Invalid analytics payload", zap.Error(err), zap.ByteString("payload", payload))
		return false
	}

	// The hub dispatcher updates the latest-value cache
	c.publisher.Publish(snap)

	if c.mirror != nil {
		c.mirror.Save(snap)
	}
	if c.recorder != nil {
		c.recorder.Record(snap)
	}
	return true
}
