package history

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/paulofpaiva/realtime-trading-simulator/pkg/models"
)

// BatchWriter is the write side of Repository
type BatchWriter interface {
	InsertBatch(ctx context.Context, snaps []models.Snapshot) error
}

// Recorder buffers snapshots and writes them in batches off the hot path
type Recorder struct {
	writer        BatchWriter
	logger        *zap.Logger
	in            chan models.Snapshot
	batchSize     int
	flushInterval time.Duration
	done          chan struct{}
}

func NewRecorder(writer BatchWriter, logger *zap.Logger, batchSize int, flushInterval time.Duration) *Recorder {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Recorder{
		writer:        writer,
		logger:        logger,
		in:            make(chan models.Snapshot, batchSize*4),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}
}

// Record never blocks; when the buffer is full the snapshot is not persisted
func (r *Recorder) Record(snap models.Snapshot) {
	select {
	case r.in <- snap:
	default:
		r.logger.Warn("Dropping history point, recorder buffer full", zap.String("instrument", snap.Instrument))
	}
}

// Run flushes every batchSize points or flushInterval, and once more after ctx is cancelled
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]models.Snapshot, 0, r.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Shutdown flush must not inherit the cancelled context
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.writer.InsertBatch(writeCtx, batch); err != nil {
			r.logger.Error("Failed to persist history batch", zap.Int("size", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case snap := <-r.in:
					batch = append(batch, snap)
				default:
					flush()
					return
				}
			}
		case snap := <-r.in:
			batch = append(batch, snap)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Wait blocks until Run has returned
func (r *Recorder) Wait() {
	<-r.done
}
