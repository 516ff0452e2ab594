package window

import (
	"sync"
	"time"

	"github.com/paulofpaiva/realtime-trading-simulator/pkg/models"
)

// DefaultSpan is how far back a window reaches from the evaluation time
const DefaultSpan = 5 * time.Second

// Clock supplies processing time. Eviction is measured against it, not against tick event time.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Aggregator owns one Window per instrument.
// The registry lock is only held to look a window up; each window has its own lock,
// so ticks for different instruments never wait on each other.
type Aggregator struct {
	span  time.Duration
	clock Clock

	mu      sync.Mutex
	windows map[string]*Window
}

func NewAggregator(span time.Duration, clock Clock) *Aggregator {
	if span <= 0 {
		span = DefaultSpan
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Aggregator{
		span:    span,
		clock:   clock,
		windows: make(map[string]*Window),
	}
}

// Ingest appends the tick to its instrument's window and returns the resulting snapshot.
// ok is false when nothing survives eviction.
func (a *Aggregator) Ingest(tick models.Tick) (models.Snapshot, bool) {
	w := a.window(tick.Instrument)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := a.clock.Now()
	w.add(tick.EventTime, tick.Price, now, a.span)

	st, ok := w.compute()
	if !ok {
		return models.Snapshot{}, false
	}

	return models.Snapshot{
		Instrument:    tick.Instrument,
		LastPrice:     st.lastPrice.InexactFloat64(),
		MovingAverage: st.movingAverage.InexactFloat64(),
		Volatility:    st.volatility,
		AsOf:          now.UTC(),
	}, true
}

// IngestPayload decodes a raw tick and ingests it. A decode error leaves every window untouched.
func (a *Aggregator) IngestPayload(payload []byte) (models.Snapshot, bool, error) {
	tick, err := models.DecodeTick(payload)
	if err != nil {
		return models.Snapshot{}, false, err
	}
	snap, ok := a.Ingest(tick)
	return snap, ok, nil
}

// Instruments returns the number of instruments that have a window
func (a *Aggregator) Instruments() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.windows)
}

func (a *Aggregator) window(instrument string) *Window {
	a.mu.Lock()
	defer a.mu.Unlock()

	w, ok := a.windows[instrument]
	if !ok {
		w = &Window{}
		a.windows[instrument] = w
	}
	return w
}
