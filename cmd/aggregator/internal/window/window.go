package window

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type entry struct {
	ts    time.Time
	price decimal.Decimal
}

// Window is the ordered list of recent prices of a single instrument.
// Entries are kept in arrival order, which is not necessarily timestamp order.
type Window struct {
	mu      sync.Mutex
	entries []entry
}

type stats struct {
	lastPrice     decimal.Decimal
	movingAverage decimal.Decimal
	volatility    float64
}

// add appends a price and evicts everything with ts <= now-span.
// Caller must hold w.mu.
func (w *Window) add(ts time.Time, price decimal.Decimal, now time.Time, span time.Duration) {
	w.entries = append(w.entries, entry{ts: ts, price: price})
	w.evict(now.Add(-span))
}

// evict drops entries at or before cutoff, keeping arrival order. A late tick
// appended behind fresher ones is dropped as well.
func (w *Window) evict(cutoff time.Time) {
	kept := w.entries[:0]
	for _, e := range w.entries {
		if e.ts.After(cutoff) {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(w.entries); i++ {
		w.entries[i] = entry{}
	}
	w.entries = kept
}

// compute returns the window statistics; ok is false for an empty window.
// Caller must hold w.mu.
func (w *Window) compute() (stats, bool) {
	n := len(w.entries)
	if n == 0 {
		return stats{}, false
	}

	sum := decimal.Zero
	for _, e := range w.entries {
		sum = sum.Add(e.price)
	}
	mean := sum.Div(decimal.NewFromInt(int64(n)))

	return stats{
		lastPrice:     w.entries[n-1].price,
		movingAverage: mean,
		volatility:    sampleStdDev(w.entries, mean),
	}, true
}

// sampleStdDev uses Bessel's correction; fewer than two points have no spread
func sampleStdDev(entries []entry, mean decimal.Decimal) float64 {
	if len(entries) < 2 {
		return 0
	}

	sumSq := decimal.Zero
	for _, e := range entries {
		d := e.price.Sub(mean)
		sumSq = sumSq.Add(d.Mul(d))
	}
	variance := sumSq.Div(decimal.NewFromInt(int64(len(entries) - 1)))

	// sqrt is the only step done in float64
	return math.Sqrt(variance.InexactFloat64())
}
