// Package reconciler is the subscriber side of the price feed. It merges the
// on-connect burst, pull responses and live pushes into a bounded history per
// instrument, and drives the websocket connection lifecycle.
package reconciler

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paulofpaiva/realtime-trading-simulator/pkg/models"
)

const DefaultCapacity = 100

var ErrMissingAsOf = errors.New("missing asOf")

// Point is one entry of an instrument's client-side history
type Point struct {
	Time          time.Time `json:"time"`
	Price         float64   `json:"price"`
	MovingAverage float64   `json:"movingAverage"`
	Volatility    float64   `json:"volatility"`
}

type Reconciler struct {
	mu       sync.RWMutex
	capacity int
	latest   map[string]models.Snapshot
	history  map[string][]Point
}

func New(capacity int) *Reconciler {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Reconciler{
		capacity: capacity,
		latest:   make(map[string]models.Snapshot),
		history:  make(map[string][]Point),
	}
}

// Merge applies one websocket payload and reports how many snapshots changed state.
// It understands push frames, get_latest responses, bare arrays and bare snapshots;
// acks and errors are ignored. Unusable snapshots are skipped individually.
func (r *Reconciler) Merge(payload []byte) (int, error) {
	snaps, err := parseFrame(payload)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, s := range snaps {
		if r.MergeSnapshot(s) {
			applied++
		}
	}
	return applied, nil
}

// MergeSnapshot is a no-op when asOf equals the stored latest for that instrument
func (r *Reconciler) MergeSnapshot(s models.Snapshot) bool {
	if s.Instrument == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.latest[s.Instrument]; ok && prev.AsOf.Equal(s.AsOf) {
		return false
	}
	r.latest[s.Instrument] = s

	h := r.history[s.Instrument]
	if len(h) >= r.capacity {
		// shift in place so the backing array does not grow
		copy(h, h[len(h)-r.capacity+1:])
		h = h[:r.capacity-1]
	}
	r.history[s.Instrument] = append(h, Point{
		Time:          s.AsOf,
		Price:         s.LastPrice,
		MovingAverage: s.MovingAverage,
		Volatility:    s.Volatility,
	})
	return true
}

// History returns a copy, oldest first
func (r *Reconciler) History(instrument string) []Point {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Point(nil), r.history[instrument]...)
}

func (r *Reconciler) Latest(instrument string) (models.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.latest[instrument]
	return s, ok
}

func (r *Reconciler) Instruments() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.latest))
	for k := range r.latest {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func parseFrame(payload []byte) ([]models.Snapshot, error) {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "[") {
		return parseArray([]byte(trimmed))
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	raw, hasType := lookup(obj, "type", "Type")
	if !hasType {
		s, err := parseSnapshot(obj)
		if err != nil {
			return nil, err
		}
		return []models.Snapshot{s}, nil
	}

	var frameType string
	if err := json.Unmarshal(raw, &frameType); err != nil {
		return nil, fmt.Errorf("decode frame type: %w", err)
	}
	data, _ := lookup(obj, "data", "Data")

	switch frameType {
	case "event":
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, fmt.Errorf("decode event data: %w", err)
		}
		s, err := parseSnapshot(inner)
		if err != nil {
			return nil, err
		}
		return []models.Snapshot{s}, nil
	case "latest":
		return parseArray(data)
	default:
		return nil, nil
	}
}

func parseArray(data []byte) ([]models.Snapshot, error) {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode snapshot list: %w", err)
	}
	out := make([]models.Snapshot, 0, len(items))
	for _, item := range items {
		if s, err := parseSnapshot(item); err == nil {
			out = append(out, s)
		}
	}
	return out, nil
}

// parseSnapshot accepts camelCase and PascalCase keys, plus the symbol/timestamp/movingAverage5s aliases
func parseSnapshot(obj map[string]json.RawMessage) (models.Snapshot, error) {
	var s models.Snapshot

	if raw, ok := lookup(obj, "instrument", "Instrument", "symbol", "Symbol"); ok {
		var name string
		if err := json.Unmarshal(raw, &name); err == nil {
			s.Instrument = strings.TrimSpace(name)
		}
	}
	if s.Instrument == "" {
		return s, models.ErrMissingInstrument
	}

	raw, ok := lookup(obj, "asOf", "AsOf", "timestamp", "Timestamp")
	if !ok {
		return s, ErrMissingAsOf
	}
	if err := json.Unmarshal(raw, &s.AsOf); err != nil || s.AsOf.IsZero() {
		return s, ErrMissingAsOf
	}
	s.AsOf = s.AsOf.UTC()

	var err error
	if s.LastPrice, err = number(obj, "lastPrice", "LastPrice"); err != nil {
		return s, err
	}
	if s.MovingAverage, err = number(obj, "movingAverage", "MovingAverage", "movingAverage5s", "MovingAverage5s"); err != nil {
		return s, err
	}
	if s.Volatility, err = number(obj, "volatility", "Volatility"); err != nil {
		return s, err
	}
	return s, nil
}

func lookup(obj map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

// number reads a JSON number or numeric string; an absent field is 0
func number(obj map[string]json.RawMessage, keys ...string) (float64, error) {
	raw, ok := lookup(obj, keys...)
	if !ok {
		return 0, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, fmt.Errorf("%s: not a number", keys[0])
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", keys[0], err)
	}
	return f, nil
}
