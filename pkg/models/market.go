package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingInstrument = errors.New("missing instrument")
	ErrMissingPrice      = errors.New("missing price")
	ErrMissingEventTime  = errors.New("missing eventTime")
)

// Tick is a single observed price for one instrument
type Tick struct {
	Instrument string          `json:"instrument"`
	Price      decimal.Decimal `json:"price"`
	EventTime  time.Time       `json:"eventTime"` // ISO-8601 UTC
}

// Snapshot holds the statistics derived from one instrument's window at one evaluation point
type Snapshot struct {
	Instrument    string    `json:"instrument"`
	LastPrice     float64   `json:"lastPrice"`
	MovingAverage float64   `json:"movingAverage"`
	Volatility    float64   `json:"volatility"`
	AsOf          time.Time `json:"asOf"`
}

type tickWire struct {
	Instrument string              `json:"instrument"`
	Price      decimal.NullDecimal `json:"price"`
	EventTime  time.Time           `json:"eventTime"`
}

// DecodeTick parses a tick payload. Blank instrument, absent price and absent eventTime are errors.
func DecodeTick(payload []byte) (Tick, error) {
	var w tickWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return Tick{}, fmt.Errorf("decode tick: %w", err)
	}

	instrument := strings.TrimSpace(w.Instrument)
	switch {
	case instrument == "":
		return Tick{}, ErrMissingInstrument
	case !w.Price.Valid:
		return Tick{}, ErrMissingPrice
	case w.EventTime.IsZero():
		return Tick{}, ErrMissingEventTime
	}

	return Tick{Instrument: instrument, Price: w.Price.Decimal, EventTime: w.EventTime.UTC()}, nil
}

// DecodeSnapshot parses a snapshot produced by the aggregator
func DecodeSnapshot(payload []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if strings.TrimSpace(s.Instrument) == "" {
		return Snapshot{}, ErrMissingInstrument
	}
	s.AsOf = s.AsOf.UTC()
	return s, nil
}
