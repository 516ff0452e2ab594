package reconciler_test

import (
	"errors"
	"testing"
	"time"

	"github.com/paulofpaiva/realtime-trading-simulator/pkg/models"
	"github.com/paulofpaiva/realtime-trading-simulator/pkg/reconciler"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestMerge_DuplicateAsOfIsNoop(t *testing.T) {
	r := reconciler.New(100)
	s := models.Snapshot{Instrument: "BTC", LastPrice: 101, MovingAverage: 101, Volatility: 1, AsOf: t0}

	if !r.MergeSnapshot(s) {
		t.Fatal("First snapshot should apply")
	}
	s.LastPrice = 999
	if r.MergeSnapshot(s) {
		t.Error("Same asOf should be a no-op")
	}

	if h := r.History("BTC"); len(h) != 1 {
		t.Fatalf("Expected exactly 1 history entry, got %d", len(h))
	}
	if latest, _ := r.Latest("BTC"); latest.LastPrice != 101 {
		t.Errorf("Duplicate must not change state, got %v", latest.LastPrice)
	}
}

func TestMerge_HistoryCapEvictsOldest(t *testing.T) {
	r := reconciler.New(100)
	for i := 0; i < 101; i++ {
		r.MergeSnapshot(models.Snapshot{Instrument: "ETH", LastPrice: float64(i), AsOf: t0.Add(time.Duration(i) * time.Millisecond)})
	}

	h := r.History("ETH")
	if len(h) != 100 {
		t.Fatalf("Expected 100 points, got %d", len(h))
	}
	if h[0].Price != 1 || h[99].Price != 100 {
		t.Errorf("Expected oldest evicted first, got first=%v last=%v", h[0].Price, h[99].Price)
	}
}

func TestMerge_PushFrame(t *testing.T) {
	r := reconciler.New(10)
	frame := `{"type":"event","event":"priceUpdate","data":{"instrument":"BTC","lastPrice":101,"movingAverage":101,"volatility":1,"asOf":"2026-01-02T03:04:05Z"}}`

	n, err := r.Merge([]byte(frame))
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 applied, got %d, %v", n, err)
	}
	s, ok := r.Latest("BTC")
	if !ok || s.MovingAverage != 101 || s.Volatility != 1 || !s.AsOf.Equal(t0) {
		t.Errorf("Unexpected snapshot %+v", s)
	}
}

func TestMerge_PascalCaseAndAliases(t *testing.T) {
	r := reconciler.New(10)

	pascal := `{"Instrument":"AAPL","LastPrice":"180.5","MovingAverage":180,"Volatility":0.25,"AsOf":"2026-01-02T03:04:05Z"}`
	if n, err := r.Merge([]byte(pascal)); err != nil || n != 1 {
		t.Fatalf("PascalCase snapshot rejected: %d, %v", n, err)
	}
	if s, _ := r.Latest("AAPL"); s.LastPrice != 180.5 || s.Volatility != 0.25 {
		t.Errorf("Unexpected AAPL %+v", s)
	}

	legacy := `{"symbol":"TSLA","lastPrice":250,"movingAverage5s":249,"volatility":2,"timestamp":"2026-01-02T03:04:06Z"}`
	if n, err := r.Merge([]byte(legacy)); err != nil || n != 1 {
		t.Fatalf("symbol/timestamp snapshot rejected: %d, %v", n, err)
	}
	if s, _ := r.Latest("TSLA"); s.MovingAverage != 249 {
		t.Errorf("Unexpected TSLA %+v", s)
	}
}

func TestMerge_LatestResponse(t *testing.T) {
	r := reconciler.New(10)
	resp := `{"type":"latest","id":"r1","data":[
		{"instrument":"BTC","lastPrice":1,"movingAverage":1,"volatility":0,"asOf":"2026-01-02T03:04:05Z"},
		{"lastPrice":2},
		{"instrument":"ETH","lastPrice":3,"movingAverage":3,"volatility":0,"asOf":"2026-01-02T03:04:05Z"}
	]}`

	n, err := r.Merge([]byte(resp))
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected the two valid entries applied, got %d", n)
	}
	if got := r.Instruments(); len(got) != 2 || got[0] != "BTC" || got[1] != "ETH" {
		t.Errorf("Unexpected instruments %v", got)
	}

	// Replaying the same resync is a no-op
	if n, _ := r.Merge([]byte(resp)); n != 0 {
		t.Errorf("Expected resync replay to be de-duplicated, got %d", n)
	}
}

func TestMerge_MalformedNeverMutates(t *testing.T) {
	r := reconciler.New(10)
	r.MergeSnapshot(models.Snapshot{Instrument: "BTC", LastPrice: 1, AsOf: t0})

	cases := []string{
		`{not json`,
		`{"lastPrice":5,"asOf":"2026-01-02T03:04:06Z"}`,
		`{"instrument":"  ","lastPrice":5,"asOf":"2026-01-02T03:04:06Z"}`,
		`{"instrument":"BTC","lastPrice":5}`,
		`{"instrument":"BTC","lastPrice":"abc","asOf":"2026-01-02T03:04:06Z"}`,
		`{"type":"event","data":"oops"}`,
	}
	for _, c := range cases {
		if n, _ := r.Merge([]byte(c)); n != 0 {
			t.Errorf("Payload %s mutated state", c)
		}
	}

	if h := r.History("BTC"); len(h) != 1 {
		t.Errorf("Expected history untouched, got %d points", len(h))
	}
	if s, _ := r.Latest("BTC"); s.LastPrice != 1 {
		t.Errorf("Last-known-good state lost: %+v", s)
	}
}

func TestMerge_MissingInstrumentError(t *testing.T) {
	r := reconciler.New(10)
	_, err := r.Merge([]byte(`{"lastPrice":1,"asOf":"2026-01-02T03:04:05Z"}`))
	if !errors.Is(err, models.ErrMissingInstrument) {
		t.Errorf("Expected ErrMissingInstrument, got %v", err)
	}
}

func TestMerge_AcksIgnored(t *testing.T) {
	r := reconciler.New(10)
	for _, frame := range []string{`{"type":"ack","status":"success","message":"pong"}`, `{"type":"error","message":"x"}`} {
		if n, err := r.Merge([]byte(frame)); n != 0 || err != nil {
			t.Errorf("Frame %s: expected ignore, got %d, %v", frame, n, err)
		}
	}
}

func TestHistory_ReturnsCopy(t *testing.T) {
	r := reconciler.New(10)
	r.MergeSnapshot(models.Snapshot{Instrument: "BTC", LastPrice: 1, AsOf: t0})

	h := r.History("BTC")
	h[0].Price = 42
	if r.History("BTC")[0].Price != 1 {
		t.Error("History must not expose internal state")
	}
}

func TestMerge_DefaultCapacity(t *testing.T) {
	r := reconciler.New(0)
	for i := 0; i < reconciler.DefaultCapacity+5; i++ {
		r.MergeSnapshot(models.Snapshot{Instrument: "X", AsOf: t0.Add(time.Duration(i))})
	}
	if got := len(r.History("X")); got != reconciler.DefaultCapacity {
		t.Errorf("Expected %d, got %d", reconciler.DefaultCapacity, got)
	}
}
