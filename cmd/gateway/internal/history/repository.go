package history

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/paulofpaiva/realtime-trading-simulator/pkg/models"
)

const (
	DefaultLimit = 500
	MaxLimit     = 5000
)

// Point is one persisted snapshot
type Point struct {
	Symbol        string    `json:"symbol"`
	LastPrice     float64   `json:"lastPrice"`
	MovingAverage float64   `json:"movingAverage"`
	Volatility    float64   `json:"volatility"`
	Timestamp     time.Time `json:"timestamp"`
}

type Symbol struct {
	Symbol      string `json:"symbol"`
	DisplayName string `json:"displayName"`
}

var defaultSymbols = []Symbol{
	{"BTC", "Bitcoin"},
	{"ETH", "Ethereum"},
	{"AAPL", "Apple Inc"},
	{"TSLA", "Tesla"},
}

type dialect struct {
	driver   string
	idColumn string
	numbered bool // $1 placeholders instead of ?
}

var dialects = map[string]dialect{
	"sqlite":   {driver: "sqlite", idColumn: "id INTEGER PRIMARY KEY AUTOINCREMENT"},
	"postgres": {driver: "postgres", idColumn: "id BIGSERIAL PRIMARY KEY", numbered: true},
}

// rebind rewrites ? placeholders for drivers that want $n
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Repository stores snapshots in asset_analytics. Timestamps are unix microseconds.
type Repository struct {
	db      *sql.DB
	dialect dialect
}

func Open(ctx context.Context, driver, dsn string) (*Repository, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported history driver %q", driver)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// A single connection keeps in-memory databases alive and avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	r := &Repository{db: db, dialect: d}
	if err := r.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS asset_analytics (
			%s,
			symbol VARCHAR(32) NOT NULL,
			last_price DOUBLE PRECISION NOT NULL,
			moving_average DOUBLE PRECISION NOT NULL,
			volatility DOUBLE PRECISION NOT NULL,
			ts BIGINT NOT NULL
		)`, r.dialect.idColumn),
		`CREATE INDEX IF NOT EXISTS idx_asset_analytics_symbol_ts ON asset_analytics (symbol, ts)`,
		`CREATE TABLE IF NOT EXISTS symbols (
			symbol VARCHAR(32) PRIMARY KEY,
			display_name VARCHAR(128)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	seed := r.dialect.rebind(`INSERT INTO symbols (symbol, display_name) VALUES (?, ?) ON CONFLICT (symbol) DO NOTHING`)
	for _, s := range defaultSymbols {
		if _, err := r.db.ExecContext(ctx, seed, s.Symbol, s.DisplayName); err != nil {
			return fmt.Errorf("seed symbol %s: %w", s.Symbol, err)
		}
	}
	return nil
}

// InsertBatch writes all snapshots in one transaction
func (r *Repository) InsertBatch(ctx context.Context, snaps []models.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, r.dialect.rebind(
		`INSERT INTO asset_analytics (symbol, last_price, moving_average, volatility, ts) VALUES (?, ?, ?, ?, ?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range snaps {
		if _, err := stmt.ExecContext(ctx, s.Instrument, s.LastPrice, s.MovingAverage, s.Volatility, s.AsOf.UnixMicro()); err != nil {
			return fmt.Errorf("insert %s: %w", s.Instrument, err)
		}
	}
	return tx.Commit()
}

// ClampLimit maps a requested row count onto [1, MaxLimit]; 0 means DefaultLimit
func ClampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultLimit
	case limit < 1:
		return 1
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// Query returns the newest limit points of symbol inside [from, to], oldest first.
// A zero from or to leaves that side open.
func (r *Repository) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]Point, error) {
	q := `SELECT symbol, last_price, moving_average, volatility, ts FROM asset_analytics WHERE symbol = ?`
	args := []interface{}{symbol}
	if !from.IsZero() {
		q += ` AND ts >= ?`
		args = append(args, from.UnixMicro())
	}
	if !to.IsZero() {
		q += ` AND ts <= ?`
		args = append(args, to.UnixMicro())
	}
	q += ` ORDER BY ts DESC, id DESC LIMIT ?`
	args = append(args, ClampLimit(limit))

	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]Point, 0)
	for rows.Next() {
		var p Point
		var ts int64
		if err := rows.Scan(&p.Symbol, &p.LastPrice, &p.MovingAverage, &p.Volatility, &ts); err != nil {
			return nil, err
		}
		p.Timestamp = time.UnixMicro(ts).UTC()
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

func (r *Repository) Symbols(ctx context.Context) ([]Symbol, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT symbol, display_name FROM symbols ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Symbol, 0)
	for rows.Next() {
		var s Symbol
		var name sql.NullString
		if err := rows.Scan(&s.Symbol, &name); err != nil {
			return nil, err
		}
		s.DisplayName = s.Symbol
		if name.Valid && name.String != "" {
			s.DisplayName = name.String
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) Close() error {
	return r.db.Close()
}
