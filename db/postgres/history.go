// Package postgres serves telemetry snapshots from a Postgres query_history
// table, for deployments that already keep execution history there.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/santoshpalla27/taulayer/decision/telemetry"
)

const createHistoryTable = `
	CREATE TABLE IF NOT EXISTS query_history (
		id              UUID PRIMARY KEY,
		shape           TEXT NOT NULL,
		latency_seconds DOUBLE PRECISION NOT NULL,
		cost_usd        NUMERIC(18, 6) NOT NULL DEFAULT 0,
		load_factor     DOUBLE PRECISION NOT NULL DEFAULT 1,
		failed          BOOLEAN NOT NULL DEFAULT FALSE,
		executed_at     TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS query_history_shape_executed_at
		ON query_history (shape, executed_at DESC);
`

const snapshotQuery = `
	SELECT
		count(*),
		COALESCE(percentile_cont(0.5) WITHIN GROUP (ORDER BY latency_seconds), 0),
		COALESCE(percentile_cont(0.9) WITHIN GROUP (ORDER BY latency_seconds), 0),
		COALESCE(avg(cost_usd), 0)::TEXT,
		COALESCE(avg(load_factor) FILTER (WHERE executed_at >= $3), 1)
	FROM query_history
	WHERE shape = $1 AND executed_at >= $2 AND NOT failed
`

// History implements telemetry.Lookup over query_history.
type History struct {
	db         *sql.DB
	loadWindow time.Duration
}

// Open connects with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*History, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewHistory(db), nil
}

// NewHistory wraps an existing handle.
func NewHistory(db *sql.DB) *History {
	return &History{db: db, loadWindow: 5 * time.Minute}
}

func (h *History) Migrate(ctx context.Context) error {
	if _, err := h.db.ExecContext(ctx, createHistoryTable); err != nil {
		return fmt.Errorf("failed to create query_history: %w", err)
	}
	return nil
}

func (h *History) Close() error {
	return h.db.Close()
}

// Lookup implements telemetry.Lookup.
func (h *History) Lookup(ctx context.Context, key telemetry.Key) (*telemetry.Snapshot, error) {
	now := time.Now().UTC()
	var (
		count    int64
		p50, p90 float64
		avgCost  string
		load     float64
	)
	err := h.db.QueryRowContext(ctx, snapshotQuery, key.Shape, now.Add(-key.Window), now.Add(-h.loadWindow)).
		Scan(&count, &p50, &p90, &avgCost, &load)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return toSnapshot(count, p50, p90, avgCost, load)
}

func toSnapshot(count int64, p50, p90 float64, avgCost string, load float64) (*telemetry.Snapshot, error) {
	if count == 0 {
		return nil, telemetry.ErrNoData
	}
	cost, err := decimal.NewFromString(avgCost)
	if err != nil {
		return nil, fmt.Errorf("invalid average cost %q: %w", avgCost, err)
	}
	if cost.IsNegative() {
		cost = decimal.Zero
	}
	return &telemetry.Snapshot{
		Samples:    int(count),
		LatencyP50: telemetry.Magnitude(p50),
		LatencyP90: telemetry.Magnitude(p90),
		AvgCost:    cost.Round(6),
		LoadFactor: telemetry.NormalLoad(load),
	}, nil
}

var _ telemetry.Lookup = (*History)(nil)
