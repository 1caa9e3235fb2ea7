// Package ingestion provides adapters for the execution telemetry pipeline.
// Connects JSON-lines execution logs to ClickHouse storage.
package ingestion

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/santoshpalla27/taulayer/db/clickhouse"
	"github.com/santoshpalla27/taulayer/decision/query"
)

// Recorder persists executions.
type Recorder interface {
	RecordExecution(ctx context.Context, e *clickhouse.Execution) error
	BulkRecord(ctx context.Context, executions []*clickhouse.Execution) error
}

// ClickHouseAdapter adapts execution logs to the ClickHouse store
type ClickHouseAdapter struct {
	store     Recorder
	parser    *query.Parser
	batchSize int
}

// NewClickHouseAdapter creates a new ClickHouse adapter. Time fields must
// match the advisor's so recorded shapes line up with looked-up shapes.
func NewClickHouseAdapter(store Recorder, timeFields ...string) *ClickHouseAdapter {
	return &ClickHouseAdapter{
		store:     store,
		parser:    query.NewParser(query.WithTimeFields(timeFields...)),
		batchSize: 1000,
	}
}

// ExecutionRecord is one line of an execution log
type ExecutionRecord struct {
	Query          string          `json:"query"`
	UserID         string          `json:"user_id"`
	ClientID       string          `json:"client_id"`
	LatencySeconds float64         `json:"latency_seconds"`
	CostUSD        decimal.Decimal `json:"cost_usd"`
	RowsRead       uint64          `json:"rows_read"`
	LoadFactor     float64         `json:"load_factor"`
	Failed         bool            `json:"failed"`
	ExecutedAt     time.Time       `json:"executed_at"`
}

func (r *ExecutionRecord) validate() error {
	if r.Query == "" {
		return fmt.Errorf("query is required")
	}
	if r.LatencySeconds < 0 || math.IsNaN(r.LatencySeconds) || math.IsInf(r.LatencySeconds, 0) {
		return fmt.Errorf("latency_seconds must be a non-negative number")
	}
	if math.IsNaN(r.LoadFactor) || math.IsInf(r.LoadFactor, 0) {
		return fmt.Errorf("load_factor must be finite")
	}
	if r.CostUSD.IsNegative() {
		return fmt.Errorf("cost_usd must be non-negative")
	}
	return nil
}

// IngestionResult tracks the result of an execution log ingestion
type IngestionResult struct {
	Lines    int
	Recorded int
	Skipped  int
	Shapes   int
	Duration time.Duration
	Success  bool
	// Errors holds the first few per-line problems.
	Errors []string
}

const maxReportedErrors = 10

// IngestExecutions reads JSON-lines records from r and records them in
// batches. Malformed lines are skipped and reported; a store failure
// aborts the ingestion.
func (a *ClickHouseAdapter) IngestExecutions(ctx context.Context, r io.Reader) (*IngestionResult, error) {
	startTime := time.Now()
	result := &IngestionResult{}
	shapes := make(map[string]struct{})

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	batch := make([]*clickhouse.Execution, 0, a.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := a.store.BulkRecord(ctx, batch); err != nil {
			return fmt.Errorf("failed to record batch ending at line %d: %w", result.Lines, err)
		}
		result.Recorded += len(batch)
		batch = make([]*clickhouse.Execution, 0, a.batchSize)
		return nil
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Lines++
		line := scanner.Bytes()
		if len(line) == 0 {
			result.Skipped++
			continue
		}

		var rec ExecutionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			a.skip(result, fmt.Errorf("line %d: %w", result.Lines, err))
			continue
		}
		if err := rec.validate(); err != nil {
			a.skip(result, fmt.Errorf("line %d: %w", result.Lines, err))
			continue
		}

		exec := a.toExecution(&rec)
		shapes[exec.Shape] = struct{}{}
		batch = append(batch, exec)
		if len(batch) >= a.batchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("failed to read execution log: %w", err)
	}
	if err := flush(); err != nil {
		return result, err
	}

	result.Shapes = len(shapes)
	result.Success = true
	result.Duration = time.Since(startTime)
	return result, nil
}

// Record validates and stores a single execution, returning what was stored.
func (a *ClickHouseAdapter) Record(ctx context.Context, rec ExecutionRecord) (*clickhouse.Execution, error) {
	if err := rec.validate(); err != nil {
		return nil, err
	}
	exec := a.toExecution(&rec)
	if err := a.store.RecordExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to record execution: %w", err)
	}
	return exec, nil
}

// ShapeOf returns the telemetry shape the adapter assigns to a query.
func (a *ClickHouseAdapter) ShapeOf(text string) string {
	return query.Shape(a.parser.Parse(text))
}

func (a *ClickHouseAdapter) skip(result *IngestionResult, err error) {
	result.Skipped++
	if len(result.Errors) < maxReportedErrors {
		result.Errors = append(result.Errors, err.Error())
	}
}

func (a *ClickHouseAdapter) toExecution(rec *ExecutionRecord) *clickhouse.Execution {
	exec := &clickhouse.Execution{
		Shape:          a.ShapeOf(rec.Query),
		QueryText:      rec.Query,
		UserID:         rec.UserID,
		ClientID:       rec.ClientID,
		LatencySeconds: rec.LatencySeconds,
		CostUSD:        rec.CostUSD,
		RowsRead:       rec.RowsRead,
		LoadFactor:     rec.LoadFactor,
		Failed:         rec.Failed,
		ExecutedAt:     rec.ExecutedAt.UTC(),
	}
	if exec.LoadFactor <= 0 {
		exec.LoadFactor = 1
	}
	if !rec.ExecutedAt.IsZero() {
		exec.ID = clickhouse.ExecutionID(exec)
	}
	return exec
}
