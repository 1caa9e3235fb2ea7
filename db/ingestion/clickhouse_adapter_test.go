package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santoshpalla27/taulayer/db/clickhouse"
	"github.com/santoshpalla27/taulayer/decision/query"
)

type fakeRecorder struct {
	batches [][]*clickhouse.Execution
	singles []*clickhouse.Execution
	err     error
}

func (f *fakeRecorder) RecordExecution(_ context.Context, e *clickhouse.Execution) error {
	if f.err != nil {
		return f.err
	}
	f.singles = append(f.singles, e)
	return nil
}

func (f *fakeRecorder) BulkRecord(_ context.Context, executions []*clickhouse.Execution) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, executions)
	return nil
}

func TestIngestExecutions(t *testing.T) {
	log := strings.Join([]string{
		`{"query":"SELECT * FROM events WHERE user = '123'","user_id":"u1","latency_seconds":11.5,"cost_usd":"0.40","executed_at":"2024-03-01T12:00:00Z"}`,
		`{"query":"SELECT * FROM events WHERE user = '456'","user_id":"u2","latency_seconds":12.5,"cost_usd":"0.50","load_factor":1.2,"executed_at":"2024-03-01T12:01:00Z"}`,
		``,
		`{"query":"SELECT id FROM orders","latency_seconds":-1}`,
		`not json`,
		`{"query":"SELECT id FROM orders LIMIT 5","latency_seconds":0.2}`,
	}, "\n")

	rec := &fakeRecorder{}
	res, err := NewClickHouseAdapter(rec).IngestExecutions(context.Background(), strings.NewReader(log))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 6, res.Lines)
	assert.Equal(t, 3, res.Recorded)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, 2, res.Shapes)
	assert.Len(t, res.Errors, 2)

	require.Len(t, rec.batches, 1)
	first, second := rec.batches[0][0], rec.batches[0][1]
	assert.Equal(t, query.Shape(query.Parse("SELECT * FROM events WHERE user = '999'")), first.Shape)
	assert.Equal(t, first.Shape, second.Shape, "literals do not change the shape")
	assert.Equal(t, 1.0, first.LoadFactor)
	assert.Equal(t, 1.2, second.LoadFactor)
	assert.NotEqual(t, uuid.Nil, first.ID)
	assert.Equal(t, uuid.Nil, rec.batches[0][2].ID, "id assigned by the store when no timestamp is given")
}

func TestIngestExecutions_Batches(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&sb, `{"query":"SELECT id FROM t WHERE id = %d","latency_seconds":1}`+"\n", i)
	}

	rec := &fakeRecorder{}
	a := NewClickHouseAdapter(rec)
	a.batchSize = 10
	res, err := a.IngestExecutions(context.Background(), strings.NewReader(sb.String()))
	require.NoError(t, err)

	assert.Equal(t, 25, res.Recorded)
	assert.Equal(t, 1, res.Shapes)
	require.Len(t, rec.batches, 3)
	assert.Len(t, rec.batches[2], 5)
}

func TestIngestExecutions_StoreFailure(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("connection reset")}
	res, err := NewClickHouseAdapter(rec).IngestExecutions(context.Background(),
		strings.NewReader(`{"query":"SELECT id FROM t","latency_seconds":1}`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.False(t, res.Success)
	assert.Zero(t, res.Recorded)
}

func TestIngestExecutions_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClickHouseAdapter(&fakeRecorder{}).IngestExecutions(ctx,
		strings.NewReader(`{"query":"SELECT id FROM t","latency_seconds":1}`))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecord(t *testing.T) {
	rec := &fakeRecorder{}
	a := NewClickHouseAdapter(rec, "occurred_on")

	exec, err := a.Record(context.Background(), ExecutionRecord{
		Query:          "SELECT id FROM orders WHERE occurred_on >= '2024-01-01'",
		UserID:         "u1",
		LatencySeconds: 0.8,
		CostUSD:        decimal.RequireFromString("0.02"),
	})
	require.NoError(t, err)
	require.Len(t, rec.singles, 1)
	assert.Same(t, exec, rec.singles[0])
	assert.Empty(t, rec.batches)
	assert.Equal(t, a.ShapeOf("SELECT id FROM orders WHERE occurred_on >= '2023-06-30'"), exec.Shape)
	assert.Equal(t, 1.0, exec.LoadFactor)

	_, err = a.Record(context.Background(), ExecutionRecord{Query: "SELECT 1", LatencySeconds: -1})
	assert.Error(t, err)
	assert.Len(t, rec.singles, 1)

	rec.err = errors.New("connection reset")
	_, err = a.Record(context.Background(), ExecutionRecord{Query: "SELECT id FROM orders"})
	assert.ErrorIs(t, err, rec.err)
}
