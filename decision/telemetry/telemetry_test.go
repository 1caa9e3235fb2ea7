package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santoshpalla27/taulayer/pkg/platform"
)

var testKey = Key{Shape: "abc123", Window: 24 * time.Hour}

func testSnapshot() Snapshot {
	return Snapshot{
		Samples:    42,
		LatencyP50: decimal.RequireFromString("3.5"),
		LatencyP90: decimal.RequireFromString("9"),
		AvgCost:    decimal.RequireFromString("0.12"),
		LoadFactor: 1.2,
	}
}

type countingLookup struct {
	calls atomic.Int32
	snap  *Snapshot
	err   error
}

func (c *countingLookup) Lookup(context.Context, Key) (*Snapshot, error) {
	c.calls.Add(1)
	return c.snap, c.err
}

func TestStatic(t *testing.T) {
	s := Static{testKey.Shape: testSnapshot()}

	snap, err := s.Lookup(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, 42, snap.Samples)

	_, err = s.Lookup(context.Background(), Key{Shape: "other"})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestChain(t *testing.T) {
	broken := &countingLookup{err: errors.New("down")}
	empty := Static{}
	full := Static{testKey.Shape: testSnapshot()}

	snap, err := Chain{broken, empty, full}.Lookup(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, 42, snap.Samples)

	_, err = Chain{empty, broken}.Lookup(context.Background(), testKey)
	assert.EqualError(t, err, "down")

	_, err = Chain{empty}.Lookup(context.Background(), testKey)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestSnapshot_Validate(t *testing.T) {
	ok := testSnapshot()
	assert.NoError(t, ok.Validate())

	noLoad := testSnapshot()
	noLoad.LoadFactor = 0
	assert.NoError(t, noLoad.Validate())

	tests := []struct {
		name   string
		mutate func(s *Snapshot)
	}{
		{"infinite load", func(s *Snapshot) { s.LoadFactor = math.Inf(1) }},
		{"nan load", func(s *Snapshot) { s.LoadFactor = math.NaN() }},
		{"negative load", func(s *Snapshot) { s.LoadFactor = -2 }},
		{"negative samples", func(s *Snapshot) { s.Samples = -1 }},
		{"negative p90", func(s *Snapshot) { s.LatencyP90 = decimal.NewFromInt(-1) }},
		{"negative cost", func(s *Snapshot) { s.AvgCost = decimal.RequireFromString("-0.01") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := testSnapshot()
			tt.mutate(&snap)
			assert.Error(t, snap.Validate())
		})
	}
}

func TestMagnitudeAndNormalLoad(t *testing.T) {
	assert.True(t, Magnitude(2.5).Equal(decimal.RequireFromString("2.5")))
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), -1} {
		assert.True(t, Magnitude(f).IsZero())
		assert.Equal(t, 1.0, NormalLoad(f))
	}
	assert.Equal(t, 1.0, NormalLoad(0))
	assert.Equal(t, 3.0, NormalLoad(3))
}

func TestGuarded_OpensAfterConsecutiveFailures(t *testing.T) {
	backend := &countingLookup{err: errors.New("connection refused")}
	g := NewGuarded(backend, GuardConfig{Failures: 3, OpenTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := g.Lookup(context.Background(), testKey)
		require.Error(t, err)
	}
	assert.Equal(t, int32(3), backend.calls.Load())

	_, err := g.Lookup(context.Background(), testKey)
	require.Error(t, err)
	assert.Equal(t, int32(3), backend.calls.Load(), "open breaker must not call the backend")
}

func TestGuarded_NoDataIsNotAFailure(t *testing.T) {
	backend := &countingLookup{err: ErrNoData}
	g := NewGuarded(backend, GuardConfig{Failures: 2, OpenTimeout: time.Minute})

	for i := 0; i < 5; i++ {
		_, err := g.Lookup(context.Background(), testKey)
		assert.ErrorIs(t, err, ErrNoData)
	}
	assert.Equal(t, int32(5), backend.calls.Load())
}

func TestCache_ReadThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	snap := testSnapshot()
	backend := &countingLookup{snap: &snap}
	c := NewCache(client, backend, time.Minute, zerolog.Nop())

	first, err := c.Lookup(context.Background(), testKey)
	require.NoError(t, err)
	second, err := c.Lookup(context.Background(), testKey)
	require.NoError(t, err)

	assert.Equal(t, int32(1), backend.calls.Load())
	assert.Equal(t, first.Samples, second.Samples)
	assert.True(t, first.AvgCost.Equal(second.AvgCost))

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, time.Minute, mr.TTL(c.key(testKey)))

	mr.FastForward(2 * time.Minute)
	_, err = c.Lookup(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, int32(2), backend.calls.Load())
}

func TestCache_BackendErrorIsNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	c := NewCache(client, Static{}, time.Minute, zerolog.Nop())
	_, err := c.Lookup(context.Background(), testKey)
	assert.ErrorIs(t, err, ErrNoData)
	assert.False(t, mr.Exists(c.key(testKey)))
}

func TestCache_RedisDownFallsThrough(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { client.Close() })

	snap := testSnapshot()
	c := NewCache(client, &countingLookup{snap: &snap}, time.Minute, zerolog.Nop())
	got, err := c.Lookup(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, 42, got.Samples)
}

func TestHTTPLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req httpLookupRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(86400), req.WindowSeconds)

		if req.Shape != testKey.Shape {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(testSnapshot())
	}))
	defer srv.Close()

	l := NewHTTPLookup(srv.URL, platform.NewHTTPClient(0, time.Second))

	snap, err := l.Lookup(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, 42, snap.Samples)
	assert.True(t, snap.LatencyP90.Equal(decimal.NewFromInt(9)))

	_, err = l.Lookup(context.Background(), Key{Shape: "unknown", Window: 24 * time.Hour})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestHTTPLookup_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	l := NewHTTPLookup(srv.URL, platform.NewHTTPClient(0, time.Second))
	_, err := l.Lookup(context.Background(), testKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
