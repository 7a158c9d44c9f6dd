package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/campuscal/campuscal/internal/storage"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestClassifyBackendErr(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&pgconn.PgError{Code: "23505"}, "unique_violation"},
		{&pgconn.PgError{Code: "42P01"}, "pg_42P01"},
		{fmt.Errorf("kv: %w", storage.ErrDuplicateID), "duplicate_id"},
		{context.DeadlineExceeded, "timeout"},
		{fmt.Errorf("%w: dial tcp: refused", storage.ErrUnavailable), "connection"},
		{errors.New("airtable: status 422: INVALID"), "rejected"},
		{errors.New("boom"), "unknown"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, classifyBackendErr(tc.err), tc.err.Error())
	}
}

func TestProm_ObserveBackend(t *testing.T) {
	p := NewProm(prometheus.NewRegistry())

	require.NoError(t, p.ObserveBackend("list", func() error { return nil }))

	err := p.ObserveBackend("create", func() error { return storage.ErrUnavailable })
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.BackendErrorsTotal.WithLabelValues("create", "connection")))
	assert.Equal(t, 2, testutil.CollectAndCount(p.BackendCallDuration))
}

func TestProm_SyncAndCircuit(t *testing.T) {
	p := NewProm(prometheus.NewRegistry())

	p.ObserveSync("ok", 20*time.Millisecond)
	p.ObserveSync("ok", 30*time.Millisecond)
	p.SetCachedEvents(4)
	p.SetCircuitState("open")

	assert.Equal(t, 2.0, testutil.ToFloat64(p.SyncResults.WithLabelValues("ok")))
	assert.Equal(t, 4.0, testutil.ToFloat64(p.CachedEvents))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.CircuitState.WithLabelValues("open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.CircuitState.WithLabelValues("closed")))
}

func TestSyncCounters_Snapshot(t *testing.T) {
	m := NewSyncCounters()

	m.IncSucceeded()
	m.IncSucceeded()
	m.IncFailed()
	m.IncSkipped()
	m.ObserveDuration(10 * time.Millisecond)
	m.ObserveDuration(30 * time.Millisecond)

	s := m.Snapshot()
	assert.Equal(t, uint64(2), s.Succeeded)
	assert.Equal(t, uint64(1), s.Failed)
	assert.Equal(t, uint64(1), s.Skipped)
	assert.Equal(t, 20*time.Millisecond, s.AverageDuration)
	assert.Equal(t, 30*time.Millisecond, s.MaxDuration)
}

func TestLogger_StampsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("dev", &buf)

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	log.InfoContext(ctx, "inside span")
	span.End()

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))

	assert.Equal(t, span.SpanContext().TraceID().String(), line["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), line["span_id"])
}

func TestLogger_StampsRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("prod", &buf).With("component", "eventsync")

	ctx := WithRequestID(context.Background(), "req-7")
	log.InfoContext(ctx, "event added")
	log.InfoContext(context.Background(), "sync pass")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var tagged, plain map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &tagged))
	require.NoError(t, json.Unmarshal(lines[1], &plain))

	assert.Equal(t, "req-7", tagged["request_id"])
	assert.Equal(t, "eventsync", tagged["component"])
	assert.NotContains(t, plain, "request_id")
	assert.Empty(t, RequestIDFrom(context.Background()))
}
