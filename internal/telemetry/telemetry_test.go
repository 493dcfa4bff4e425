package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "json")

	logger.Info("hidden")
	WithStepID(WithRunID(logger, "r1"), "s1").Warn("step failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "step failed", entry["msg"])
	assert.Equal(t, "r1", entry["run_id"])
	assert.Equal(t, "s1", entry["step_id"])

	buf.Reset()
	NewLogger(&buf, "info", "text").Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "msg=hello k=v")
}

func TestLoggerContext(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
}

func TestMetrics(t *testing.T) {
	m := NewMetrics(nil)
	m.ObserveRun("SUCCEEDED", time.Second)
	m.ObserveRun("FAILED", time.Second)
	m.ObserveRun("FAILED", time.Second)
	m.ObserveStep("delay", "success", time.Millisecond)
	m.SchemaCacheMiss()
	m.SchemaCacheHit()
	m.SchemaCacheHit()

	families, err := m.Gatherer().Gather()
	require.NoError(t, err)

	counts := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			if metric.GetCounter() == nil {
				continue
			}
			key := f.GetName()
			for _, l := range metric.GetLabel() {
				key += "," + l.GetValue()
			}
			counts[key] = metric.GetCounter().GetValue()
		}
	}

	assert.Equal(t, float64(1), counts["conveyor_runs_total,SUCCEEDED"])
	assert.Equal(t, float64(2), counts["conveyor_runs_total,FAILED"])
	assert.Equal(t, float64(1), counts["conveyor_step_executions_total,delay,success"])
	assert.Equal(t, float64(2), counts["conveyor_schema_cache_lookups_total,hit"])
	assert.Equal(t, float64(1), counts["conveyor_schema_cache_lookups_total,miss"])
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun("SUCCEEDED", time.Second)
		m.ObserveStep("delay", "success", time.Second)
		m.SchemaCacheHit()
		m.SchemaCacheMiss()
		m.ObserveHTTP("GET", "200", time.Second)
		m.ObserveNotification("email", "delivered")
	})
	assert.NotNil(t, m.Handler())
}

func TestEndSpan(t *testing.T) {
	ctx, span := StartRunSpan(context.Background(), Tracer(), "run", "wf")
	_, step := StartStepSpan(ctx, Tracer(), "a", "delay", 1)
	assert.NotPanics(t, func() {
		EndSpan(step, assert.AnError)
		EndSpan(span, nil)
	})
}
