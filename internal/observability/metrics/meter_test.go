package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// TestPurpose: Validates that outcome-labelled counters and histograms are recorded.
// Scope: Unit Test
// Expected: The counter sums per outcome and the histogram records one sample with the same label.
// Test Case ID: MET-01
func TestMeter_OutcomeInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m := NewWithProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), "test")
	ctx := context.Background()

	counter, err := m.CreateCounter("attempts_total", "attempts")
	require.NoError(t, err)
	histogram, err := m.CreateDurationHistogram("attempt_duration", "duration")
	require.NoError(t, err)

	counter.Add(ctx, 1, Outcome("success"))
	counter.Add(ctx, 1, Outcome("success"))
	counter.Add(ctx, 1, Outcome("orphaned"))
	histogram.Record(ctx, Since(time.Now().Add(-time.Second)), Outcome("success"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, md := range rm.ScopeMetrics[0].Metrics {
		byName[md.Name] = md
	}

	sum, ok := byName["attempts_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	totals := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("outcome"))
		totals[v.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"success": 2, "orphaned": 1}, totals)

	hist, ok := byName["attempt_duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.GreaterOrEqual(t, hist.DataPoints[0].Sum, 1.0)
}

// TestPurpose: Validates that disabled metrics hand out working no-op instruments.
// Scope: Unit Test
// Expected: Instruments are created without error and accept measurements.
// Test Case ID: MET-02
func TestNew_Disabled(t *testing.T) {
	m, err := New(context.Background(), Config{Enabled: false}, "svc")
	require.NoError(t, err)

	counter, err := m.CreateCounter("c", "d")
	require.NoError(t, err)
	assert.NotPanics(t, func() { counter.Add(context.Background(), 1, Outcome("x")) })
}
