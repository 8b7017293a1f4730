package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestPurpose: Validates that a disabled provider installs nothing and shuts down cleanly.
// Scope: Unit Test
// Expected: New succeeds without an exporter and Shutdown is a no-op.
// Test Case ID: TRC-01
func TestNew_Disabled(t *testing.T) {
	p, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))

	var nilProvider *Provider
	assert.NoError(t, nilProvider.Shutdown(context.Background()))
}

// TestPurpose: Validates sampling rate clamping.
// Scope: Unit Test
// Expected: Out-of-range rates fall back to sampling everything.
// Test Case ID: TRC-02
func TestSamplingRate(t *testing.T) {
	assert.Equal(t, 1.0, samplingRate(0))
	assert.Equal(t, 1.0, samplingRate(-0.5))
	assert.Equal(t, 1.0, samplingRate(2))
	assert.Equal(t, 0.25, samplingRate(0.25))
}

// TestPurpose: Validates that RecordError marks spans failed and ignores nil.
// Scope: Unit Test
// Expected: The failed span has status Error and one exception event; the clean span stays Unset.
// Test Case ID: TRC-03
func TestRecordError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tracer := tp.Tracer("test")

	_, failed := tracer.Start(context.Background(), "failed")
	RecordError(failed, errors.New("store unavailable"))
	failed.End()

	_, clean := tracer.Start(context.Background(), "clean")
	RecordError(clean, nil)
	clean.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Len(t, spans[0].Events(), 1)
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
}
