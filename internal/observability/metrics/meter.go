// Copyright 2026 The SafeStay Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter creates the instruments used by the services
type Meter struct {
	meter metric.Meter
}

// New returns a meter on the global provider, or a no-op meter when
// metrics are disabled.
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}
	return &Meter{meter: otel.Meter(serviceName)}, nil
}

// NewNoop returns a meter whose instruments record nothing
func NewNoop() *Meter {
	return &Meter{meter: noop.NewMeterProvider().Meter("noop")}
}

// NewWithProvider binds a meter to an explicit provider
func NewWithProvider(provider metric.MeterProvider, name string) *Meter {
	return &Meter{meter: provider.Meter(name)}
}

// CreateCounter creates a new counter metric
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}

// CreateDurationHistogram creates a histogram measured in seconds
func (m *Meter) CreateDurationHistogram(name, description string) (metric.Float64Histogram, error) {
	histogram, err := m.meter.Float64Histogram(name,
		metric.WithDescription(description),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return histogram, nil
}

// Outcome labels a measurement with its outcome. It applies to both
// counters and histograms.
func Outcome(outcome string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("outcome", outcome))
}

// Since returns the seconds elapsed since start
func Since(start time.Time) float64 {
	return time.Since(start).Seconds()
}
