package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ValueKind selects the numeric type a custom instrument records.
type ValueKind int

const (
	// ValueInt64 records whole-number values (u64 in the source vocabulary).
	ValueInt64 ValueKind = iota
	// ValueFloat64 records fractional values (f64 in the source vocabulary).
	ValueFloat64
)

// InstrumentSpec describes a user-defined metric instrument.
type InstrumentSpec struct {
	Name        string
	Description string
	Unit        string
	Value       ValueKind
}

// Custom is an opaque handle to a user-defined instrument, recorded via the
// Builder that created it.
type Custom struct {
	kind  string
	value ValueKind
	i64c  metric.Int64Counter
	f64c  metric.Float64Counter
	i64h  metric.Int64Histogram
	f64h  metric.Float64Histogram
	i64u  metric.Int64UpDownCounter
	f64u  metric.Float64UpDownCounter
}

// Builder creates custom counter/histogram/gauge/up-down-counter
// instruments on demand, backing spec §4.8's "small builder" for
// user-defined metrics alongside the always-on built-ins.
type Builder struct {
	meter metric.Meter
}

// NewBuilder constructs a Builder backed by meter.
func NewBuilder(meter metric.Meter) *Builder {
	return &Builder{meter: meter}
}

// Counter creates a monotonic counter instrument.
func (b *Builder) Counter(spec InstrumentSpec) (*Custom, error) {
	c := &Custom{kind: "counter", value: spec.Value}
	var err error
	if spec.Value == ValueInt64 {
		c.i64c, err = b.meter.Int64Counter(spec.Name, metric.WithDescription(spec.Description), metric.WithUnit(spec.Unit))
	} else {
		c.f64c, err = b.meter.Float64Counter(spec.Name, metric.WithDescription(spec.Description), metric.WithUnit(spec.Unit))
	}
	return c, err
}

// UpDownCounter creates a counter instrument that may also decrease.
func (b *Builder) UpDownCounter(spec InstrumentSpec) (*Custom, error) {
	c := &Custom{kind: "updown", value: spec.Value}
	var err error
	if spec.Value == ValueInt64 {
		c.i64u, err = b.meter.Int64UpDownCounter(spec.Name, metric.WithDescription(spec.Description), metric.WithUnit(spec.Unit))
	} else {
		c.f64u, err = b.meter.Float64UpDownCounter(spec.Name, metric.WithDescription(spec.Description), metric.WithUnit(spec.Unit))
	}
	return c, err
}

// Histogram creates a histogram instrument.
func (b *Builder) Histogram(spec InstrumentSpec) (*Custom, error) {
	c := &Custom{kind: "histogram", value: spec.Value}
	var err error
	if spec.Value == ValueInt64 {
		c.i64h, err = b.meter.Int64Histogram(spec.Name, metric.WithDescription(spec.Description), metric.WithUnit(spec.Unit))
	} else {
		c.f64h, err = b.meter.Float64Histogram(spec.Name, metric.WithDescription(spec.Description), metric.WithUnit(spec.Unit))
	}
	return c, err
}

// Gauge creates a synchronous gauge-like instrument. OTEL's stable API only
// offers observable (async) gauges, so — matching ClueMetrics's own
// RecordGauge fallback — a gauge is implemented as a histogram suffixed
// "_gauge" that records the instantaneous value as its single data point.
func (b *Builder) Gauge(spec InstrumentSpec) (*Custom, error) {
	gaugeSpec := spec
	gaugeSpec.Name = spec.Name + "_gauge"
	c, err := b.Histogram(gaugeSpec)
	if c != nil {
		c.kind = "gauge"
	}
	return c, err
}

// RecordInt64 records v on an Int64-valued instrument with the given
// attribute dimensions.
func (c *Custom) RecordInt64(ctx context.Context, v int64, attrs ...attribute.KeyValue) {
	set := metric.WithAttributes(attrs...)
	switch c.kind {
	case "counter":
		if c.i64c != nil {
			c.i64c.Add(ctx, v, set)
		}
	case "updown":
		if c.i64u != nil {
			c.i64u.Add(ctx, v, set)
		}
	case "histogram", "gauge":
		if c.i64h != nil {
			c.i64h.Record(ctx, v, set)
		}
	}
}

// RecordFloat64 records v on a Float64-valued instrument with the given
// attribute dimensions.
func (c *Custom) RecordFloat64(ctx context.Context, v float64, attrs ...attribute.KeyValue) {
	set := metric.WithAttributes(attrs...)
	switch c.kind {
	case "counter":
		if c.f64c != nil {
			c.f64c.Add(ctx, v, set)
		}
	case "updown":
		if c.f64u != nil {
			c.f64u.Add(ctx, v, set)
		}
	case "histogram", "gauge":
		if c.f64h != nil {
			c.f64h.Record(ctx, v, set)
		}
	}
}
