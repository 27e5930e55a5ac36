package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/havosec/authcore"
	"github.com/havosec/authcore/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// BucketKey labels each cumulative latency bucket with its upper bound.
const BucketKey = "le"

type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithAttributes adds attrs to every observation, for example an instance
// name when several engines share one MeterProvider.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(e *Exporter) {
		e.common = append(e.common, attrs...)
	}
}

type counterBinding struct {
	id         authcore.MetricID
	instrument metric.Int64ObservableCounter
}

type latencyBinding struct {
	id      authcore.MetricID
	buckets metric.Int64ObservableCounter
	count   metric.Int64ObservableCounter
	// bounds holds one observe option per bucket, BucketKey set to the
	// bound suffix.
	bounds [8]metric.ObserveOption
}

// Exporter publishes engine counters through an OpenTelemetry meter. One
// callback reads the snapshot on every collection cycle.
type Exporter struct {
	source       metricsSource
	common       []attribute.KeyValue
	registration metric.Registration

	counters     []counterBinding
	latency      []latencyBinding
	auditDropped metric.Int64ObservableCounter
}

// NewExporter registers observable instruments for every engine metric on
// meter. Close unregisters the callback.
func NewExporter(meter metric.Meter, engine *authcore.Engine, opts ...Option) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewExporterFromSource(meter, engine, opts...)
}

func NewExporterFromSource(meter metric.Meter, source metricsSource, opts ...Option) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	for _, opt := range opts {
		opt(e)
	}

	var observables []metric.Observable
	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("otel counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, counterBinding{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		b, err := e.bindLatency(meter, def)
		if err != nil {
			return nil, err
		}
		e.latency = append(e.latency, b)
		observables = append(observables, b.buckets, b.count)
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription("Audit events dropped while the dispatcher buffer was full."))
	if err != nil {
		return nil, fmt.Errorf("otel counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	e.auditDropped = dropped
	observables = append(observables, dropped)

	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("otel register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func (e *Exporter) bindLatency(meter metric.Meter, def internaldefs.HistogramDef) (latencyBinding, error) {
	b := latencyBinding{id: def.ID}
	var err error
	b.buckets, err = meter.Int64ObservableCounter(def.Name+"_bucket",
		metric.WithDescription(def.Help+" Cumulative count per upper bound."))
	if err != nil {
		return b, fmt.Errorf("otel counter %s_bucket: %w", def.Name, err)
	}
	b.count, err = meter.Int64ObservableCounter(def.Name+"_count",
		metric.WithDescription(def.Help+" Total samples."))
	if err != nil {
		return b, fmt.Errorf("otel counter %s_count: %w", def.Name, err)
	}
	for i, suffix := range internaldefs.HistogramBoundSuffix {
		attrs := append([]attribute.KeyValue{attribute.String(BucketKey, suffix)}, e.common...)
		b.bounds[i] = metric.WithAttributes(attrs...)
	}
	return b, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	common := metric.WithAttributes(e.common...)
	snap := e.source.MetricsSnapshot()

	for _, c := range e.counters {
		o.ObserveInt64(c.instrument, int64(snap.Counters[c.id]), common)
	}
	for _, l := range e.latency {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[l.id]))
		for i, v := range cumulative {
			o.ObserveInt64(l.buckets, int64(v), l.bounds[i])
		}
		o.ObserveInt64(l.count, int64(cumulative[len(cumulative)-1]), common)
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()), common)
	return nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
