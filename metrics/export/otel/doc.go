// Package otel binds engine counters to OpenTelemetry observable instruments.
//
// Every counter becomes an Int64ObservableCounter with the same name the
// Prometheus exporter uses. The validate latency histogram is published as a
// cumulative <name>_bucket counter with one series per upper bound, keyed by
// the "le" attribute, plus a <name>_count counter. Callers own the
// MeterProvider; WithAttributes tags every series, for example per instance.
package otel
