// Package prometheus exposes engine counters as a prometheus.Collector.
//
// Counter names are prefixed authcore_ and suffixed _total; the latency
// histogram is authcore_validate_latency_seconds. Values are read from the
// engine at scrape time.
package prometheus
