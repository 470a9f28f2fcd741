// Package prometheus exposes the engine counters as a prometheus.Collector.
//
// Counter names are prefixed goidentity_ and end in _total; the only
// histogram is goidentity_validate_latency_seconds. Register the [Exporter]
// with your own registry, or mount [Exporter.Handler] which uses a private
// one.
package prometheus
