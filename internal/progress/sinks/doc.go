// Package sinks implements concrete notification consumers: structured
// logging, Prometheus collectors, and a publisher bridge for Pub/Sub. Each
// sink satisfies progress.Sink and is safe for repeated Consume/Close cycles.
package sinks
