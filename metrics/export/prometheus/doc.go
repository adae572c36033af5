// Package prometheus exposes tradeauth engine metrics as a Prometheus
// collector.
//
// [NewCollector] reads [tradeauth.Engine.MetricsSnapshot] on every scrape.
// Counters are named tradeauth_*_total; latency histograms
// tradeauth_*_latency_seconds are emitted only when the engine has latency
// histograms enabled. The collector never mutates engine state and does not
// touch the global registry.
package prometheus
