// Package sinks implements concrete telemetry consumers such as Prometheus,
// repository-backed storage, structured logging, and the bot-sensitivity
// feedback path. Each sink satisfies the telemetry.Sink interface and is safe
// for repeated Consume/Close cycles.
package sinks
