// Package store defines interfaces for persistence dependencies (work queue,
// sources, articles, telemetry). Implementations live in other packages; this
// package must not import database drivers or concrete clients.
package store
