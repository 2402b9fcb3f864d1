// Package scheduler runs the background work of the runtime: named
// periodic jobs driven by cron specs, and a persisted one-shot task
// queue drained from SQLite on a fixed poll interval.
//
// Periodic jobs are fire-and-forget closures; one-shot tasks are durable
// rows dispatched to registered handlers by task type, with bounded
// retries before a row is marked failed.
package scheduler
