// Package storage persists the scheduled task queue and the durable
// cache tier in a single SQLite file. The database runs in WAL mode
// with a single writer connection; timestamps are stored as unix
// milliseconds.
package storage
