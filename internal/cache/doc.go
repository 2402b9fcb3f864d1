// Package cache provides a bounded TTL+LRU cache and a layered variant that
// backs the in-process tier with the durable cache table in storage.
package cache
