// Package resilience contains the admission and failure-isolation primitives
// every outbound call to a remote panel passes through: a token-bucket rate
// limiter, a bounded-attempt retry executor, and a three-state circuit
// breaker. The pieces are independent; internal/upstream composes them.
package resilience
