// Package upstream wraps calls to an external panel API with the full
// protection stack: rate limiting, session reuse, retries and a circuit
// breaker. One Guard guards exactly one upstream.
package upstream
