// Package panelkit is the resilience and scheduling runtime backing a
// VPN panel reseller service. It wires together rate limiting, retries,
// circuit breaking, session reuse, a two-tier TTL cache and a persisted
// task scheduler behind one Runtime facade.
//
// The transport layer (Telegram bot, HTTP clients for the panels) is a
// collaborator, not part of this module: callers hand the runtime their
// upstream login and operation closures and the runtime decides when
// and whether they run.
package panelkit
