// Package gateway orchestrates the coven-assist server components.
//
// # Overview
//
// The gateway owns the oracle client, the conversation engine, the shared
// session store, the optional exchange ledger, and the HTTP server that
// exposes them to remote surfaces such as the terminal client.
//
// # HTTP API
//
//	GET  /health         liveness
//	GET  /health/ready   200 once the oracle session is initialized
//	GET  /api/state      current session snapshot
//	POST /api/open       open the panel (greets on first open)
//	POST /api/toggle     flip the panel
//	POST /api/send       {"text": "..."}; 202 with the placeholder ID
//	GET  /api/events     SSE stream of "state" events
//	GET  /api/stats      exchange ledger aggregates
//
// POST /api/send honours an Idempotency-Key header and is rate limited when
// api.rate_limit is non-zero. Adding ?wait=true holds the response until the
// reply resolves.
//
// # Lifecycle
//
// Run listens on server.http_addr and blocks until its context is cancelled,
// then calls Shutdown, which ends event streams, waits for in-flight
// exchanges to resolve, and closes the oracle connection and the ledger.
package gateway
