// Package agent owns the conversation with the external oracle.
//
// # Engine
//
// The Engine holds the one oracle session the process uses:
//
//	eng := agent.New(o, agent.Config{Preamble: p}, logger)
//
// Key operations:
//
//   - EnsureInitialized(ctx): open the session and send the preamble, once
//   - Exchange(ctx, text): one request/response turn over that session
//   - Initialized(), SessionID(): readiness probes
//
// # Initialization
//
// Initialization is lazy and single-flight. Callers arriving while an attempt
// is running wait for that attempt instead of starting another, so the oracle
// sees exactly one Initialize per process. A failed attempt is not cached.
//
// # Exchanges
//
// Each exchange gets a request_id used in logs and the exchange ledger. The
// engine does not retry; failures come back as *ExchangeError with a
// classified Kind so the caller can decide what to show.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Concurrent exchanges are independent
// request/response pairs over the shared session.
package agent
