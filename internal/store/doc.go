// Package store provides the exchange ledger using SQLite.
//
// # Exchange Ledger
//
// Every oracle round trip made by the engine is recorded as an Exchange:
// request ID, oracle session, outcome, classified error kind, prompt and reply
// lengths, and latency. Message text is never written; conversation history
// lives only in memory for the life of the process.
//
// The ledger is optional. An empty database.path in the service config skips
// it entirely.
//
// # Usage
//
//	st, err := store.NewSQLiteStore(path)
//	if err != nil { ... }
//	defer st.Close()
//
//	stats, err := st.GetExchangeStats(ctx, store.ExchangeFilter{})
//
// # SQLite Settings
//
//   - WAL mode for concurrent readers during writes
//   - busy_timeout of 5s so concurrent exchanges do not fail on lock contention
//
// The schema is created automatically on first open.
package store
