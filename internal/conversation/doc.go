// Package conversation holds the Session Store shared by every assistant surface.
//
// # Overview
//
// Surfaces (the launcher, the panel, the HTTP/SSE gateway, the console) never
// hold session state of their own. They call store actions and re-read State
// when notified:
//
//	st := conversation.NewStore(engine, conversation.WithLogger(logger))
//	unsubscribe := st.Subscribe(func() { render(st.State()) })
//
// Key operations:
//
//   - Subscribe(fn): register a change callback
//   - State(): snapshot of the session
//   - Open(ctx), Toggle(ctx): panel visibility, first-open greeting
//   - Send(ctx, text): append user message + placeholder, resolve in background
//   - Feed(ctx): channel of snapshots for goroutine-based surfaces
//
// # Notification
//
// Each change is applied and then announced to every subscriber in
// registration order before the next change may start. A subscriber that
// panics is logged and skipped; the rest still run and the action that caused
// the change never sees the panic.
//
// # Sends
//
// A send appends the user message and a pending assistant placeholder in one
// change. The reply replaces that placeholder, located by ID, in a second
// change. Overlapping sends follow the configured SendPolicy:
//
//   - queue (default): later sends wait, so replies follow their own messages
//     and at most one placeholder is ever pending
//   - reject: later sends fail with ErrSendInFlight
//   - concurrent: exchanges overlap; each reply still fills its own slot
//
// Exchange failures never surface as errors. The placeholder resolves to the
// configured fallback text with status failed and the conversation carries on.
//
// # Closing the Panel
//
// Closing only hides the panel. An exchange in flight keeps running and its
// result is visible when the panel is reopened.
package conversation
