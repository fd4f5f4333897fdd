// Package client is the HTTP client remote surfaces use to share a
// coven-assist session.
//
// # Usage
//
//	c := client.New("http://localhost:8090")
//	go c.Events(ctx, render)           // full snapshot after every change
//	_, _ = c.Open(ctx)                 // greets on first open
//	resp, err := c.Send(ctx, "hi", false)
//
// Send attaches a fresh Idempotency-Key; use SendWithKey to retry a request
// without appending the message twice. Non-2xx responses are returned as
// *Error carrying the HTTP status and the server's message.
package client
