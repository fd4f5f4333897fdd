// ABOUTME: Handle for one in-flight exchange started by Store.Send
// ABOUTME: Lets callers block on, or select over, the placeholder's resolution

package conversation

import (
	"context"

	"github.com/2389/coven-assist/internal/session"
)

// Reply tracks the placeholder appended by a Send.
type Reply struct {
	// ID is the pending assistant message's ID.
	ID string
	// UserMessageID is the ID of the user message appended with it.
	UserMessageID string

	done chan struct{}
	msg  session.Message
	err  error
}

// Done is closed once the placeholder has been resolved and subscribers notified.
func (r *Reply) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the placeholder resolves and returns the resolved message.
// The only error is ctx's; a failed exchange yields a message with status failed.
func (r *Reply) Wait(ctx context.Context) (session.Message, error) {
	select {
	case <-r.done:
		return r.msg, nil
	case <-ctx.Done():
		return session.Message{}, ctx.Err()
	}
}

// Err returns the exchange error behind a failed resolution, or nil. It is
// only meaningful after Done is closed.
func (r *Reply) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

func (r *Reply) finish(msg session.Message, err error) {
	r.msg = msg
	r.err = err
	close(r.done)
}
