// ABOUTME: Channel adapter over Store.Subscribe for goroutine-based surfaces
// ABOUTME: Each feed holds at most one snapshot; a newer one replaces an unread older one

package conversation

import (
	"context"
	"sync"

	"github.com/2389/coven-assist/internal/session"
)

// Feed returns a channel that receives the current state immediately and again
// after every change. Slow readers only ever see the latest snapshot. The
// channel is closed and the subscription removed when ctx is done.
func (s *Store) Feed(ctx context.Context) <-chan session.Session {
	ch := make(chan session.Session, 1)

	var mu sync.Mutex
	closed := false

	push := func() {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		// Read under mu so pushes land in the order their snapshots were taken.
		snap := s.State()
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}

	unsubscribe := s.Subscribe(push)
	push()

	go func() {
		<-ctx.Done()
		unsubscribe()

		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()

	return ch
}
