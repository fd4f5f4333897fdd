// ABOUTME: Boundary to the external language-generation service
// ABOUTME: Defines the Oracle interface, opaque session handles, and classified errors

package oracle

import (
	"context"
	"errors"
)

// Handle identifies one seeded conversation on the oracle side.
type Handle string

// Oracle is an opaque request/response text generator. Initialize opens a
// conversation and transmits the system preamble as its first turn; Turn sends
// one user message over that conversation and returns the reply.
type Oracle interface {
	Initialize(ctx context.Context, preamble string) (Handle, error)
	Turn(ctx context.Context, h Handle, text string) (string, error)
}

var (
	// ErrUnavailable covers network and transport failures.
	ErrUnavailable = errors.New("oracle unavailable")

	// ErrUnauthenticated indicates the oracle rejected our credentials.
	ErrUnauthenticated = errors.New("oracle authentication failed")

	// ErrQuota indicates a rate or usage limit was hit.
	ErrQuota = errors.New("oracle quota exceeded")

	// ErrUnknownSession is returned for a handle the oracle does not recognise.
	ErrUnknownSession = errors.New("unknown oracle session")

	// ErrProtocol indicates a malformed response.
	ErrProtocol = errors.New("oracle protocol error")
)

// Kind returns a short label for err suitable for logs and the exchange ledger.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrUnavailable):
		return "network"
	case errors.Is(err, ErrUnauthenticated):
		return "auth"
	case errors.Is(err, ErrQuota):
		return "quota"
	case errors.Is(err, ErrUnknownSession):
		return "session"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	default:
		return "unknown"
	}
}
