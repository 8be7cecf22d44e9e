package channel

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"inboxsync/internal/domain"
)

// Policy controls reconnect pacing.
type Policy struct {
	// Initial, Factor and Max shape the capped exponential backoff used for
	// ordinary failures.
	Initial time.Duration
	Factor  float64
	Max     time.Duration
	// ServerClose is the delay after the server closed the connection with a
	// close frame.
	ServerClose time.Duration
	// Auth is the delay after a handshake rejected with 401/403 or a token
	// that could not be issued.
	Auth time.Duration
	// FailureThreshold consecutive failed attempts switch the status from
	// error to failed. Attempts continue either way.
	FailureThreshold int
}

func DefaultPolicy() Policy {
	return Policy{
		Initial:          time.Second,
		Factor:           2,
		Max:              5 * time.Second,
		ServerClose:      2 * time.Second,
		Auth:             3 * time.Second,
		FailureThreshold: 5,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Initial <= 0 {
		p.Initial = d.Initial
	}
	if p.Factor < 1 {
		p.Factor = d.Factor
	}
	if p.Max <= 0 {
		p.Max = d.Max
	}
	if p.ServerClose <= 0 {
		p.ServerClose = d.ServerClose
	}
	if p.Auth <= 0 {
		p.Auth = d.Auth
	}
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = d.FailureThreshold
	}
	return p
}

// Backoff returns the delay before attempt n (1-based) of a run of failures.
func (p Policy) Backoff(n int) time.Duration {
	d := p.Initial
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * p.Factor)
		if d >= p.Max {
			return p.Max
		}
	}
	return min(d, p.Max)
}

// Delay classifies the cause of a lost or failed connection. failures is the
// number of consecutive failed attempts so far.
func (p Policy) Delay(cause error, failures int) time.Duration {
	var closeErr *websocket.CloseError
	switch {
	case errors.As(cause, &closeErr):
		return p.ServerClose
	case errors.Is(cause, domain.ErrUnauthorized):
		return p.Auth
	default:
		return p.Backoff(max(failures, 1))
	}
}
