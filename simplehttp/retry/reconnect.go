package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/searchktools/valtron/valtron"
)

// ErrExhausted is returned (wrapped) once a ReconnectingStream has
// spent every attempt its Backoff grants.
var ErrExhausted = errors.New("retry: reconnect attempts exhausted")

// Endpoint is a host/port pair plus optional TLS identity and connect
// timeout used to establish a connection.
type Endpoint struct {
	Host           string
	Port           uint16
	ConnectTimeout time.Duration
	TLS            bool
	ServerName     string
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Dialer establishes a raw connection to ep. net.Dialer.DialContext
// satisfies a narrowed form of this; simplehttp/client supplies the
// concrete implementation (resolve via its dns.Resolver, then dial each
// address in turn). Pool checkout is not part of a Dialer: the client's
// connection acquirer tries the pool before polling a ReconnectingStream.
type Dialer func(ctx context.Context, ep Endpoint) (net.Conn, error)

// ConnectionStateKind identifies which variant of ConnectionState is
// current.
type ConnectionStateKind int

const (
	ConnTodo ConnectionStateKind = iota
	ConnRedo
	ConnReconnect
	ConnEstablished
	ConnExhausted
)

// ConnectionState is the reconnecting stream's internal state, per
// spec.md's lifecycle: Todo -> (Established | Reconnect) -> Redo -> ...
// -> Exhausted (absorbing).
type ConnectionState struct {
	Kind     ConnectionStateKind
	Endpoint Endpoint
	Retry    RetryState
	Sleep    *valtron.SleepIterator[struct{}]
}

// ReconnectionStatusKind identifies which variant a ReconnectionStatus
// holds.
type ReconnectionStatusKind int

const (
	StatusWaiting ReconnectionStatusKind = iota
	StatusNoMoreWaiting
	StatusReady
	StatusCanRetry
	StatusFailed
	StatusNoMoreRetries
)

// ReconnectionStatus is one item of the sequence ReconnectingStream's
// Next yields.
type ReconnectionStatus struct {
	Kind   ReconnectionStatusKind
	Wait   time.Duration
	Stream net.Conn
	Err    error
}

// ReconnectingStream is a resumable iterator that establishes, and
// after the caller has finished with it, re-establishes, a connection
// to Endpoint with exponential backoff between attempts. It never
// self-drives: exactly as spec.md's Open Question OQ1 settles, callers
// (valtron tasks) must keep polling Next.
type ReconnectingStream struct {
	dial    Dialer
	backoff *Backoff
	state   ConnectionState
	clock   valtron.Clock
}

// NewReconnectingStream creates a stream targeting ep, dialed via
// dial, backed off per backoff.
func NewReconnectingStream(ep Endpoint, dial Dialer, backoff *Backoff) *ReconnectingStream {
	return &ReconnectingStream{
		dial:    dial,
		backoff: backoff,
		state:   ConnectionState{Kind: ConnTodo, Endpoint: ep},
		clock:   time.Now,
	}
}

// Next advances the stream by one poll. ok is false only once the
// stream has reached ConnExhausted and been polled again; every other
// poll, including the terminal Failed/NoMoreRetries item, returns true.
func (s *ReconnectingStream) Next(ctx context.Context) (ReconnectionStatus, bool) {
	switch s.state.Kind {
	case ConnTodo, ConnRedo:
		return s.attemptConnect(ctx)

	case ConnReconnect:
		d, ok := s.state.Sleep.Poll()
		if !ok {
			// Already emitted Done; treat as expired defensively and
			// fall through to a fresh Redo attempt.
			s.state.Kind = ConnRedo
			return s.attemptConnect(ctx)
		}
		if d.Kind == valtron.DelayedPending {
			return ReconnectionStatus{Kind: StatusWaiting, Wait: d.Remaining}, true
		}
		s.state.Kind = ConnRedo
		return ReconnectionStatus{Kind: StatusNoMoreWaiting}, true

	case ConnEstablished:
		// The caller has finished with the previous connection and is
		// asking for the next one: re-enter the decider fresh.
		next, ok := s.backoff.Next(RetryState{})
		if !ok {
			s.state.Kind = ConnExhausted
			return ReconnectionStatus{Kind: StatusNoMoreRetries}, true
		}
		s.state.Retry = next
		s.enterReconnect(next)
		if next.Wait == nil {
			s.state.Kind = ConnRedo
			return ReconnectionStatus{Kind: StatusNoMoreWaiting}, true
		}
		return ReconnectionStatus{Kind: StatusWaiting, Wait: *next.Wait}, true

	case ConnExhausted:
		return ReconnectionStatus{}, false
	}

	return ReconnectionStatus{}, false
}

func (s *ReconnectingStream) enterReconnect(rs RetryState) {
	s.state.Kind = ConnReconnect
	if rs.Wait != nil {
		s.state.Sleep = valtron.NewSleepIterator(s.clock(), *rs.Wait, struct{}{}).WithClock(s.clock)
	} else {
		s.state.Sleep = nil
	}
}

func (s *ReconnectingStream) attemptConnect(ctx context.Context) (ReconnectionStatus, bool) {
	dialCtx := ctx
	var cancel context.CancelFunc
	if s.state.Endpoint.ConnectTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, s.state.Endpoint.ConnectTimeout)
		defer cancel()
	}

	conn, err := s.dial(dialCtx, s.state.Endpoint)
	if err == nil {
		s.state.Kind = ConnEstablished
		return ReconnectionStatus{Kind: StatusReady, Stream: conn}, true
	}

	next, ok := s.backoff.Next(s.state.Retry)
	if !ok {
		s.state.Kind = ConnExhausted
		return ReconnectionStatus{Kind: StatusFailed, Err: fmt.Errorf("%w: %v", ErrExhausted, err)}, true
	}
	s.state.Retry = next
	s.enterReconnect(next)
	if next.Wait == nil {
		s.state.Kind = ConnRedo
		return ReconnectionStatus{Kind: StatusCanRetry, Err: err}, true
	}
	return ReconnectionStatus{Kind: StatusWaiting, Wait: *next.Wait}, true
}
