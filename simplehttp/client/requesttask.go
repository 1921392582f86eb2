// Package client implements the HTTP request/TLS-handshake tasks and
// the ClientRequestBuilder/ClientRequest facade atop them.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/searchktools/valtron/simplehttp/pool"
	"github.com/searchktools/valtron/simplehttp/retry"
	"github.com/searchktools/valtron/simplehttp/wire"
	"github.com/searchktools/valtron/valtron"
)

// RequestTaskState is the Pending payload a RequestTask yields while
// it has not yet produced a Ready result.
type RequestTaskState int

const (
	ReqInit RequestTaskState = iota
	ReqConnecting
	ReqDone
)

// HttpStreamReadyKind identifies which variant an HttpStreamReady
// holds.
type HttpStreamReadyKind int

const (
	StreamReady HttpStreamReadyKind = iota
	StreamError
)

// HttpStreamReady is the Ready value a RequestTask emits: either a
// connection positioned to read the first response byte, or the
// reason connecting failed.
type HttpStreamReady struct {
	Kind HttpStreamReadyKind
	Conn net.Conn
	Err  error
}

// ErrNoRequest is yielded when a RequestTask is advanced without a
// PreparedRequest ever having been set.
var ErrNoRequest = errors.New("client: no prepared request")

// connAcquirer abstracts "get me a connection to this endpoint",
// either from the pool or by dialing (with reconnect/backoff) on a
// miss. It exists so RequestTask does not need to know about pool
// internals directly.
type connAcquirer struct {
	key      pool.Key
	pool     *pool.Pool
	endpoint retry.Endpoint
	dial     retry.Dialer
	backoff  *retry.Backoff
	stream   *retry.ReconnectingStream
}

func newConnAcquirer(key pool.Key, p *pool.Pool, ep retry.Endpoint, dial retry.Dialer, backoff *retry.Backoff) *connAcquirer {
	return &connAcquirer{key: key, pool: p, endpoint: ep, dial: dial, backoff: backoff}
}

// poll attempts, non-blockingly where possible, to produce a
// connection. It returns (conn, nil, nil) on success, (nil, hint, nil)
// when the caller should yield and retry later, or (nil, nil, err) on
// terminal failure.
func (a *connAcquirer) poll(ctx context.Context) (net.Conn, *waitHint, error) {
	if a.pool != nil {
		if e, ok := a.pool.Checkout(a.key); ok {
			return e.Stream, nil, nil
		}
	}

	if a.stream == nil {
		a.stream = retry.NewReconnectingStream(a.endpoint, a.dial, a.backoff)
	}

	status, ok := a.stream.Next(ctx)
	if !ok {
		return nil, nil, fmt.Errorf("client: reconnecting stream exhausted unexpectedly for %s", a.endpoint)
	}

	switch status.Kind {
	case retry.StatusReady:
		pool.TuneOutboundSocket(status.Stream)
		return status.Stream, nil, nil
	case retry.StatusWaiting:
		return nil, &waitHint{d: status.Wait}, nil
	case retry.StatusCanRetry, retry.StatusNoMoreWaiting:
		return nil, &waitHint{immediate: true}, nil
	case retry.StatusFailed:
		return nil, nil, status.Err
	case retry.StatusNoMoreRetries:
		return nil, nil, fmt.Errorf("client: %s: no more reconnect retries", a.endpoint)
	default:
		return nil, nil, fmt.Errorf("client: unexpected reconnect status %d", status.Kind)
	}
}

type waitHint struct {
	d         time.Duration
	immediate bool
}

// RequestTask is the valtron task that turns a PreparedRequest into a
// raw stream positioned to read the first response byte: connect
// (pool hit or reconnect-with-backoff), render and write the request,
// flush.
type RequestTask struct {
	req      *PreparedRequest
	acquirer *connAcquirer
	state    RequestTaskState
}

// NewRequestTask builds a RequestTask. key/dial/backoff/p describe how
// to acquire a connection to req's target when the pool misses.
func NewRequestTask(req *PreparedRequest, key pool.Key, p *pool.Pool, ep retry.Endpoint, dial retry.Dialer, backoff *retry.Backoff) *RequestTask {
	return &RequestTask{
		req:      req,
		acquirer: newConnAcquirer(key, p, ep, dial, backoff),
	}
}

// Next implements valtron.TaskIterator.
func (t *RequestTask) Next() (valtron.TaskStatus[HttpStreamReady, RequestTaskState], bool) {
	switch t.state {
	case ReqInit:
		if t.req == nil {
			t.state = ReqDone
			return valtron.ReadyStatus[HttpStreamReady, RequestTaskState](
				HttpStreamReady{Kind: StreamError, Err: ErrNoRequest}), true
		}
		t.state = ReqConnecting
		return valtron.PendingStatus[HttpStreamReady, RequestTaskState](ReqConnecting), true

	case ReqConnecting:
		return t.advanceConnecting()

	default:
		return valtron.TaskStatus[HttpStreamReady, RequestTaskState]{}, false
	}
}

func (t *RequestTask) advanceConnecting() (valtron.TaskStatus[HttpStreamReady, RequestTaskState], bool) {
	conn, wait, err := t.acquirer.poll(context.Background())
	if err != nil {
		t.state = ReqDone
		return valtron.ReadyStatus[HttpStreamReady, RequestTaskState](
			HttpStreamReady{Kind: StreamError, Err: err}), true
	}
	if wait != nil {
		if wait.immediate {
			return t.advanceConnecting()
		}
		return valtron.DelayedStatus[HttpStreamReady, RequestTaskState](wait.d), true
	}

	w := bufio.NewWriter(conn)
	if err := wire.Render(w, t.req.toOutgoing()); err != nil {
		conn.Close()
		t.state = ReqDone
		return valtron.ReadyStatus[HttpStreamReady, RequestTaskState](
			HttpStreamReady{Kind: StreamError, Err: fmt.Errorf("client: render request: %w", err)}), true
	}

	t.state = ReqDone
	return valtron.ReadyStatus[HttpStreamReady, RequestTaskState](
		HttpStreamReady{Kind: StreamReady, Conn: conn}), true
}
