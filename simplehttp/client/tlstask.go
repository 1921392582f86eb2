package client

import (
	"context"
	"crypto/tls"
	"errors"
	"net"

	"github.com/searchktools/valtron/valtron"
)

// TLSTaskState is the Pending payload a TLSTask yields before it has
// produced a Ready result.
type TLSTaskState int

const (
	TLSInit TLSTaskState = iota
	TLSHandshaking
	TLSDone
)

// ErrNoConnection is sent over the result channel when a TLSTask is
// advanced without a connection to upgrade.
var ErrNoConnection = errors.New("client: no connection to upgrade")

// TLSResult is what a TLSTask hands back over its result channel: the
// upgraded connection, or the reason the handshake failed.
type TLSResult struct {
	Stream net.Conn
	Err    error
}

// TLSBackend performs the actual handshake. crypto/tls satisfies it
// through cryptoTLSBackend; tests substitute a fake.
type TLSBackend interface {
	Handshake(ctx context.Context, conn net.Conn, serverName string) (net.Conn, error)
}

type cryptoTLSBackend struct {
	config *tls.Config
}

// NewCryptoTLSBackend adapts crypto/tls to TLSBackend. A nil cfg uses
// tls.Config's zero value (system root pool, negotiated version).
func NewCryptoTLSBackend(cfg *tls.Config) TLSBackend {
	return &cryptoTLSBackend{config: cfg}
}

func (b *cryptoTLSBackend) Handshake(ctx context.Context, conn net.Conn, serverName string) (net.Conn, error) {
	var cfg *tls.Config
	if b.config != nil {
		cfg = b.config.Clone()
	} else {
		cfg = &tls.Config{}
	}
	cfg.ServerName = serverName

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

// TLSTask is the valtron task that upgrades a raw connection to TLS,
// handing the result off over a channel rather than through its own
// Ready value, so the caller can select on it alongside other work.
type TLSTask struct {
	ctx        context.Context
	conn       net.Conn
	serverName string
	backend    TLSBackend
	result     *valtron.Channel[TLSResult]
	state      TLSTaskState
}

// NewTLSTask builds a TLSTask upgrading conn, sending its outcome to
// result.
func NewTLSTask(ctx context.Context, conn net.Conn, serverName string, backend TLSBackend, result *valtron.Channel[TLSResult]) *TLSTask {
	return &TLSTask{ctx: ctx, conn: conn, serverName: serverName, backend: backend, result: result}
}

// Next implements valtron.TaskIterator. The Ready payload is an empty
// struct used only as a completion signal; callers read the actual
// result from the channel passed to NewTLSTask.
func (t *TLSTask) Next() (valtron.TaskStatus[struct{}, TLSTaskState], bool) {
	switch t.state {
	case TLSInit:
		if t.conn == nil {
			t.result.ForceSend(TLSResult{Err: ErrNoConnection})
			t.state = TLSDone
			return valtron.ReadyStatus[struct{}, TLSTaskState](struct{}{}), true
		}
		t.state = TLSHandshaking
		return valtron.PendingStatus[struct{}, TLSTaskState](TLSHandshaking), true

	case TLSHandshaking:
		stream, err := t.backend.Handshake(t.ctx, t.conn, t.serverName)
		t.state = TLSDone
		if err != nil {
			t.result.ForceSend(TLSResult{Err: err})
			return valtron.ReadyStatus[struct{}, TLSTaskState](struct{}{}), true
		}
		t.result.ForceSend(TLSResult{Stream: stream})
		return valtron.ReadyStatus[struct{}, TLSTaskState](struct{}{}), true

	default:
		return valtron.TaskStatus[struct{}, TLSTaskState]{}, false
	}
}
