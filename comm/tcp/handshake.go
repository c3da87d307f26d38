package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sarchlab/gridexchange/comm"
	"github.com/sarchlab/gridexchange/comm/wire"
)

var ErrHandshake = errors.New("tcp: handshake failed")

// Listener accepts the connection of the peer leader.
type Listener struct {
	ln  net.Listener
	cfg Config
}

// Listen opens a listening socket on addr.
func Listen(addr string, cfg Config) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	return &Listener{ln: ln, cfg: cfg}, nil
}

// Addr returns the address the listener is bound to.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops listening.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Accept waits for one peer and performs the handshake.
func (l *Listener) Accept(ctx context.Context, hello comm.Hello) (*Conn, *comm.Hello, error) {
	type result struct {
		c   net.Conn
		err error
	}

	ch := make(chan result, 1)
	go func() {
		c, err := l.ln.Accept()
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, nil, r.err
		}

		return handshake(ctx, r.c, hello, l.cfg)
	case <-ctx.Done():
		_ = l.ln.Close()
		return nil, nil, ctx.Err()
	}
}

// Dial connects to the peer leader at addr, retrying with backoff until ctx
// expires, and performs the handshake.
func Dial(
	ctx context.Context,
	addr string,
	hello comm.Hello,
	cfg Config,
) (*Conn, *comm.Hello, error) {
	var d net.Dialer

	for attempt := 1; ; attempt++ {
		c, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return handshake(ctx, c, hello, cfg)
		}

		select {
		case <-time.After(nextBackoffDelay(cfg.Backoff, attempt)):
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("tcp: dial %s: %w", addr, err)
		}
	}
}

func handshake(
	ctx context.Context,
	c net.Conn,
	hello comm.Hello,
	cfg Config,
) (*Conn, *comm.Hello, error) {
	if cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.HandshakeTimeout)
		defer cancel()
	}

	hello.Version = wire.Version
	conn := newConn(c, cfg.Limits)

	if err := conn.Send(ctx, &hello); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	msg, err := conn.Recv(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	peer, ok := msg.(*comm.Hello)
	if !ok {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrHandshake,
			&comm.UnexpectedMsgError{Want: comm.KindHello, Got: msg.Kind()})
	}

	if peer.Role == hello.Role {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%w: both sides claim role %q",
			ErrHandshake, peer.Role)
	}

	return conn, peer, nil
}
