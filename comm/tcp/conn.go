package tcp

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/sarchlab/gridexchange/comm"
	"github.com/sarchlab/gridexchange/comm/wire"
)

type outgoing struct {
	msg    comm.Msg
	notify bool
	done   chan error
}

type incoming struct {
	msg comm.Msg
	err error
}

// Conn is a comm.Transport over a TCP connection. A writer goroutine drains
// an unbounded outbox in order, so Notify never blocks; a reader goroutine
// decodes frames into an inbox so that Recv can honor context cancellation.
type Conn struct {
	conn   net.Conn
	limits wire.Limits

	mu     sync.Mutex
	outbox []outgoing
	closed bool
	wake   chan struct{}

	inbox chan incoming

	nextID    uint64
	closeOnce sync.Once
	writerEnd chan struct{}
}

func newConn(c net.Conn, limits wire.Limits) *Conn {
	conn := &Conn{
		conn:      c,
		limits:    limits,
		wake:      make(chan struct{}, 1),
		inbox:     make(chan incoming, 64),
		writerEnd: make(chan struct{}),
	}

	go conn.writeLoop()
	go conn.readLoop()

	return conn
}

// Send queues msg and waits until it is written to the socket.
func (c *Conn) Send(ctx context.Context, msg comm.Msg) error {
	done := make(chan error, 1)
	if err := c.enqueue(outgoing{msg: msg, done: done}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify queues msg without waiting for the write.
func (c *Conn) Notify(msg comm.Msg) error {
	return c.enqueue(outgoing{msg: msg, notify: true})
}

// Recv waits for the next decoded message.
func (c *Conn) Recv(ctx context.Context) (comm.Msg, error) {
	select {
	case in, ok := <-c.inbox:
		if !ok {
			return nil, comm.ErrClosed
		}

		return in.msg, in.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close flushes queued messages and closes the socket.
func (c *Conn) Close() error {
	var err error

	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.signal()

		<-c.writerEnd
		err = c.conn.Close()
	})

	return err
}

func (c *Conn) enqueue(o outgoing) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return comm.ErrClosed
	}

	c.outbox = append(c.outbox, o)
	c.mu.Unlock()
	c.signal()

	return nil
}

func (c *Conn) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Conn) writeLoop() {
	defer close(c.writerEnd)

	w := bufio.NewWriter(c.conn)

	for {
		c.mu.Lock()
		batch := c.outbox
		c.outbox = nil
		closed := c.closed
		c.mu.Unlock()

		for _, o := range batch {
			err := c.writeOne(w, o)
			if o.done != nil {
				o.done <- err
			}
		}

		if closed && len(batch) == 0 {
			return
		}

		if len(batch) == 0 {
			<-c.wake
		}
	}
}

func (c *Conn) writeOne(w *bufio.Writer, o outgoing) error {
	c.nextID++

	f, err := wire.Encode(o.msg, c.nextID, o.notify)
	if err != nil {
		return err
	}

	if err := wire.WriteFrame(w, f, c.limits); err != nil {
		return err
	}

	return w.Flush()
}

func (c *Conn) readLoop() {
	defer close(c.inbox)

	r := bufio.NewReader(c.conn)

	for {
		f, err := wire.ReadFrame(r, c.limits)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}

			c.inbox <- incoming{err: err}

			return
		}

		msg, err := wire.Decode(f)
		c.inbox <- incoming{msg: msg, err: err}

		if err != nil {
			return
		}
	}
}
