package comm

import (
	"context"
	"sync"
)

type mailbox struct {
	mu     sync.Mutex
	items  []Msg
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (b *mailbox) push(msg Msg) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}

	b.items = append(b.items, msg)
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}

	return nil
}

func (b *mailbox) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *mailbox) pop(ctx context.Context) (Msg, error) {
	for {
		b.mu.Lock()
		if len(b.items) > 0 {
			msg := b.items[0]
			b.items[0] = nil
			b.items = b.items[1:]
			b.mu.Unlock()

			return msg, nil
		}

		closed := b.closed
		b.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}

		select {
		case <-b.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// PipeEnd is one end of an in-process Transport.
type PipeEnd struct {
	in, out *mailbox
}

// NewPipe connects two in-process ends. Queues are unbounded, so Notify never
// blocks.
func NewPipe() (*PipeEnd, *PipeEnd) {
	ab := newMailbox()
	ba := newMailbox()

	return &PipeEnd{in: ba, out: ab}, &PipeEnd{in: ab, out: ba}
}

// Send queues msg for the peer.
func (p *PipeEnd) Send(ctx context.Context, msg Msg) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return p.out.push(msg)
}

// Recv waits for the next message from the peer.
func (p *PipeEnd) Recv(ctx context.Context) (Msg, error) {
	return p.in.pop(ctx)
}

// Notify queues msg for the peer without waiting.
func (p *PipeEnd) Notify(msg Msg) error {
	return p.out.push(msg)
}

// Close stops both directions. Messages already queued for the peer are
// still delivered.
func (p *PipeEnd) Close() error {
	p.out.close()
	p.in.close()

	return nil
}
