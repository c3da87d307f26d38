package exchange

import (
	"fmt"
	"sync"

	"github.com/sarchlab/gridexchange/boundary"
	"github.com/sarchlab/gridexchange/comm"
	"github.com/sarchlab/gridexchange/mesh"
)

// Binding is the communication context of an exchanger. It holds borrowed
// references to the solver's communicators and fields.
type Binding struct {
	Group        comm.Group
	Intercomm    comm.Transport
	LocalLeader  int
	RemoteLeader int
	Fields       *Fields
	Mesh         mesh.Mesh
}

// NewBinding validates what the solver provides. Only the leader of a side
// exchanges messages, so the process must run as the local leader.
func NewBinding(s Solver, field string) (*Binding, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: no solver", ErrInvalidSetup)
	}

	c := &Binding{
		Group:        s.Group(),
		Intercomm:    s.Intercomm(),
		LocalLeader:  s.LocalLeader(),
		RemoteLeader: s.RemoteLeader(),
		Fields:       s.Fields(),
		Mesh:         s.Mesh(),
	}

	if err := c.validate(field); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Binding) validate(field string) error {
	switch {
	case c.Group == nil:
		return fmt.Errorf("%w: no local group", ErrInvalidSetup)
	case c.LocalLeader < 0 || c.LocalLeader >= c.Group.Size():
		return fmt.Errorf("%w: local leader %d outside group of size %d",
			ErrInvalidSetup, c.LocalLeader, c.Group.Size())
	case c.Group.Rank() != c.LocalLeader:
		return fmt.Errorf("%w: rank %d is not the local leader %d",
			ErrInvalidSetup, c.Group.Rank(), c.LocalLeader)
	case c.RemoteLeader < 0:
		return fmt.Errorf("%w: remote leader %d", ErrInvalidSetup, c.RemoteLeader)
	case c.Intercomm == nil:
		return fmt.Errorf("%w: %w", ErrInvalidSetup, comm.ErrNoIntercom)
	case c.Fields == nil:
		return fmt.Errorf("%w: no fields", ErrInvalidSetup)
	case c.Mesh == nil:
		return fmt.Errorf("%w: no mesh", ErrInvalidSetup)
	}

	values, ok := c.Fields.Get(field)
	if !ok {
		return fmt.Errorf("%w: no %s field", ErrInvalidSetup, field)
	}

	if len(values) != c.Mesh.NumNodes() {
		return fmt.Errorf("%w: %s field has %d values, mesh has %d nodes",
			ErrInvalidSetup, field, len(values), c.Mesh.NumNodes())
	}

	return nil
}

// Peer returns the protocol endpoint towards the remote leader.
func (c *Binding) Peer() comm.Peer {
	return comm.Peer{
		Transport: c.Intercomm,
		Local:     c.LocalLeader,
		Remote:    c.RemoteLeader,
	}
}

// exchangerBase holds what the coarse and the fine side have in common.
type exchangerBase struct {
	hookableBase

	mu       sync.Mutex
	name     string
	opts     Options
	binding  *Binding
	peer     comm.Peer
	boundary *boundary.Boundary
	mapping  *boundary.Mapping
}

func (b *exchangerBase) Name() string {
	return b.name
}

func (b *exchangerBase) create(s Solver) error {
	if b.binding != nil {
		return ErrAlreadyCreated
	}

	binding, err := NewBinding(s, b.opts.Field)
	if err != nil {
		return err
	}

	b.binding = binding
	b.peer = binding.Peer()

	return nil
}

func (b *exchangerBase) mustBeCreated() error {
	if b.binding == nil {
		return ErrNotCreated
	}

	return nil
}

func (b *exchangerBase) mustHaveBoundary() error {
	if err := b.mustBeCreated(); err != nil {
		return err
	}

	if b.mapping == nil {
		return ErrNoBoundary
	}

	return nil
}

func (b *exchangerBase) field() []float64 {
	values, _ := b.binding.Fields.Get(b.opts.Field)
	return values
}

// setBoundary installs a boundary together with the mapping resolved for it.
func (b *exchangerBase) setBoundary(bnd *boundary.Boundary, m *boundary.Mapping) error {
	if err := m.MustMatch(bnd); err != nil {
		return fmt.Errorf("exchange: installing boundary: %w", err)
	}

	b.mu.Lock()
	b.boundary = bnd
	b.mapping = m
	b.mu.Unlock()

	return nil
}

func (b *exchangerBase) invoke(d Hookable, pos *HookPos, item, detail interface{}) {
	if b.NumHooks() == 0 {
		return
	}

	b.InvokeHook(HookCtx{
		Domain: d,
		Pos:    pos,
		Item:   item,
		Detail: detail,
	})
}

func (b *exchangerBase) snapshotBase(r Role) Snapshot {
	s := Snapshot{
		Name: b.name,
		Role: r.String(),
	}

	if b.boundary != nil {
		s.BoundaryID = b.boundary.ID()
		s.BoundarySize = b.boundary.Size()
	}

	return s
}
