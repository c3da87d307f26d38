// Package boundary identifies the shared interface between two
// discretizations and maps it onto each side's local node numbering.
//
// The coarse side creates the canonical Boundary, an ordered list of
// interface points. Each side then resolves the Boundary against its own mesh
// into a Mapping. Mappings preserve the Boundary ordering, so the vectors that
// one side gathers can be scattered by the other side position by position.
package boundary

import (
	"errors"
	"fmt"

	"github.com/sarchlab/gridexchange/idgen"
	"github.com/sarchlab/gridexchange/mesh"
)

var (
	ErrEmptyBoundary    = errors.New("boundary: no interface nodes")
	ErrDuplicateNode    = errors.New("boundary: two points map to the same node")
	ErrBoundaryMismatch = errors.New("boundary: mapping built for another boundary")
	ErrSizeMismatch     = errors.New("boundary: vector size does not match boundary")
)

// UnmappedPointError reports a boundary point that has no local node.
type UnmappedPointError struct {
	Index int
	Point mesh.Point
}

func (e *UnmappedPointError) Error() string {
	return fmt.Sprintf("boundary: point %d at (%g, %g, %g) maps to no local node",
		e.Index, e.Point[0], e.Point[1], e.Point[2])
}

// Boundary is the canonical, ordered set of interface points.
type Boundary struct {
	id     string
	points []mesh.Point
}

// New wraps a list of points received from the peer. The points are copied.
func New(id string, points []mesh.Point) *Boundary {
	b := &Boundary{
		id:     id,
		points: make([]mesh.Point, len(points)),
	}
	copy(b.points, points)

	return b
}

// ID returns the boundary identifier.
func (b *Boundary) ID() string {
	return b.id
}

// Size returns the number of interface points.
func (b *Boundary) Size() int {
	return len(b.points)
}

// Point returns the i-th interface point.
func (b *Boundary) Point(i int) mesh.Point {
	return b.points[i]
}

// Points returns a copy of the interface points in canonical order.
func (b *Boundary) Points() []mesh.Point {
	out := make([]mesh.Point, len(b.points))
	copy(out, b.points)

	return out
}

// Create enumerates the nodes of m that s selects, in ascending local index
// order, and returns them as a new canonical Boundary together with the
// creator's own Mapping.
func Create(m mesh.Mesh, s mesh.Selector, tol float64) (*Boundary, *Mapping, error) {
	nodes := mesh.InterfaceNodes(m, s, tol)
	if len(nodes) == 0 {
		return nil, nil, ErrEmptyBoundary
	}

	b := &Boundary{
		id:     idgen.NewBoundaryID(),
		points: make([]mesh.Point, len(nodes)),
	}

	for i, n := range nodes {
		b.points[i] = m.Coord(n)
	}

	mapping := &Mapping{
		boundaryID: b.id,
		local:      nodes,
	}

	return b, mapping, nil
}
