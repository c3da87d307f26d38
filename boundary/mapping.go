package boundary

import (
	"fmt"

	"github.com/sarchlab/gridexchange/mesh"
)

// Mapping translates boundary-relative indices to local node indices. It is
// immutable once built.
type Mapping struct {
	boundaryID string
	local      []int
}

// Resolve locates every point of b in m. Every point must map to a distinct
// local node; anything else corrupts the exchange and is reported as an
// error.
func Resolve(b *Boundary, m mesh.Mesh, tol float64) (*Mapping, error) {
	if b.Size() == 0 {
		return nil, ErrEmptyBoundary
	}

	local := make([]int, b.Size())
	owner := make(map[int]int, b.Size())

	for i, p := range b.points {
		node, ok := m.Locate(p, tol)
		if !ok {
			return nil, &UnmappedPointError{Index: i, Point: p}
		}

		if prev, dup := owner[node]; dup {
			return nil, fmt.Errorf("%w: points %d and %d -> node %d",
				ErrDuplicateNode, prev, i, node)
		}

		owner[node] = i
		local[i] = node
	}

	return &Mapping{boundaryID: b.id, local: local}, nil
}

// BoundaryID returns the ID of the boundary the mapping was built for.
func (m *Mapping) BoundaryID() string {
	return m.boundaryID
}

// Size returns the number of entries.
func (m *Mapping) Size() int {
	return len(m.local)
}

// Local returns the local node of the i-th boundary point.
func (m *Mapping) Local(i int) int {
	return m.local[i]
}

// Indices returns a copy of the local node indices in boundary order.
func (m *Mapping) Indices() []int {
	out := make([]int, len(m.local))
	copy(out, m.local)

	return out
}

// MustMatch checks that the mapping belongs to b.
func (m *Mapping) MustMatch(b *Boundary) error {
	if b == nil || b.id != m.boundaryID || b.Size() != len(m.local) {
		return ErrBoundaryMismatch
	}

	return nil
}

// Gather collects the field values at the mapped nodes in boundary order.
func (m *Mapping) Gather(field []float64) ([]float64, error) {
	out := make([]float64, len(m.local))

	for i, n := range m.local {
		if n >= len(field) {
			return nil, fmt.Errorf("%w: node %d outside field of %d values",
				ErrSizeMismatch, n, len(field))
		}

		out[i] = field[n]
	}

	return out, nil
}

// Scatter writes boundary-ordered values into the field at the mapped nodes.
func (m *Mapping) Scatter(values, field []float64) error {
	if len(values) != len(m.local) {
		return fmt.Errorf("%w: got %d values for %d points",
			ErrSizeMismatch, len(values), len(m.local))
	}

	for i, n := range m.local {
		if n >= len(field) {
			return fmt.Errorf("%w: node %d outside field of %d values",
				ErrSizeMismatch, n, len(field))
		}

		field[n] = values[i]
	}

	return nil
}
