// Package mesh provides the minimal node-based discretization that the
// exchangers need: node coordinates, interface selection and point location.
package mesh

import (
	"fmt"
	"math"
)

// Point is a position in 3-D space.
type Point [3]float64

// Dist returns the Euclidean distance between two points.
func (p Point) Dist(q Point) float64 {
	dx := p[0] - q[0]
	dy := p[1] - q[1]
	dz := p[2] - q[2]

	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Mesh is a node-indexed discretization.
type Mesh interface {
	// NumNodes returns the number of local nodes.
	NumNodes() int

	// Coord returns the coordinate of a local node.
	Coord(node int) Point

	// Locate returns the local node coinciding with p within tol.
	Locate(p Point, tol float64) (int, bool)
}

// A Selector decides if a node lies on the declared coupling interface.
type Selector interface {
	Selects(p Point, tol float64) bool
}

// Box is an axis-aligned box. As a Selector it picks points on its surface.
// Axes along which the box has no extent do not contribute faces, so a box
// flat in z selects the perimeter of a 2-D region.
type Box struct {
	Min, Max Point
}

// Contains checks if p lies inside the box or on its surface.
func (b Box) Contains(p Point, tol float64) bool {
	for d := 0; d < 3; d++ {
		if p[d] < b.Min[d]-tol || p[d] > b.Max[d]+tol {
			return false
		}
	}

	return true
}

// Selects returns true if p lies on the surface of the box.
func (b Box) Selects(p Point, tol float64) bool {
	if !b.Contains(p, tol) {
		return false
	}

	for d := 0; d < 3; d++ {
		if b.Max[d]-b.Min[d] <= tol {
			continue
		}

		if math.Abs(p[d]-b.Min[d]) <= tol || math.Abs(p[d]-b.Max[d]) <= tol {
			return true
		}
	}

	return false
}

// InterfaceNodes returns, in ascending local index order, the nodes of m
// selected by s.
func InterfaceNodes(m Mesh, s Selector, tol float64) []int {
	nodes := make([]int, 0)

	for n := 0; n < m.NumNodes(); n++ {
		if s.Selects(m.Coord(n), tol) {
			nodes = append(nodes, n)
		}
	}

	return nodes
}

// Grid is a structured, uniformly spaced grid of nodes. Node (i, j, k) has
// the local index i + Dims[0]*(j + Dims[1]*k).
type Grid struct {
	Origin  Point
	Spacing Point
	Dims    [3]int
}

// NewGrid creates a grid spanning box with the given number of nodes along
// each axis. An axis with a single node is degenerate.
func NewGrid(box Box, dims [3]int) (*Grid, error) {
	g := &Grid{Origin: box.Min, Dims: dims}

	for d := 0; d < 3; d++ {
		if dims[d] < 1 {
			return nil, fmt.Errorf("mesh: axis %d has %d nodes", d, dims[d])
		}

		if dims[d] == 1 {
			continue
		}

		length := box.Max[d] - box.Min[d]
		if length <= 0 {
			return nil, fmt.Errorf("mesh: axis %d has non-positive length", d)
		}

		g.Spacing[d] = length / float64(dims[d]-1)
	}

	return g, nil
}

// NumNodes returns the number of grid nodes.
func (g *Grid) NumNodes() int {
	return g.Dims[0] * g.Dims[1] * g.Dims[2]
}

// Index converts grid coordinates to a local node index.
func (g *Grid) Index(i, j, k int) int {
	return i + g.Dims[0]*(j+g.Dims[1]*k)
}

// Coord returns the coordinate of a node.
func (g *Grid) Coord(node int) Point {
	i := node % g.Dims[0]
	j := (node / g.Dims[0]) % g.Dims[1]
	k := node / (g.Dims[0] * g.Dims[1])

	return Point{
		g.Origin[0] + float64(i)*g.Spacing[0],
		g.Origin[1] + float64(j)*g.Spacing[1],
		g.Origin[2] + float64(k)*g.Spacing[2],
	}
}

// Locate snaps p to the nearest grid node and accepts it if the node is
// within tol of p.
func (g *Grid) Locate(p Point, tol float64) (int, bool) {
	var ijk [3]int

	for d := 0; d < 3; d++ {
		if g.Dims[d] == 1 {
			ijk[d] = 0
			continue
		}

		idx := int(math.Round((p[d] - g.Origin[d]) / g.Spacing[d]))
		if idx < 0 || idx >= g.Dims[d] {
			return -1, false
		}

		ijk[d] = idx
	}

	node := g.Index(ijk[0], ijk[1], ijk[2])
	if g.Coord(node).Dist(p) > tol {
		return -1, false
	}

	return node, true
}
