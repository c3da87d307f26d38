// Package solver provides a minimal host solver for the exchange. It relaxes
// the temperature field towards the mean of the neighbouring nodes. It is not
// a physical model; it only produces values that change over time so that the
// coupling can be driven end to end.
package solver

import (
	"fmt"
	"math"

	"github.com/sarchlab/gridexchange/comm"
	"github.com/sarchlab/gridexchange/exchange"
	"github.com/sarchlab/gridexchange/mesh"
)

// Relaxation is a solver on a structured grid.
type Relaxation struct {
	grid      *mesh.Grid
	fields    *exchange.Fields
	temp      []float64
	scratch   []float64
	group     comm.Group
	intercomm comm.Transport
	local     int
	remote    int

	dt          float64
	diffusivity float64
	time        float64
	steps       int
}

// Builder can build Relaxation solvers.
type Builder struct {
	grid        *mesh.Grid
	group       comm.Group
	intercomm   comm.Transport
	local       int
	remote      int
	dt          float64
	diffusivity float64
	initial     func(p mesh.Point) float64
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		group:       comm.Self(),
		dt:          0.1,
		diffusivity: 0.1,
		initial:     func(mesh.Point) float64 { return 0 },
	}
}

// WithGrid sets the grid to solve on.
func (b Builder) WithGrid(g *mesh.Grid) Builder {
	b.grid = g
	return b
}

// WithGroup sets the local communicator.
func (b Builder) WithGroup(g comm.Group) Builder {
	b.group = g
	return b
}

// WithIntercomm sets the transport to the other side.
func (b Builder) WithIntercomm(t comm.Transport) Builder {
	b.intercomm = t
	return b
}

// WithLeaders sets the local and the remote leader ranks.
func (b Builder) WithLeaders(local, remote int) Builder {
	b.local = local
	b.remote = remote
	return b
}

// WithTimestep sets the step the solver proposes.
func (b Builder) WithTimestep(dt float64) Builder {
	b.dt = dt
	return b
}

// WithDiffusivity sets how fast the field relaxes.
func (b Builder) WithDiffusivity(k float64) Builder {
	b.diffusivity = k
	return b
}

// WithInitialTemperature sets the initial temperature as a function of the
// node position.
func (b Builder) WithInitialTemperature(f func(p mesh.Point) float64) Builder {
	b.initial = f
	return b
}

// Build creates a new solver.
func (b Builder) Build() (*Relaxation, error) {
	if b.grid == nil {
		return nil, fmt.Errorf("solver: no grid")
	}

	if !(b.dt > 0) {
		return nil, fmt.Errorf("solver: timestep must be positive, got %v", b.dt)
	}

	s := &Relaxation{
		grid:        b.grid,
		fields:      exchange.NewFields(),
		temp:        make([]float64, b.grid.NumNodes()),
		scratch:     make([]float64, b.grid.NumNodes()),
		group:       b.group,
		intercomm:   b.intercomm,
		local:       b.local,
		remote:      b.remote,
		dt:          b.dt,
		diffusivity: b.diffusivity,
	}

	for n := range s.temp {
		s.temp[n] = b.initial(b.grid.Coord(n))
	}

	s.fields.Set(exchange.FieldTemperature, s.temp)

	return s, nil
}

func (s *Relaxation) Group() comm.Group         { return s.group }
func (s *Relaxation) Intercomm() comm.Transport { return s.intercomm }
func (s *Relaxation) LocalLeader() int          { return s.local }
func (s *Relaxation) RemoteLeader() int         { return s.remote }
func (s *Relaxation) Fields() *exchange.Fields  { return s.fields }
func (s *Relaxation) Mesh() mesh.Mesh           { return s.grid }
func (s *Relaxation) Temperature() []float64    { return s.temp }
func (s *Relaxation) Time() float64             { return s.time }
func (s *Relaxation) Steps() int                { return s.steps }
func (s *Relaxation) ProposeTimestep() float64  { return s.dt }

// Advance relaxes the temperature over a step of length dt. Nodes on the
// outer surface of the grid keep their values.
func (s *Relaxation) Advance(dt float64) {
	w := math.Min(1, s.diffusivity*dt)
	g := s.grid

	copy(s.scratch, s.temp)

	for k := 0; k < g.Dims[2]; k++ {
		for j := 0; j < g.Dims[1]; j++ {
			for i := 0; i < g.Dims[0]; i++ {
				n := g.Index(i, j, k)
				if s.onSurface(i, j, k) {
					continue
				}

				s.scratch[n] = (1-w)*s.temp[n] + w*s.neighbourMean(i, j, k)
			}
		}
	}

	copy(s.temp, s.scratch)
	s.time += dt
	s.steps++
}

func (s *Relaxation) onSurface(i, j, k int) bool {
	ijk := [3]int{i, j, k}

	for d := 0; d < 3; d++ {
		if s.grid.Dims[d] == 1 {
			continue
		}

		if ijk[d] == 0 || ijk[d] == s.grid.Dims[d]-1 {
			return true
		}
	}

	return false
}

func (s *Relaxation) neighbourMean(i, j, k int) float64 {
	ijk := [3]int{i, j, k}
	sum := 0.0
	count := 0

	for d := 0; d < 3; d++ {
		if s.grid.Dims[d] == 1 {
			continue
		}

		for _, off := range []int{-1, 1} {
			nb := ijk
			nb[d] += off
			sum += s.temp[s.grid.Index(nb[0], nb[1], nb[2])]
			count++
		}
	}

	if count == 0 {
		return s.temp[s.grid.Index(i, j, k)]
	}

	return sum / float64(count)
}
