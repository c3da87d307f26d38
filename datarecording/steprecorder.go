package datarecording

import (
	"sync"
	"time"

	"github.com/sarchlab/gridexchange/boundary"
	"github.com/sarchlab/gridexchange/comm"
	"github.com/sarchlab/gridexchange/exchange"
)

const (
	eventTable    = "exchange_event"
	boundaryTable = "boundary_point"
)

// Event is a row of the exchange_event table.
type Event struct {
	Seq       int
	RunID     string
	Exchanger string
	Role      string
	Event     string
	Cycle     int
	SubStep   int
	Proposed  float64
	Taken     float64
	Budget    float64
	Elapsed   float64
	Clock     float64
	Catchup   bool
	Final     bool
	NumValues int
	WallTime  int64
}

// BoundaryPoint is a row of the boundary_point table.
type BoundaryPoint struct {
	RunID      string
	BoundaryID string
	Idx        int
	X, Y, Z    float64
}

// StepRecorder is a hook that writes every exchange event into a
// DataRecorder.
type StepRecorder struct {
	mu       sync.Mutex
	recorder DataRecorder
	runID    string
	seq      int
	err      error
}

// NewStepRecorder creates the event tables in recorder.
func NewStepRecorder(recorder DataRecorder, runID string) (*StepRecorder, error) {
	if err := recorder.CreateTable(eventTable, Event{}); err != nil {
		return nil, err
	}

	if err := recorder.CreateTable(boundaryTable, BoundaryPoint{}); err != nil {
		return nil, err
	}

	return &StepRecorder{recorder: recorder, runID: runID}, nil
}

// Err returns the first error met while recording.
func (r *StepRecorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.err
}

// Func records the event at ctx.
func (r *StepRecorder) Func(ctx exchange.HookCtx) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return
	}

	if b, ok := ctx.Item.(*boundary.Boundary); ok {
		r.recordBoundary(b)
		if r.err != nil {
			return
		}
	}

	r.seq++
	e := Event{
		Seq:      r.seq,
		RunID:    r.runID,
		Event:    ctx.Pos.Name,
		WallTime: time.Now().UnixNano(),
	}

	if x, ok := ctx.Domain.(exchange.Exchanger); ok {
		e.Exchanger = x.Name()
		e.Role = x.Role().String()
	}

	switch item := ctx.Item.(type) {
	case *comm.BoundaryValuesMsg:
		e.SubStep = item.Step
		e.Final = item.Final
		e.Elapsed = item.Elapsed
		e.NumValues = len(item.Values)
	case []float64:
		e.NumValues = len(item)
	case *boundary.Boundary:
		e.NumValues = item.Size()
	}

	if d, ok := ctx.Detail.(exchange.StepDetail); ok {
		e.Cycle = d.Cycle
		e.Proposed = d.Proposed
		e.Taken = d.Taken
		e.Budget = d.Budget
		e.Elapsed = d.Elapsed
		e.Clock = d.Clock
		e.Catchup = d.Catchup
	}

	r.err = r.recorder.InsertData(eventTable, e)
}

func (r *StepRecorder) recordBoundary(b *boundary.Boundary) {
	for i, p := range b.Points() {
		err := r.recorder.InsertData(boundaryTable, BoundaryPoint{
			RunID:      r.runID,
			BoundaryID: b.ID(),
			Idx:        i,
			X:          p[0],
			Y:          p[1],
			Z:          p[2],
		})
		if err != nil {
			r.err = err
			return
		}
	}
}
