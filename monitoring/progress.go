package monitoring

import (
	"sync"
	"time"

	"github.com/sarchlab/gridexchange/exchange"
)

// A ProgressBar is a tracker of the progress
type ProgressBar struct {
	sync.Mutex
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
}

type progressRsp struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
}

// IncrementInProgress adds the number of in-progress element.
func (b *ProgressBar) IncrementInProgress(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.InProgress += amount
}

// IncrementFinished add a certain amount to finished element.
func (b *ProgressBar) IncrementFinished(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.Finished += amount
}

// MoveInProgressToFinished reduces the number of in progress item by a certain
// amount and increase the finished item by the same amount.
func (b *ProgressBar) MoveInProgressToFinished(amount uint64) {
	b.Lock()
	defer b.Unlock()

	if amount > b.InProgress {
		amount = b.InProgress
	}

	b.InProgress -= amount
	b.Finished += amount
}

func (b *ProgressBar) snapshot() progressRsp {
	b.Lock()
	defer b.Unlock()

	return progressRsp{
		ID:         b.ID,
		Name:       b.Name,
		StartTime:  b.StartTime,
		Total:      b.Total,
		Finished:   b.Finished,
		InProgress: b.InProgress,
	}
}

// CycleTracker is a hook that moves a progress bar forward as coupling
// cycles open and close.
type CycleTracker struct {
	bar *ProgressBar
}

// NewCycleTracker creates a tracker that reports to bar.
func NewCycleTracker(bar *ProgressBar) *CycleTracker {
	return &CycleTracker{bar: bar}
}

// Func counts a cycle in progress when its budget is agreed and finished when
// it lands.
func (t *CycleTracker) Func(ctx exchange.HookCtx) {
	switch ctx.Pos {
	case exchange.HookPosNegotiate:
		t.bar.IncrementInProgress(1)
	case exchange.HookPosCycleEnd:
		t.bar.MoveInProgressToFinished(1)
	case exchange.HookPosStep:
		detail, ok := ctx.Detail.(exchange.StepDetail)
		if ok && detail.Role == exchange.RoleFine && detail.Catchup {
			t.bar.MoveInProgressToFinished(1)
		}
	}
}
