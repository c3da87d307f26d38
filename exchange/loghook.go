package exchange

import (
	"github.com/rs/zerolog"

	"github.com/sarchlab/gridexchange/boundary"
	"github.com/sarchlab/gridexchange/comm"
)

// LogHook writes every protocol event of an exchanger to a zerolog logger.
type LogHook struct {
	logger zerolog.Logger
}

// NewLogHook creates a LogHook that writes to logger.
func NewLogHook(logger zerolog.Logger) *LogHook {
	return &LogHook{logger: logger}
}

// Func logs the event at ctx.
func (h *LogHook) Func(ctx HookCtx) {
	logger := h.logger
	if x, ok := ctx.Domain.(interface{ Name() string }); ok {
		logger = logger.With().Str("exchanger", x.Name()).Logger()
	}

	if b, ok := ctx.Item.(*boundary.Boundary); ok {
		logger.Info().
			Str("boundary", b.ID()).
			Int("points", b.Size()).
			Msg("boundary established")

		return
	}

	ev := logger.Debug().Str("event", ctx.Pos.Name)

	switch item := ctx.Item.(type) {
	case *comm.BoundaryValuesMsg:
		ev = ev.Int("step", item.Step).
			Bool("final", item.Final).
			Float64("elapsed", item.Elapsed).
			Int("values", len(item.Values))
	case *comm.TimestepRsp:
		ev = ev.Float64("checkpoint", item.Checkpoint)
	case []float64:
		ev = ev.Int("values", len(item))
	}

	if d, ok := ctx.Detail.(StepDetail); ok {
		ev = ev.Str("role", d.Role.String()).
			Int("cycle", d.Cycle).
			Float64("proposed", d.Proposed).
			Float64("taken", d.Taken).
			Float64("budget", d.Budget).
			Float64("elapsed", d.Elapsed).
			Float64("clock", d.Clock).
			Bool("catchup", d.Catchup)
	}

	ev.Msg("exchange")
}
