package exchange

// HookPos defines the enum of possible hooking positions
type HookPos struct {
	Name string
}

// HookCtx is the context that holds all the information about the site that a
// hook is triggered
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   interface{}
	Detail interface{}
}

// Hookable defines an object that accept Hooks
type Hookable interface {
	// AcceptHook registers a hook
	AcceptHook(hook Hook)
}

// Hook is a short piece of program that can be invoked by a hookable object.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

var (
	// HookPosBoundary triggers once the boundary is established. Item is the
	// boundary.
	HookPosBoundary = &HookPos{Name: "Boundary"}

	// HookPosFieldsInit triggers after the initial field transfer. Item is
	// the transferred boundary values.
	HookPosFieldsInit = &HookPos{Name: "FieldsInit"}

	// HookPosReady triggers when a cycle is opened. Item is the field
	// values pushed with the ready signal as a []float64, nil when the
	// option to push the field on cycle start is off.
	HookPosReady = &HookPos{Name: "Ready"}

	// HookPosNegotiate triggers after a cycle budget has been agreed on.
	// Detail is a StepDetail.
	HookPosNegotiate = &HookPos{Name: "Negotiate"}

	// HookPosStep triggers after the fine side accounted for a sub-step.
	// Detail is a StepDetail.
	HookPosStep = &HookPos{Name: "Step"}

	// HookPosBoundaryPush triggers when boundary values cross to the coarse
	// side. Item is the boundary values message.
	HookPosBoundaryPush = &HookPos{Name: "BoundaryPush"}

	// HookPosCycleEnd triggers when the coarse side closes a cycle. Detail is
	// a StepDetail.
	HookPosCycleEnd = &HookPos{Name: "CycleEnd"}
)

// StepDetail describes the time accounting at a hook site.
type StepDetail struct {
	Role     Role
	Cycle    int
	Proposed float64
	Taken    float64
	Budget   float64
	Elapsed  float64
	Clock    float64
	Catchup  bool
}

// A hookableBase provides the hook bookkeeping for the exchangers.
type hookableBase struct {
	hooks []Hook
}

// AcceptHook register a hook
func (h *hookableBase) AcceptHook(hook Hook) {
	h.hooks = append(h.hooks, hook)
}

// NumHooks returns the number of registered hooks.
func (h *hookableBase) NumHooks() int {
	return len(h.hooks)
}

// InvokeHook triggers the register Hooks
func (h *hookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.hooks {
		hook.Func(ctx)
	}
}
