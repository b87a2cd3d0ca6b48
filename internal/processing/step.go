package processing

import (
	"context"

	"github.com/cobbzilla/mediagoblin/internal/fanout"
	"github.com/cobbzilla/mediagoblin/internal/media"
)

// Step is one named, eligibility gated unit of media processing.
type Step interface {
	Name() string
	Description() string
	Eligible(state media.State) bool
	Params() []ParamSpec
	Process(ctx context.Context, pc *Context, params Params) error
}

// FanOutStep is a step that can split its work into a group of
// concurrent tasks followed by a single continuation. Process must still
// do the whole job inline for callers without a group runner.
type FanOutStep interface {
	Step
	Plan(ctx context.Context, pc *Context, params Params) (*fanout.Plan, error)
	RunTask(ctx context.Context, pc *Context, task fanout.Task) error
	// Continue runs once every task reported. Its error decides the final
	// entry state the same way Process's would.
	Continue(ctx context.Context, pc *Context, results []fanout.Result) error
}

// StepInfo implements the descriptive half of Step.
type StepInfo struct {
	Action  string
	Summary string
	States  []media.State
	Specs   []ParamSpec
}

func (s StepInfo) Name() string { return s.Action }
func (s StepInfo) Description() string { return s.Summary }
func (s StepInfo) Params() []ParamSpec { return s.Specs }

func (s StepInfo) Eligible(state media.State) bool {
	for _, st := range s.States {
		if st == state {
			return true
		}
	}
	return false
}

// Eligibility sets shared by media types. Nothing is eligible while an
// entry is processing.
var (
	InitialStates   = []media.State{media.StateUnprocessed, media.StateFailed}
	ReprocessStates = []media.State{media.StateProcessed}
)
