package pipeline

import (
	"context"
	"fmt"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/workspace"
)

// Result of one step. A returned error or a panic is recorded as ERROR.
type Result struct {
	Status  consts.StepResult
	Message string
}

func OK(msg string) Result      { return Result{Status: consts.StepOK, Message: msg} }
func Skipped(msg string) Result { return Result{Status: consts.StepSkipped, Message: msg} }
func Failed(msg string) Result  { return Result{Status: consts.StepError, Message: msg} }

// Step is one ordered stage of the pipeline.
type Step interface {
	Name() string
	Description() string
	Execute(ctx context.Context, sc *StepContext) (Result, error)
}

// StepContext is what a step sees of its task.
type StepContext struct {
	TaskID    int64
	UnitRef   string
	Payload   string
	Workspace *workspace.Handle
	prior     []model.StepOutcome
}

// Prior returns a copy of the outcomes recorded before the current step.
func (sc *StepContext) Prior() []model.StepOutcome {
	out := make([]model.StepOutcome, len(sc.prior))
	copy(out, sc.prior)
	return out
}

// Outcome returns the prior outcome of the named step, if it ran.
func (sc *StepContext) Outcome(step string) (model.StepOutcome, bool) {
	for _, o := range sc.prior {
		if o.StepName == step {
			return o, true
		}
	}
	return model.StepOutcome{}, false
}

// Registry is the ordered, immutable list of steps.
type Registry struct {
	steps []Step
}

func NewRegistry(steps ...Step) (*Registry, error) {
	seen := make(map[string]struct{}, len(steps))
	for i, s := range steps {
		if s == nil {
			return nil, fmt.Errorf("step %d is nil", i)
		}
		if s.Name() == "" {
			return nil, fmt.Errorf("step %d has an empty name", i)
		}
		if _, dup := seen[s.Name()]; dup {
			return nil, fmt.Errorf("duplicate step name %s", s.Name())
		}
		seen[s.Name()] = struct{}{}
	}
	return &Registry{steps: append([]Step(nil), steps...)}, nil
}

// Steps returns a copy of the registered steps in execution order.
func (r *Registry) Steps() []Step {
	return append([]Step(nil), r.steps...)
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.steps))
	for i, s := range r.steps {
		names[i] = s.Name()
	}
	return names
}
