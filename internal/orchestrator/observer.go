package orchestrator

import "context"

// Observer receives progress notifications from a run. Implementations must
// not block and must not retain s beyond the call.
type Observer interface {
	OnStep(ctx context.Context, s *State, step StepOutcome)
	OnCommit(ctx context.Context, s *State, err error)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) OnStep(context.Context, *State, StepOutcome) {}
func (NopObserver) OnCommit(context.Context, *State, error)     {}

// Observers fans notifications out in order.
type Observers []Observer

func (o Observers) OnStep(ctx context.Context, s *State, step StepOutcome) {
	for _, obs := range o {
		obs.OnStep(ctx, s, step)
	}
}

func (o Observers) OnCommit(ctx context.Context, s *State, err error) {
	for _, obs := range o {
		obs.OnCommit(ctx, s, err)
	}
}
