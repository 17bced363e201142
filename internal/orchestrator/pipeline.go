// Package orchestrator runs agents in sequence over a shared accumulator
// and commits the outcome to the record.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/agents"
	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/lock"
	ometrics "github.com/Kocoro-lab/rfpstudio/internal/metrics"
	"github.com/Kocoro-lab/rfpstudio/internal/store"
)

// ModeInline labels runs executed in-process, as opposed to through Temporal.
const ModeInline = "inline"

// Deps are the collaborators shared by every pipeline.
type Deps struct {
	Store    store.RecordStore
	Locker   lock.Locker
	Logger   *zap.Logger
	Observer Observer
	Options  Options
}

// Request starts a run. RecordID may be empty when the first agent creates
// the record.
type Request struct {
	RunID    string                 `json:"run_id,omitempty"`
	RecordID string                 `json:"record_id,omitempty"`
	Payload  map[string]interface{} `json:"payload"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// NewState seeds the accumulator for a run of pipeline.
func NewState(pipeline string, req Request) State {
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return State{
		RunID:    runID,
		Pipeline: pipeline,
		RecordID: req.RecordID,
		Payload:  req.Payload,
		Context:  req.Context,
	}
}

// Pipeline is a named, ordered list of agents. Safe for concurrent use.
type Pipeline struct {
	name      string
	agents    []agents.Agent
	committer *Committer
	observer  Observer
	logger    *zap.Logger
}

// New builds a pipeline. At least one agent is required.
func New(name string, steps []agents.Agent, deps Deps) (*Pipeline, error) {
	if len(steps) == 0 {
		return nil, apperrors.Validation("pipeline %q has no agents", name)
	}
	if deps.Store == nil {
		return nil, apperrors.Validation("pipeline %q needs a record store", name)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	obs := deps.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	return &Pipeline{
		name:      name,
		agents:    append([]agents.Agent(nil), steps...),
		committer: NewCommitter(deps.Store, deps.Locker, logger, deps.Options),
		observer:  obs,
		logger:    logger.With(zap.String("pipeline", name)),
	}, nil
}

func (p *Pipeline) Name() string { return p.name }

// Kinds lists the agents in execution order.
func (p *Pipeline) Kinds() []agents.Kind {
	out := make([]agents.Kind, len(p.agents))
	for i, a := range p.agents {
		out[i] = a.Name()
	}
	return out
}

// Run executes every agent in order and commits. A failed agent does not
// stop the run. On cancellation the partial state is returned with the
// context error and nothing is committed. Commit errors are returned next
// to the final state.
func (p *Pipeline) Run(ctx context.Context, req Request) (*State, error) {
	start := time.Now()
	s := NewState(p.name, req)
	logger := p.logger.With(zap.String("run_id", s.RunID))
	logger.Info("Pipeline started", zap.String("record_id", s.RecordID), zap.Int("steps", len(p.agents)))

	for _, a := range p.agents {
		if err := ctx.Err(); err != nil {
			logger.Warn("Pipeline cancelled", zap.Int("completed_steps", len(s.Steps)), zap.Error(err))
			ometrics.RecordPipelineMetrics(p.name, ModeInline, "cancelled", time.Since(start).Seconds())
			return &s, err
		}
		stepStart := time.Now()
		res := a.Run(ctx, s.Input())
		ometrics.RecordAgentMetrics(string(a.Name()), res.Success, time.Since(stepStart).Seconds())
		s = Fold(s, a.Name(), res)

		step := s.Steps[len(s.Steps)-1]
		if step.Success {
			logger.Debug("Step finished", zap.String("agent", string(step.Agent)), zap.String("message", step.Message))
		} else {
			logger.Info("Step failed, continuing", zap.String("agent", string(step.Agent)), zap.String("message", step.Message))
		}
		p.observer.OnStep(ctx, &s, step)
	}

	if err := ctx.Err(); err != nil {
		ometrics.RecordPipelineMetrics(p.name, ModeInline, "cancelled", time.Since(start).Seconds())
		return &s, err
	}

	err := p.committer.Commit(ctx, &s)
	status := "completed"
	if err != nil {
		status = "commit_failed"
		logger.Error("Pipeline commit failed", zap.String("record_id", s.RecordID), zap.Error(err))
	}
	ometrics.RecordPipelineMetrics(p.name, ModeInline, status, time.Since(start).Seconds())
	p.observer.OnCommit(ctx, &s, err)
	logger.Info("Pipeline finished",
		zap.String("record_id", s.RecordID),
		zap.Bool("last_success", s.LastSuccess),
		zap.Duration("duration", time.Since(start)),
	)
	return &s, err
}
