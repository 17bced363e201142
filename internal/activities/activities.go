// Package activities exposes agent steps and the pipeline commit as Temporal
// activities so long-running record pipelines survive worker restarts.
package activities

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/agents"
	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	ometrics "github.com/Kocoro-lab/rfpstudio/internal/metrics"
	"github.com/Kocoro-lab/rfpstudio/internal/orchestrator"
)

// Registered activity names.
const (
	ExecuteAgentStepActivity = "ExecuteAgentStep"
	CommitPipelineActivity   = "CommitPipeline"
)

// AgentStepInput runs one agent against the accumulated state.
type AgentStepInput struct {
	Agent string             `json:"agent"`
	State orchestrator.State `json:"state"`
}

// CommitInput carries the final accumulator.
type CommitInput struct {
	State orchestrator.State `json:"state"`
}

// CommitResult reports the stage change decided by the commit.
type CommitResult struct {
	Transition *orchestrator.TransitionOutcome `json:"transition,omitempty"`
}

// Activities holds the collaborators activities run with.
type Activities struct {
	agentDeps agents.Deps
	committer *orchestrator.Committer
	observer  orchestrator.Observer
	logger    *zap.Logger

	mu    sync.Mutex
	built map[agents.Kind]agents.Agent
}

// NewActivities creates the activity set. observer may be nil.
func NewActivities(agentDeps agents.Deps, committer *orchestrator.Committer, observer orchestrator.Observer, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = orchestrator.NopObserver{}
	}
	return &Activities{
		agentDeps: agentDeps,
		committer: committer,
		observer:  observer,
		logger:    logger,
		built:     make(map[agents.Kind]agents.Agent),
	}
}

func (a *Activities) agent(kind agents.Kind) (agents.Agent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ag, ok := a.built[kind]; ok {
		return ag, nil
	}
	ag, err := agents.New(kind, a.agentDeps)
	if err != nil {
		return nil, err
	}
	a.built[kind] = ag
	return ag, nil
}

// ExecuteAgentStep runs a single agent. Expected input problems come back in
// the Result; only an unknown agent is an error, and it is not retried.
func (a *Activities) ExecuteAgentStep(ctx context.Context, in AgentStepInput) (agents.Result, error) {
	kind, err := agents.ParseKind(in.Agent)
	if err != nil {
		return agents.Result{}, nonRetryable(err)
	}
	ag, err := a.agent(kind)
	if err != nil {
		return agents.Result{}, nonRetryable(err)
	}
	if activity.IsActivity(ctx) {
		activity.RecordHeartbeat(ctx, in.Agent)
	}
	start := time.Now()
	res := ag.Run(ctx, in.State.Input())
	ometrics.RecordAgentMetrics(string(kind), res.Success, time.Since(start).Seconds())

	next := orchestrator.Fold(in.State, kind, res)
	a.observer.OnStep(ctx, &next, next.Steps[len(next.Steps)-1])
	a.logger.Debug("Agent step executed",
		zap.String("agent", string(kind)),
		zap.Bool("success", res.Success),
		zap.String("message", res.Message),
	)
	return res, nil
}

// CommitPipeline writes the run's events and stage change to the record.
// Lock or store failures are retried by Temporal; validation failures and
// strict-mode rejections are not.
func (a *Activities) CommitPipeline(ctx context.Context, in CommitInput) (CommitResult, error) {
	s := in.State
	err := a.committer.Commit(ctx, &s)
	a.observer.OnCommit(ctx, &s, err)
	if err != nil {
		a.logger.Warn("Commit failed", zap.String("run_id", s.RunID), zap.String("record_id", s.RecordID), zap.Error(err))
		switch apperrors.Kind(err) {
		case apperrors.KindValidation, apperrors.KindInvalidIdentifier, apperrors.KindNotFound, apperrors.KindTransitionRejected:
			// results are dropped alongside an error, so the outcome rides in the details
			if s.Transition != nil {
				return CommitResult{Transition: s.Transition}, nonRetryable(err, *s.Transition)
			}
			return CommitResult{}, nonRetryable(err)
		}
		return CommitResult{}, err
	}
	return CommitResult{Transition: s.Transition}, nil
}

func nonRetryable(err error, details ...interface{}) error {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return err
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), apperrors.Kind(err), err, details...)
}
