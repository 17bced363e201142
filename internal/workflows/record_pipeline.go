// Package workflows holds the Temporal workflow that drives a record
// pipeline step by step.
package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Kocoro-lab/rfpstudio/internal/activities"
	"github.com/Kocoro-lab/rfpstudio/internal/agents"
	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/orchestrator"
)

const (
	// RecordPipelineWorkflowName is the registered workflow type.
	RecordPipelineWorkflowName = "RecordPipelineWorkflow"
	// StateQuery returns the accumulator as of the last completed step.
	StateQuery = "state"
)

// RecordPipelineInput selects the agents to run and seeds the run.
type RecordPipelineInput struct {
	Pipeline string               `json:"pipeline"`
	Agents   []string             `json:"agents"`
	Request  orchestrator.Request `json:"request"`
	// StepTimeout bounds each activity attempt. Zero means two minutes.
	StepTimeout time.Duration `json:"step_timeout,omitempty"`
}

// RecordPipelineWorkflow mirrors orchestrator.Pipeline.Run: each agent is
// an activity, results are folded in the workflow, and the commit is a
// final activity. Failed agents do not stop the run.
func RecordPipelineWorkflow(ctx workflow.Context, in RecordPipelineInput) (orchestrator.State, error) {
	logger := workflow.GetLogger(ctx)
	if len(in.Agents) == 0 {
		return orchestrator.State{}, temporal.NewNonRetryableApplicationError(
			"pipeline "+in.Pipeline+" has no agents", apperrors.KindValidation, nil)
	}
	kinds := make([]agents.Kind, 0, len(in.Agents))
	for _, tag := range in.Agents {
		kind, err := agents.ParseKind(tag)
		if err != nil {
			return orchestrator.State{}, temporal.NewNonRetryableApplicationError(err.Error(), apperrors.KindValidation, err)
		}
		kinds = append(kinds, kind)
	}

	req := in.Request
	if req.RunID == "" {
		req.RunID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	state := orchestrator.NewState(in.Pipeline, req)
	if err := workflow.SetQueryHandler(ctx, StateQuery, func() (orchestrator.State, error) {
		return state, nil
	}); err != nil {
		return state, err
	}

	timeout := in.StepTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	actx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	logger.Info("Starting RecordPipelineWorkflow",
		"pipeline", in.Pipeline,
		"run_id", state.RunID,
		"record_id", state.RecordID,
		"steps", len(kinds),
	)

	for _, kind := range kinds {
		if err := ctx.Err(); err != nil {
			logger.Warn("Pipeline cancelled", "completed_steps", len(state.Steps))
			return state, err
		}
		var res agents.Result
		err := workflow.ExecuteActivity(actx, activities.ExecuteAgentStepActivity, activities.AgentStepInput{
			Agent: string(kind),
			State: state,
		}).Get(ctx, &res)
		if err != nil {
			if temporal.IsCanceledError(err) {
				return state, err
			}
			// an agent that cannot run at all counts as a failed step
			logger.Error("Agent step failed", "agent", string(kind), "error", err)
			res = agents.Result{Success: false, Message: err.Error()}
		}
		state = orchestrator.Fold(state, kind, res)
	}

	var commit activities.CommitResult
	err := workflow.ExecuteActivity(actx, activities.CommitPipelineActivity, activities.CommitInput{State: state}).Get(ctx, &commit)
	state.Transition = commit.Transition
	if err != nil {
		logger.Error("Pipeline commit failed", "record_id", state.RecordID, "error", err)
		var appErr *temporal.ApplicationError
		if !errors.As(err, &appErr) {
			return state, err
		}
		var outcome orchestrator.TransitionOutcome
		if appErr.HasDetails() && appErr.Details(&outcome) == nil {
			state.Transition = &outcome
		}
		return state, temporal.NewNonRetryableApplicationError(appErr.Error(), appErr.Type(), err, state)
	}
	logger.Info("RecordPipelineWorkflow finished", "record_id", state.RecordID, "last_success", state.LastSuccess)
	return state, nil
}
