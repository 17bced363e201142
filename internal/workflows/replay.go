package workflows

import (
	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// NewReplayer returns a replayer with every workflow this service runs
// registered under its production type name. Activities are not needed for
// replay.
func NewReplayer() worker.WorkflowReplayer {
	r := worker.NewWorkflowReplayer()
	r.RegisterWorkflowWithOptions(RecordPipelineWorkflow, workflow.RegisterOptions{Name: RecordPipelineWorkflowName})
	return r
}

// ReplayHistoryFile replays a history exported with
// `temporal workflow show --output json`. It fails on any non-determinism
// between the history and the current workflow code.
func ReplayHistoryFile(logger log.Logger, path string) error {
	return NewReplayer().ReplayWorkflowHistoryFromJSONFile(logger, path)
}
