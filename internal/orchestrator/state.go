package orchestrator

import (
	"sort"

	"github.com/Kocoro-lab/rfpstudio/internal/agents"
	"github.com/Kocoro-lab/rfpstudio/internal/lifecycle"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
)

// StepChanges is one agent's change set, kept in run order.
type StepChanges struct {
	Agent   agents.Kind            `json:"agent"`
	Changes map[string]interface{} `json:"changes,omitempty"`
}

// StepOutcome summarises one executed step.
type StepOutcome struct {
	Agent   agents.Kind `json:"agent"`
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Events  int         `json:"events"`
}

// TransitionOutcome reports what the commit did with the suggested stage.
type TransitionOutcome struct {
	From    lifecycle.State `json:"from"`
	To      lifecycle.State `json:"to"`
	Applied bool            `json:"applied"`
	Reason  string          `json:"reason,omitempty"`
}

// State accumulates the results of a pipeline run. It is owned by a single
// run and never shared between goroutines.
type State struct {
	RunID       string                 `json:"run_id"`
	Pipeline    string                 `json:"pipeline"`
	RecordID    string                 `json:"record_id,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Changes     []StepChanges          `json:"changes"`
	Events      []models.Event         `json:"events"`
	NextState   *lifecycle.State       `json:"next_state,omitempty"`
	LastMessage string                 `json:"last_message"`
	LastSuccess bool                   `json:"last_success"`
	Steps       []StepOutcome          `json:"steps"`
	Transition  *TransitionOutcome     `json:"transition,omitempty"`
}

// Input is what the next agent sees.
func (s State) Input() agents.Input {
	return agents.Input{RecordID: s.RecordID, Payload: s.Payload, Context: s.Context}
}

// Fold merges one agent result into s and returns the new state. s is not
// modified. Events inside a step are ordered by their key; a suggested
// stage replaces any earlier suggestion.
func Fold(s State, kind agents.Kind, res agents.Result) State {
	out := s
	out.Changes = append(append([]StepChanges(nil), s.Changes...), StepChanges{Agent: kind, Changes: models.CloneMap(res.Changes)})

	keys := make([]string, 0, len(res.Events))
	for k := range res.Events {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out.Events = append([]models.Event(nil), s.Events...)
	for _, k := range keys {
		out.Events = append(out.Events, res.Events[k].Clone())
	}

	if res.NextState != nil {
		next := *res.NextState
		out.NextState = &next
	}
	out.LastMessage = res.Message
	out.LastSuccess = res.Success
	if out.RecordID == "" && res.RecordID != "" {
		out.RecordID = res.RecordID
	}
	out.Steps = append(append([]StepOutcome(nil), s.Steps...), StepOutcome{
		Agent:   kind,
		Success: res.Success,
		Message: res.Message,
		Events:  len(keys),
	})
	return out
}
