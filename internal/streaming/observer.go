package streaming

import (
	"context"

	"github.com/Kocoro-lab/rfpstudio/internal/orchestrator"
)

// Event types published for pipeline runs.
const (
	EventStepCompleted = "step_completed"
	EventRunCommitted  = "run_committed"
	EventCommitFailed  = "commit_failed"
)

// Observer publishes pipeline progress to the run topic and, once the record
// is known, to the record topic.
type Observer struct {
	m *Manager
}

func NewObserver(m *Manager) *Observer { return &Observer{m: m} }

func (o *Observer) OnStep(ctx context.Context, s *orchestrator.State, step orchestrator.StepOutcome) {
	o.publish(ctx, s, Event{
		Type:    EventStepCompleted,
		Agent:   string(step.Agent),
		Message: step.Message,
		Data: map[string]interface{}{
			"success": step.Success,
			"events":  step.Events,
			"step":    len(s.Steps),
		},
	})
}

func (o *Observer) OnCommit(ctx context.Context, s *orchestrator.State, err error) {
	evt := Event{Type: EventRunCommitted, Message: s.LastMessage, Data: map[string]interface{}{}}
	if err != nil {
		evt.Type = EventCommitFailed
		evt.Message = err.Error()
	}
	if t := s.Transition; t != nil {
		evt.Data["from"] = string(t.From)
		evt.Data["to"] = string(t.To)
		evt.Data["applied"] = t.Applied
	}
	o.publish(ctx, s, evt)
}

func (o *Observer) publish(ctx context.Context, s *orchestrator.State, evt Event) {
	evt.RunID = s.RunID
	evt.RecordID = s.RecordID
	o.m.Publish(ctx, RunTopic(s.RunID), evt)
	if s.RecordID != "" {
		o.m.Publish(ctx, RecordTopic(s.RecordID), evt)
	}
}

var _ orchestrator.Observer = (*Observer)(nil)
