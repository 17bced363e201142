package agents

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	ometrics "github.com/Kocoro-lab/rfpstudio/internal/metrics"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
)

const EventRoutingCompleted = "ROUTING_COMPLETED"

// routingAgent assigns each question's work item to the team owning the
// nearest knowledge entry. It never suggests a transition: routing can run
// many times inside one stage.
type routingAgent struct{ base }

var errNoTeam = errors.New("top match has no team")

func (p RoutingPayload) validate() error {
	if len(p.Questions) == 0 {
		return apperrors.Validation("routing payload missing 'questions'")
	}
	return nil
}

func (a *routingAgent) Run(ctx context.Context, in Input) Result {
	var p RoutingPayload
	if err := decodeInto(in.Payload, &p); err != nil {
		return a.fail("routing payload is malformed: %v", err)
	}
	if err := p.validate(); err != nil {
		return a.fail("%v", err)
	}

	cfg := a.deps.Router.Config()
	details := make([]itemDetail, 0, len(p.Questions))
	var routed []string
	valid := 0

	for _, q := range p.Questions {
		if err := ctx.Err(); err != nil {
			details = append(details, detail(q.TaskID, ItemSearchFailed, err))
			continue
		}
		d, ok, passed := a.routeOne(ctx, q, cfg.PoolSize)
		if passed {
			valid++
		}
		if ok {
			routed = append(routed, q.TaskID)
		}
		ometrics.RoutingOutcomes.WithLabelValues(d["status"].(string)).Inc()
		details = append(details, d)
	}

	now := a.deps.now()
	a.logger.Info("Routing finished", zap.Int("questions", len(p.Questions)), zap.Int("routed", len(routed)))
	return Result{
		Success:  valid > 0,
		Message:  "routing assigned " + itoa(len(routed)) + " of " + itoa(len(p.Questions)) + " questions",
		RecordID: in.RecordID,
		Changes: map[string]interface{}{
			"routed_task_ids": toInterfaces(routed),
		},
		Events: map[string]models.Event{
			"routing_completed": a.event(EventRoutingCompleted, in.RecordID, now, map[string]interface{}{
				"num_questions": len(p.Questions),
				"num_routed":    len(routed),
				"details":       detailsPayload(details),
			}),
		},
	}
}

// routeOne returns the item's detail, whether it was routed, and whether it
// got past input validation.
func (a *routingAgent) routeOne(ctx context.Context, q Question, pool int) (itemDetail, bool, bool) {
	if strings.TrimSpace(q.TaskID) == "" || strings.TrimSpace(q.Text) == "" {
		return detail(q.TaskID, ItemMissingField, apperrors.Validation("task_id and text are required")), false, false
	}
	item, status, err := a.loadWorkItem(ctx, q.TaskID)
	if status != "" {
		return detail(q.TaskID, status, err), false, false
	}

	embedCtx, cancel := context.WithTimeout(ctx, a.deps.Router.Config().EmbedTimeout)
	vec, err := a.deps.Embedder.Embed(embedCtx, q.Text)
	cancel()
	if err != nil {
		a.logger.Warn("Embedding failed", zap.String("task_id", item.ID), zap.Error(err))
		return detail(item.ID, ItemEmbeddingFailed, err), false, true
	}

	cands, err := a.deps.Router.Route(ctx, vec, pool)
	if err != nil {
		return detail(item.ID, ItemSearchFailed, err), false, true
	}
	if len(cands) == 0 {
		return detail(item.ID, ItemNoMatch, nil), false, true
	}
	top := cands[0]
	if strings.TrimSpace(top.TeamKey) == "" {
		d := detail(item.ID, ItemNoTeamInMatch, errNoTeam)
		d["matched_entry_id"] = top.EntryID
		return d, false, true
	}

	now := a.deps.now()
	_, err = a.deps.Store.UpdateWorkItem(ctx, item.ID, models.WorkItemPatch{
		AssignedTeam: models.Ptr(top.TeamKey),
		Status:       models.Ptr(models.StatusPending),
		Metadata: map[string]interface{}{
			"routing": map[string]interface{}{
				"source_agent":     a.kind.SourceName(),
				"matched_entry_id": top.EntryID,
				"topic":            top.Topic,
				"score":            top.Score,
				"timestamp":        now.Format(timeLayout),
			},
		},
	})
	if err != nil {
		a.logger.Warn("Failed to store routing", zap.String("task_id", item.ID), zap.Error(err))
		return detail(item.ID, ItemStoreFailed, err), false, true
	}

	d := detail(item.ID, ItemRouted, nil)
	d["assigned_team"] = top.TeamKey
	d["matched_entry_id"] = top.EntryID
	d["score"] = top.Score
	return d, true, true
}
