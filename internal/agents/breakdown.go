package agents

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/lifecycle"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
)

const EventBreakdownCreated = "BREAKDOWN_CREATED"

// breakdownAgent splits a record into pending work items, one per section.
type breakdownAgent struct{ base }

func (p BreakdownPayload) validate() error {
	if len(p.Sections) == 0 {
		return apperrors.Validation("breakdown payload missing 'sections'")
	}
	return nil
}

func (a *breakdownAgent) Run(ctx context.Context, in Input) Result {
	var p BreakdownPayload
	if err := decodeInto(in.Payload, &p); err != nil {
		return a.fail("breakdown payload is malformed: %v", err)
	}
	rec, err := a.resolveRecord(ctx, in.RecordID)
	if err != nil {
		return a.fail("breakdown cannot load record: %v", err)
	}
	if err := p.validate(); err != nil {
		return a.fail("%v", err)
	}

	now := a.deps.now()
	var created []string
	var refs []models.TaskRef
	details := make([]itemDetail, 0, len(p.Sections))

	for i, s := range p.Sections {
		title := strings.TrimSpace(s.Title)
		index := i
		if s.Index != nil {
			index = *s.Index
		}
		if title == "" {
			d := detail("", ItemMissingTitle, nil)
			d["section_index"] = index
			details = append(details, d)
			continue
		}
		itemType, ok := models.ParseWorkItemType(s.TaskType)
		if !ok {
			itemType = models.TypeBreakdown
		}
		item := &models.WorkItem{
			RecordID:     rec.ID,
			Type:         itemType,
			Status:       models.StatusPending,
			AssignedTeam: strings.TrimSpace(s.SuggestedTeam),
			Title:        title,
			Description:  s.Description,
			Metadata: map[string]interface{}{
				"source":        a.kind.SourceName(),
				"section_index": index,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		id, err := a.deps.Store.InsertWorkItem(ctx, item)
		if err != nil {
			a.logger.Warn("Failed to create work item", zap.Int("section_index", index), zap.Error(err))
			d := detail("", ItemStoreFailed, err)
			d["section_index"] = index
			details = append(details, d)
			continue
		}
		created = append(created, id)
		refs = append(refs, models.TaskRef{TaskID: id, Source: a.kind.SourceName()})
		details = append(details, detail(id, ItemCreated, nil))
	}

	if len(refs) > 0 {
		if _, err := a.deps.Store.UpdateRecord(ctx, rec.ID, models.RecordPatch{AppendTasks: refs}); err != nil {
			a.logger.Error("Failed to attach work items to record", zap.String("record_id", rec.ID), zap.Error(err))
			return a.fail("breakdown created %d work items but could not attach them: %v", len(refs), err)
		}
	}

	res := Result{
		Success:  len(created) > 0,
		Message:  "breakdown created " + itoa(len(created)) + " work items",
		RecordID: rec.ID,
		Changes: map[string]interface{}{
			"record_id":        rec.ID,
			"created_task_ids": toInterfaces(created),
		},
		Events: map[string]models.Event{
			"breakdown_created": a.event(EventBreakdownCreated, rec.ID, now, map[string]interface{}{
				"num_sections": len(p.Sections),
				"num_created":  len(created),
				"task_ids":     toInterfaces(created),
				"details":      detailsPayload(details),
			}),
		},
	}
	if len(created) > 0 {
		if next, ok := lifecycle.Successor(lifecycle.BDMReview); ok {
			res.NextState = suggest(next)
		}
	}
	a.logger.Info("Breakdown finished", zap.String("record_id", rec.ID), zap.Int("created", len(created)), zap.Int("sections", len(p.Sections)))
	return res
}
