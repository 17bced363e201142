package agents

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/lifecycle"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
)

const (
	EventRecordCreated = "RECORD_CREATED"
	EventRecordUpdated = "RECORD_UPDATED"
)

// intakeAgent creates records from sales intake and enriches existing ones.
type intakeAgent struct{ base }

func (a *intakeAgent) Run(ctx context.Context, in Input) Result {
	var p IntakePayload
	if err := decodeInto(in.Payload, &p); err != nil {
		return a.fail("intake payload is malformed: %v", err)
	}
	if in.RecordID == "" {
		return a.create(ctx, p)
	}
	return a.update(ctx, in.RecordID, p)
}

func (p IntakePayload) validateCreate() error {
	if p.Title == nil || strings.TrimSpace(*p.Title) == "" {
		return apperrors.Validation("missing 'title' in intake payload")
	}
	if p.ClientName == nil || strings.TrimSpace(*p.ClientName) == "" {
		return apperrors.Validation("missing 'client_name' in intake payload")
	}
	return nil
}

func (a *intakeAgent) create(ctx context.Context, p IntakePayload) Result {
	if err := p.validateCreate(); err != nil {
		return a.fail("intake could not build a record: %v", err)
	}
	now := a.deps.now()
	rec := &models.Record{
		Title:  strings.TrimSpace(*p.Title),
		Status: lifecycle.Initiated,
		Client: models.Client{Name: strings.TrimSpace(*p.ClientName), Contact: deref(p.ClientContact)},
		Timeline: models.Timeline{
			ReceivedDate: deref(p.ReceivedDate),
			DueDate:      deref(p.DueDate),
		},
		Metadata: models.RecordMetadata{
			Industry: deref(p.Industry),
			Size:     deref(p.Size),
			Tags:     p.Tags,
			Extra:    models.CloneMap(p.Metadata),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	id, err := a.deps.Store.InsertRecord(ctx, rec)
	if err != nil {
		a.logger.Error("Failed to insert record", zap.Error(err))
		return a.fail("intake could not store the record: %v", err)
	}
	a.logger.Info("Record created", zap.String("record_id", id), zap.String("title", rec.Title))

	res := Result{
		Success:  true,
		Message:  "record created by intake",
		RecordID: id,
		Changes: map[string]interface{}{
			"record_id": id,
			"title":     rec.Title,
			"client":    rec.Client.Name,
		},
		Events: map[string]models.Event{
			"record_created": a.event(EventRecordCreated, id, now, map[string]interface{}{
				"title":       rec.Title,
				"client_name": rec.Client.Name,
			}),
		},
	}
	if next := lifecycle.NextValidStates(lifecycle.Initiated); len(next) > 0 {
		res.NextState = suggest(next[0])
	}
	return res
}

func (a *intakeAgent) update(ctx context.Context, recordID string, p IntakePayload) Result {
	rec, err := a.resolveRecord(ctx, recordID)
	if err != nil {
		return a.fail("intake cannot update record %s: %v", recordID, err)
	}

	patch := models.RecordPatch{
		Title:         nonBlank(p.Title),
		ClientName:    nonBlank(p.ClientName),
		ClientContact: p.ClientContact,
		ReceivedDate:  p.ReceivedDate,
		DueDate:       p.DueDate,
		Industry:      p.Industry,
		Size:          p.Size,
		Tags:          p.Tags,
		Metadata:      p.Metadata,
	}
	if patch.Empty() {
		return Result{Success: true, Message: "intake had no updates to apply", RecordID: rec.ID}
	}

	updated, err := a.deps.Store.UpdateRecord(ctx, rec.ID, patch)
	if err != nil {
		a.logger.Error("Failed to update record", zap.String("record_id", rec.ID), zap.Error(err))
		return a.fail("intake could not update record %s: %v", rec.ID, err)
	}
	now := a.deps.now()
	return Result{
		Success:  true,
		Message:  "record updated by intake",
		RecordID: updated.ID,
		Changes: map[string]interface{}{
			"record_id":      updated.ID,
			"updated_fields": updatedFields(patch),
		},
		Events: map[string]models.Event{
			"record_updated": a.event(EventRecordUpdated, updated.ID, now, map[string]interface{}{
				"updated_fields": updatedFields(patch),
			}),
		},
	}
}

func updatedFields(p models.RecordPatch) []interface{} {
	var out []interface{}
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(p.Title != nil, "title")
	add(p.ClientName != nil, "client_name")
	add(p.ClientContact != nil, "client_contact")
	add(p.ReceivedDate != nil, "received_date")
	add(p.DueDate != nil, "due_date")
	add(p.Industry != nil, "industry")
	add(p.Size != nil, "size")
	add(p.Tags != nil, "tags")
	add(len(p.Metadata) > 0, "metadata")
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nonBlank drops empty strings so they cannot clear a required field.
func nonBlank(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
