package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/lifecycle"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
)

const EventContentDrafted = "CONTENT_DRAFTED"

// draftingAgent renders template drafts from requirements and SME inputs.
type draftingAgent struct{ base }

func (p DraftingPayload) validate() error {
	if len(p.Tasks) == 0 {
		return apperrors.Validation("drafting payload missing 'tasks'")
	}
	return nil
}

func (a *draftingAgent) Run(ctx context.Context, in Input) Result {
	var p DraftingPayload
	if err := decodeInto(in.Payload, &p); err != nil {
		return a.fail("drafting payload is malformed: %v", err)
	}
	if err := p.validate(); err != nil {
		return a.fail("%v", err)
	}

	now := a.deps.now()
	details := make([]itemDetail, 0, len(p.Tasks))
	var drafted []string
	valid := 0

	for _, t := range p.Tasks {
		item, status, err := a.loadWorkItem(ctx, t.TaskID)
		if status != "" {
			details = append(details, detail(t.TaskID, status, err))
			continue
		}
		valid++

		content := RenderDraft(t.ContentType, t.Requirements, t.SMEInputs)
		words := len(strings.Fields(content))
		score := DraftScore(t)
		_, err = a.deps.Store.UpdateWorkItem(ctx, item.ID, models.WorkItemPatch{
			Status: models.Ptr(models.StatusCompleted),
			Metadata: map[string]interface{}{
				"draft_content": content,
				"drafting": map[string]interface{}{
					"source_agent": a.kind.SourceName(),
					"content_type": t.ContentType,
					"word_count":   words,
					"score":        score,
					"timestamp":    now.Format(timeLayout),
				},
			},
		})
		if err != nil {
			a.logger.Warn("Failed to store draft", zap.String("task_id", item.ID), zap.Error(err))
			details = append(details, detail(item.ID, ItemStoreFailed, err))
			continue
		}
		drafted = append(drafted, item.ID)
		d := detail(item.ID, ItemDrafted, nil)
		d["content_type"] = t.ContentType
		d["word_count"] = words
		d["score"] = score
		details = append(details, d)
	}

	res := Result{
		Success:  valid > 0,
		Message:  "drafting drafted " + itoa(len(drafted)) + " sections",
		RecordID: in.RecordID,
		Changes:  map[string]interface{}{"drafted_task_ids": toInterfaces(drafted)},
		Events: map[string]models.Event{
			"content_drafted": a.event(EventContentDrafted, in.RecordID, now, map[string]interface{}{
				"num_tasks":   len(p.Tasks),
				"num_drafted": len(drafted),
				"details":     detailsPayload(details),
			}),
		},
	}
	if len(drafted) > 0 {
		res.NextState = suggest(lifecycle.LegalReview)
	}
	return res
}

// DraftScore rewards SME input (up to three) and stated requirements.
func DraftScore(t DraftTask) float64 {
	sme := len(t.SMEInputs)
	if sme > 3 {
		sme = 3
	}
	score := 0.5 + 0.1*float64(sme)
	if strings.TrimSpace(t.Requirements) != "" {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	return round2(score)
}

// RenderDraft fills the template for contentType.
func RenderDraft(contentType, requirements string, smeInputs []string) string {
	bullets := formatSMEInputs(smeInputs)
	switch contentType {
	case "executive_summary":
		return fmt.Sprintf(`## Executive Summary

Based on the requirements: %s

Our organization is well-positioned to deliver comprehensive solutions that meet your specified needs.
With our proven track record and expert team, we provide:

%s

We are committed to delivering exceptional value and look forward to partnering with you.`, requirements, bullets)
	case "technical_response":
		return fmt.Sprintf(`## Technical Response

### Requirements Analysis
%s

### Our Approach
%s

### Implementation Plan
1. Assessment and planning phase
2. Solution design and architecture
3. Implementation and testing
4. Deployment and support`, requirements, bullets)
	case "pricing":
		return fmt.Sprintf(`## Pricing and Commercial Terms

### Investment Overview
Based on your requirements: %s

### Pricing Structure
- Setup and implementation costs
- Ongoing subscription or licensing fees
- Optional professional services

%s

### Value Proposition
Our pricing reflects the comprehensive value delivered through our solution.`, requirements, bullets)
	default:
		return fmt.Sprintf(`## Response

Requirements: %s

%s`, requirements, bullets)
	}
}

func formatSMEInputs(inputs []string) string {
	var lines []string
	for _, in := range inputs {
		if s := strings.TrimSpace(in); s != "" {
			lines = append(lines, "• "+s)
		}
	}
	if len(lines) == 0 {
		return "• Comprehensive expertise across all relevant domains"
	}
	return strings.Join(lines, "\n")
}
