package agents

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/lifecycle"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
)

const EventComplianceReviewCompleted = "COMPLIANCE_REVIEW_COMPLETED"

// Risk levels assigned by compliance review.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

var riskScores = map[string]float64{RiskLow: 0.9, RiskMedium: 0.7, RiskHigh: 0.4}

// ComplianceReview is the structured outcome stored on a work item.
type ComplianceReview struct {
	RiskLevel       string   `json:"risk_level"`
	Summary         string   `json:"summary"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
	Notes           []string `json:"notes"`
	Score           float64  `json:"score"`
}

func (r ComplianceReview) toMap() map[string]interface{} {
	return map[string]interface{}{
		"risk_level":      r.RiskLevel,
		"summary":         r.Summary,
		"issues":          toInterfaces(r.Issues),
		"recommendations": toInterfaces(r.Recommendations),
		"notes":           toInterfaces(r.Notes),
		"score":           r.Score,
	}
}

// complianceAgent applies review templates by review type and jurisdiction.
type complianceAgent struct{ base }

func (p CompliancePayload) validate() error {
	if len(p.Tasks) == 0 {
		return apperrors.Validation("compliance payload missing 'tasks'")
	}
	return nil
}

func (a *complianceAgent) Run(ctx context.Context, in Input) Result {
	var p CompliancePayload
	if err := decodeInto(in.Payload, &p); err != nil {
		return a.fail("compliance payload is malformed: %v", err)
	}
	if err := p.validate(); err != nil {
		return a.fail("%v", err)
	}

	now := a.deps.now()
	details := make([]itemDetail, 0, len(p.Tasks))
	var reviewed []string
	valid := 0

	for _, t := range p.Tasks {
		item, status, err := a.loadWorkItem(ctx, t.TaskID)
		if status != "" {
			details = append(details, detail(t.TaskID, status, err))
			continue
		}
		valid++

		review := Review(t)
		_, err = a.deps.Store.UpdateWorkItem(ctx, item.ID, models.WorkItemPatch{
			Status: models.Ptr(models.StatusCompleted),
			Metadata: map[string]interface{}{
				"compliance_review": review.toMap(),
				"compliance": map[string]interface{}{
					"source_agent": a.kind.SourceName(),
					"review_type":  t.ReviewType,
					"timestamp":    now.Format(timeLayout),
				},
			},
		})
		if err != nil {
			a.logger.Warn("Failed to store compliance review", zap.String("task_id", item.ID), zap.Error(err))
			details = append(details, detail(item.ID, ItemStoreFailed, err))
			continue
		}
		reviewed = append(reviewed, item.ID)
		d := detail(item.ID, ItemReviewed, nil)
		d["review_type"] = t.ReviewType
		d["risk_level"] = review.RiskLevel
		d["issues_found"] = len(review.Issues)
		details = append(details, d)
	}

	res := Result{
		Success:  valid > 0,
		Message:  "compliance reviewed " + itoa(len(reviewed)) + " sections",
		RecordID: in.RecordID,
		Changes:  map[string]interface{}{"reviewed_task_ids": toInterfaces(reviewed)},
		Events: map[string]models.Event{
			"compliance_review_completed": a.event(EventComplianceReviewCompleted, in.RecordID, now, map[string]interface{}{
				"num_tasks":    len(p.Tasks),
				"num_reviewed": len(reviewed),
				"details":      detailsPayload(details),
			}),
		},
	}
	if len(reviewed) > 0 {
		res.NextState = suggest(lifecycle.QualityReview)
	}
	return res
}

// Review produces the templated review for one task.
func Review(t ComplianceTask) ComplianceReview {
	var r ComplianceReview
	switch t.ReviewType {
	case "contract_terms":
		r = ComplianceReview{
			RiskLevel: RiskMedium,
			Summary:   "Contract terms reviewed for standard compliance",
			Issues: []string{
				"Consider adding liability limitation clause",
				"Recommend specifying data retention period",
				"Review termination clause language",
			},
			Recommendations: []string{
				"Add 'limitation of liability to fees paid' clause",
				"Specify 30-day data deletion upon termination",
				"Include 30-day notice period for termination",
			},
		}
	case "liability":
		r = ComplianceReview{
			RiskLevel: RiskHigh,
			Summary:   "Liability exposure analysis completed",
			Issues: []string{
				"Unlimited liability exposure identified",
				"No force majeure clause present",
			},
			Recommendations: []string{
				"Cap liability at 12 months of fees",
				"Add standard force majeure provisions",
				"Include indemnification mutual terms",
			},
		}
	case "compliance":
		regs := t.IndustryRegulations
		issues := []string{}
		for i, reg := range regs {
			if i == 2 {
				break
			}
			issues = append(issues, "Verify "+reg+" compliance documentation")
		}
		r = ComplianceReview{
			RiskLevel: RiskLow,
			Summary:   "Compliance review for " + strings.Join(regs, ", ") + " regulations",
			Issues:    issues,
			Recommendations: []string{
				"Maintain current compliance documentation",
				"Regular compliance audits recommended",
			},
		}
	default:
		r = ComplianceReview{
			RiskLevel:       RiskLow,
			Summary:         "General legal review completed",
			Issues:          []string{},
			Recommendations: []string{"Standard legal review - no issues identified"},
		}
	}

	switch strings.ToUpper(strings.TrimSpace(t.ClientJurisdiction)) {
	case "EU":
		r.Notes = []string{"GDPR compliance verified", "EU contract law applicable"}
	case "CA":
		r.Notes = []string{"Canadian privacy laws considered", "Provincial regulations reviewed"}
	default:
		r.Notes = []string{"US federal and state laws considered"}
	}
	r.Score = riskScores[r.RiskLevel]
	return r
}
