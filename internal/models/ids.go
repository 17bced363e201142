package models

import (
	"strings"

	"github.com/google/uuid"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
)

// NewID returns a fresh identifier for records, work items and knowledge entries.
func NewID() string {
	return uuid.NewString()
}

// ParseID validates an identifier and returns its canonical form.
func ParseID(entity, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", apperrors.InvalidID(entity, id)
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return "", apperrors.InvalidID(entity, id)
	}
	return u.String(), nil
}

// ParseWorkItemType maps a type tag to a WorkItemType. Tags are matched
// case-insensitively and the legacy upper-case workflow tags are accepted.
// The second result is false when the tag is not recognised.
func ParseWorkItemType(tag string) (WorkItemType, bool) {
	norm := strings.ToLower(strings.TrimSpace(tag))
	norm = strings.ReplaceAll(norm, "_", "-")
	switch norm {
	case "intake", "sales-intake":
		return TypeIntake, true
	case "breakdown", "rfp-breakdown", "bdm-review":
		return TypeBreakdown, true
	case "routing-question", "sme-qa", "sme-answer":
		return TypeRoutingQuestion, true
	case "drafting", "content-draft":
		return TypeDrafting, true
	case "compliance-review", "legal-review":
		return TypeComplianceReview, true
	case "quality-review":
		return TypeQualityReview, true
	case "other", "vp-approval", "submission":
		return TypeOther, true
	}
	return "", false
}
