package agents

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
)

// IntakePayload creates a record or merges fields into an existing one.
type IntakePayload struct {
	Title         *string                `json:"title,omitempty"`
	ClientName    *string                `json:"client_name,omitempty"`
	ClientContact *string                `json:"client_contact,omitempty"`
	ReceivedDate  *string                `json:"received_date,omitempty"`
	DueDate       *string                `json:"due_date,omitempty"`
	Industry      *string                `json:"industry,omitempty"`
	Size          *string                `json:"size,omitempty"`
	Tags          []string               `json:"tags,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Section is one proposed work item in a breakdown.
type Section struct {
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	SuggestedTeam string `json:"suggested_team,omitempty"`
	TaskType      string `json:"task_type,omitempty"`
	Index         *int   `json:"index,omitempty"`
}

type BreakdownPayload struct {
	Sections []Section `json:"sections"`
}

// Question asks for a work item to be routed by its text.
type Question struct {
	TaskID string `json:"task_id"`
	Text   string `json:"text"`
}

type RoutingPayload struct {
	Questions []Question `json:"questions"`
}

type DraftTask struct {
	TaskID        string   `json:"task_id"`
	ContentType   string   `json:"content_type,omitempty"`
	TemplateStyle string   `json:"template_style,omitempty"`
	Requirements  string   `json:"requirements,omitempty"`
	SMEInputs     []string `json:"sme_inputs,omitempty"`
}

type DraftingPayload struct {
	Tasks []DraftTask `json:"tasks"`
}

type ComplianceTask struct {
	TaskID              string   `json:"task_id"`
	ReviewType          string   `json:"review_type,omitempty"`
	Content             string   `json:"content,omitempty"`
	ClientJurisdiction  string   `json:"client_jurisdiction,omitempty"`
	IndustryRegulations []string `json:"industry_regulations,omitempty"`
}

type CompliancePayload struct {
	Tasks []ComplianceTask `json:"tasks"`
}

// QualityCriteria toggles individual checks. Nil means enabled.
type QualityCriteria struct {
	Grammar      *bool `json:"grammar,omitempty"`
	Formatting   *bool `json:"formatting,omitempty"`
	Completeness *bool `json:"completeness,omitempty"`
	Consistency  *bool `json:"consistency,omitempty"`
}

type QualityTask struct {
	TaskID                string          `json:"task_id"`
	Content               string          `json:"content,omitempty"`
	RequirementsChecklist []string        `json:"requirements_checklist,omitempty"`
	QualityCriteria       QualityCriteria `json:"quality_criteria,omitempty"`
}

type QualityPayload struct {
	Tasks []QualityTask `json:"tasks"`
}

// DecodePayload converts a JSON-like payload into the typed payload for
// kind. Shape errors (wrong field types) wrap ErrValidation; missing
// required fields are left for the agent to report.
func DecodePayload(kind Kind, raw map[string]interface{}) (interface{}, error) {
	var out interface{}
	switch kind {
	case KindIntake:
		out = &IntakePayload{}
	case KindBreakdown:
		out = &BreakdownPayload{}
	case KindRouting:
		out = &RoutingPayload{}
	case KindDrafting:
		out = &DraftingPayload{}
	case KindCompliance:
		out = &CompliancePayload{}
	case KindQuality:
		out = &QualityPayload{}
	default:
		return nil, apperrors.Validation("unknown agent %q", kind)
	}
	if err := decodeInto(raw, out); err != nil {
		return nil, fmt.Errorf("%s payload: %v: %w", kind, err, apperrors.ErrValidation)
	}
	return out, nil
}

func decodeInto(raw map[string]interface{}, out interface{}) error {
	if raw == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  out,
		// one payload may feed several agents, so unrelated keys are fine
		ErrorUnused: false,
		ZeroFields:  true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}
