package models

import (
	"time"

	"github.com/Kocoro-lab/rfpstudio/internal/lifecycle"
)

// WorkItemType classifies a work item.
type WorkItemType string

const (
	TypeIntake           WorkItemType = "intake"
	TypeBreakdown        WorkItemType = "breakdown"
	TypeRoutingQuestion  WorkItemType = "routing-question"
	TypeDrafting         WorkItemType = "drafting"
	TypeComplianceReview WorkItemType = "compliance-review"
	TypeQualityReview    WorkItemType = "quality-review"
	TypeOther            WorkItemType = "other"
)

// WorkItemStatus is the processing status of a work item.
type WorkItemStatus string

const (
	StatusPending    WorkItemStatus = "pending"
	StatusInProgress WorkItemStatus = "in-progress"
	StatusCompleted  WorkItemStatus = "completed"
	StatusBlocked    WorkItemStatus = "blocked"
	StatusCancelled  WorkItemStatus = "cancelled"
)

// Client identifies the issuing organisation.
type Client struct {
	Name    string `json:"name"`
	Contact string `json:"contact,omitempty"`
}

// Milestone is a named date on the record timeline.
type Milestone struct {
	Name string `json:"name"`
	Date string `json:"date,omitempty"`
}

// Timeline holds the record's key dates. Dates are kept as supplied.
type Timeline struct {
	ReceivedDate string      `json:"received_date,omitempty"`
	DueDate      string      `json:"due_date,omitempty"`
	Milestones   []Milestone `json:"milestones,omitempty"`
}

// Participants lists the people working on a record.
type Participants struct {
	SalesTeam []string `json:"sales_team,omitempty"`
	BDM       string   `json:"bdm,omitempty"`
	Writers   []string `json:"writers,omitempty"`
	SMEs      []string `json:"smes,omitempty"`
}

// Documents links the source, draft and final documents.
type Documents struct {
	OriginalURL string `json:"original_url,omitempty"`
	DraftURL    string `json:"draft_url,omitempty"`
	FinalURL    string `json:"final_url,omitempty"`
}

// RecordMetadata carries classification fields plus free-form extras.
type RecordMetadata struct {
	Industry string                 `json:"industry,omitempty"`
	Size     string                 `json:"size,omitempty"`
	Tags     []string               `json:"tags,omitempty"`
	Extra    map[string]interface{} `json:"extra,omitempty"`
}

// TaskRef points from a record to one of its work items.
type TaskRef struct {
	TaskID string `json:"task_id"`
	Source string `json:"source"`
}

// Event is an entry in a record's append-only history.
type Event struct {
	Type        string                 `json:"type"`
	RecordID    string                 `json:"record_id,omitempty"`
	SourceAgent string                 `json:"source_agent"`
	Timestamp   time.Time              `json:"timestamp"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// Record is a proposal response moving through the lifecycle.
type Record struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Status       lifecycle.State `json:"status"`
	Client       Client          `json:"client"`
	Timeline     Timeline        `json:"timeline"`
	Participants Participants    `json:"participants"`
	Documents    Documents       `json:"documents"`
	Metadata     RecordMetadata  `json:"metadata"`
	Tasks        []TaskRef       `json:"tasks"`
	History      []Event         `json:"history"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// WorkItem is a unit of work derived from a record.
type WorkItem struct {
	ID           string                 `json:"id"`
	RecordID     string                 `json:"record_id"`
	Type         WorkItemType           `json:"type"`
	Status       WorkItemStatus         `json:"status"`
	AssignedTeam string                 `json:"assigned_team,omitempty"`
	Title        string                 `json:"title"`
	Description  string                 `json:"description,omitempty"`
	Metadata     map[string]interface{} `json:"metadata"`
	Embedding    []float32              `json:"embedding,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// KnowledgeEntry is a piece of team knowledge the router searches.
type KnowledgeEntry struct {
	ID        string    `json:"id" yaml:"id,omitempty"`
	Text      string    `json:"text" yaml:"text"`
	Embedding []float32 `json:"embedding,omitempty" yaml:"-"`
	TeamKey   string    `json:"team_key" yaml:"team_key"`
	Topic     string    `json:"topic,omitempty" yaml:"topic,omitempty"`
	Tags      []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Candidate is one ranked corpus match. Seq is the entry's insertion order
// in the corpus and breaks score ties.
type Candidate struct {
	EntryID string  `json:"entry_id"`
	TeamKey string  `json:"team_key"`
	Topic   string  `json:"topic,omitempty"`
	Score   float64 `json:"score"`
	Seq     int64   `json:"-"`
}
