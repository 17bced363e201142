// Package agents implements the processing stages a record passes through.
// Each agent consumes a payload, mutates records and work items through the
// store, and reports changes, events and an optional suggested transition.
package agents

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/embeddings"
	"github.com/Kocoro-lab/rfpstudio/internal/lifecycle"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
	"github.com/Kocoro-lab/rfpstudio/internal/router"
	"github.com/Kocoro-lab/rfpstudio/internal/store"
)

// Kind tags an agent variant.
type Kind string

const (
	KindIntake     Kind = "intake"
	KindBreakdown  Kind = "breakdown"
	KindRouting    Kind = "routing"
	KindDrafting   Kind = "drafting"
	KindCompliance Kind = "compliance"
	KindQuality    Kind = "quality"
)

var kinds = []Kind{KindIntake, KindBreakdown, KindRouting, KindDrafting, KindCompliance, KindQuality}

// Kinds lists every agent variant.
func Kinds() []Kind { return append([]Kind(nil), kinds...) }

// ParseKind validates an agent tag.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range kinds {
		if k == known {
			return k, nil
		}
	}
	return "", apperrors.Validation("unknown agent %q", s)
}

// SourceName is the value stamped on events and metadata written by k.
func (k Kind) SourceName() string { return string(k) + "_agent" }

// Input is what an agent sees for one step. RecordID is empty when the
// pipeline has not resolved a record yet.
type Input struct {
	RecordID string                 `json:"record_id,omitempty"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// Result is an agent's contribution to a pipeline run. Expected input
// problems are reported here with Success false, never as Go errors.
type Result struct {
	Success   bool                    `json:"success"`
	Message   string                  `json:"message"`
	Changes   map[string]interface{}  `json:"changes,omitempty"`
	Events    map[string]models.Event `json:"events,omitempty"`
	NextState *lifecycle.State        `json:"next_state,omitempty"`
	// RecordID is set by agents that create or resolve the target record.
	RecordID string `json:"record_id,omitempty"`
}

// Agent is one processing stage. Implementations are safe for concurrent use.
type Agent interface {
	Name() Kind
	Run(ctx context.Context, in Input) Result
}

// Deps are the collaborators agents are built with.
type Deps struct {
	Store    store.RecordStore
	Embedder embeddings.Provider
	Router   *router.Router
	Logger   *zap.Logger
	Now      func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// New builds the agent for kind.
func New(kind Kind, deps Deps) (Agent, error) {
	if deps.Store == nil {
		return nil, apperrors.Validation("agent %s needs a record store", kind)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	base := base{kind: kind, deps: deps, logger: deps.Logger.With(zap.String("agent", string(kind)))}
	switch kind {
	case KindIntake:
		return &intakeAgent{base}, nil
	case KindBreakdown:
		return &breakdownAgent{base}, nil
	case KindRouting:
		if deps.Embedder == nil || deps.Router == nil {
			return nil, apperrors.Validation("routing agent needs an embedder and a router")
		}
		return &routingAgent{base}, nil
	case KindDrafting:
		return &draftingAgent{base}, nil
	case KindCompliance:
		return &complianceAgent{base}, nil
	case KindQuality:
		return &qualityAgent{base}, nil
	default:
		return nil, apperrors.Validation("unknown agent %q", kind)
	}
}

// base carries what every variant shares.
type base struct {
	kind   Kind
	deps   Deps
	logger *zap.Logger
}

func (b base) Name() Kind { return b.kind }

func (b base) fail(format string, args ...interface{}) Result {
	msg := fmt.Sprintf(format, args...)
	b.logger.Info("Agent input rejected", zap.String("reason", msg))
	return Result{Success: false, Message: msg}
}

func (b base) event(eventType, recordID string, now time.Time, payload map[string]interface{}) models.Event {
	return models.Event{
		Type:        eventType,
		RecordID:    recordID,
		SourceAgent: b.kind.SourceName(),
		Timestamp:   now,
		Payload:     payload,
	}
}

// resolveRecord validates and loads the step's record.
func (b base) resolveRecord(ctx context.Context, recordID string) (*models.Record, error) {
	if strings.TrimSpace(recordID) == "" {
		return nil, apperrors.Validation("%s requires a record id", b.kind)
	}
	return b.deps.Store.FindRecord(ctx, recordID)
}

// Per-item statuses reported in event details.
const (
	ItemMissingField    = "missing_field"
	ItemMissingTitle    = "missing_title"
	ItemInvalidTaskID   = "invalid_task_id"
	ItemTaskNotFound    = "task_not_found"
	ItemEmbeddingFailed = "embedding_failed"
	ItemSearchFailed    = "search_failed"
	ItemNoMatch         = "no_match"
	ItemNoTeamInMatch   = "no_team_in_match"
	ItemStoreFailed     = "store_failed"
	ItemRouted          = "routed"
	ItemCreated         = "created"
	ItemDrafted         = "drafted"
	ItemReviewed        = "reviewed"
)

// itemDetail is one entry of an event's details list.
type itemDetail map[string]interface{}

func detail(taskID, status string, err error) itemDetail {
	d := itemDetail{"task_id": taskID, "status": status}
	if err != nil {
		d["error"] = err.Error()
	}
	return d
}

func detailsPayload(ds []itemDetail) []interface{} {
	out := make([]interface{}, len(ds))
	for i, d := range ds {
		out[i] = map[string]interface{}(d)
	}
	return out
}

// loadWorkItem runs the shared pre-checks for batch items and returns the
// failing status, or "" with the item.
func (b base) loadWorkItem(ctx context.Context, taskID string) (*models.WorkItem, string, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, ItemMissingField, apperrors.Validation("task_id is required")
	}
	if _, err := models.ParseID("work item", taskID); err != nil {
		return nil, ItemInvalidTaskID, err
	}
	item, err := b.deps.Store.FindWorkItem(ctx, taskID)
	switch {
	case err == nil:
		return item, "", nil
	case apperrors.Kind(err) == apperrors.KindNotFound:
		return nil, ItemTaskNotFound, err
	default:
		return nil, ItemStoreFailed, err
	}
}

func suggest(s lifecycle.State) *lifecycle.State { return &s }

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

const timeLayout = time.RFC3339

func itoa(n int) string { return strconv.Itoa(n) }

func toInterfaces(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
