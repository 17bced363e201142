// Package store persists records and work items.
package store

import (
	"context"

	"github.com/Kocoro-lab/rfpstudio/internal/models"
)

// RecordStore is the persistence boundary used by agents and the
// orchestrator. Every call is atomic on its own; callers serialise
// multi-call sequences on the same record with a lock.
//
// Malformed ids fail with apperrors.ErrInvalidIdentifier and unknown ids
// with apperrors.ErrNotFound.
type RecordStore interface {
	FindRecord(ctx context.Context, id string) (*models.Record, error)
	InsertRecord(ctx context.Context, r *models.Record) (string, error)
	UpdateRecord(ctx context.Context, id string, patch models.RecordPatch) (*models.Record, error)

	FindWorkItem(ctx context.Context, id string) (*models.WorkItem, error)
	InsertWorkItem(ctx context.Context, w *models.WorkItem) (string, error)
	UpdateWorkItem(ctx context.Context, id string, patch models.WorkItemPatch) (*models.WorkItem, error)
	ListWorkItems(ctx context.Context, recordID string) ([]*models.WorkItem, error)
}

// EventLister is implemented by stores that can page through a record's history.
type EventLister interface {
	ListEvents(ctx context.Context, recordID string, afterSeq int64, limit int) ([]models.Event, error)
}
