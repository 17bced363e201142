package store

import (
	"context"
	"sync"
	"time"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/lifecycle"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
)

// MemoryStore keeps everything in process. Values are deep-copied on the
// way in and out so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]*models.Record
	workItems map[string]*models.WorkItem
	byRecord  map[string][]string
	now       func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]*models.Record),
		workItems: make(map[string]*models.WorkItem),
		byRecord:  make(map[string][]string),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) FindRecord(ctx context.Context, id string) (*models.Record, error) {
	id, err := models.ParseID("record", id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, apperrors.NotFound("record", id)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) InsertRecord(ctx context.Context, r *models.Record) (string, error) {
	rec, err := prepareRecord(r, s.now())
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return "", apperrors.Validation("record %s already exists", rec.ID)
	}
	s.records[rec.ID] = rec
	return rec.ID, nil
}

func (s *MemoryStore) UpdateRecord(ctx context.Context, id string, patch models.RecordPatch) (*models.Record, error) {
	id, err := models.ParseID("record", id)
	if err != nil {
		return nil, err
	}
	if err := validateRecordPatch(patch); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, apperrors.NotFound("record", id)
	}
	patch.Apply(r, s.now())
	return r.Clone(), nil
}

func (s *MemoryStore) FindWorkItem(ctx context.Context, id string) (*models.WorkItem, error) {
	id, err := models.ParseID("work item", id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workItems[id]
	if !ok {
		return nil, apperrors.NotFound("work item", id)
	}
	return w.Clone(), nil
}

func (s *MemoryStore) InsertWorkItem(ctx context.Context, w *models.WorkItem) (string, error) {
	item, err := prepareWorkItem(w, s.now())
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workItems[item.ID]; exists {
		return "", apperrors.Validation("work item %s already exists", item.ID)
	}
	s.workItems[item.ID] = item
	s.byRecord[item.RecordID] = append(s.byRecord[item.RecordID], item.ID)
	return item.ID, nil
}

func (s *MemoryStore) UpdateWorkItem(ctx context.Context, id string, patch models.WorkItemPatch) (*models.WorkItem, error) {
	id, err := models.ParseID("work item", id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workItems[id]
	if !ok {
		return nil, apperrors.NotFound("work item", id)
	}
	patch.Apply(w, s.now())
	return w.Clone(), nil
}

func (s *MemoryStore) ListWorkItems(ctx context.Context, recordID string) ([]*models.WorkItem, error) {
	recordID, err := models.ParseID("record", recordID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byRecord[recordID]
	out := make([]*models.WorkItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.workItems[id].Clone())
	}
	return out, nil
}

// ListEvents pages through the record history kept on the record itself.
// Sequence numbers start at 1.
func (s *MemoryStore) ListEvents(ctx context.Context, recordID string, afterSeq int64, limit int) ([]models.Event, error) {
	r, err := s.FindRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(r.History)) {
		return nil, nil
	}
	events := r.History[afterSeq:]
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func prepareRecord(r *models.Record, now time.Time) (*models.Record, error) {
	if r == nil {
		return nil, apperrors.Validation("record is nil")
	}
	rec := r.Clone()
	if rec.ID == "" {
		rec.ID = models.NewID()
	} else {
		id, err := models.ParseID("record", rec.ID)
		if err != nil {
			return nil, err
		}
		rec.ID = id
	}
	if rec.Status == "" {
		rec.Status = lifecycle.Initiated
	}
	if !rec.Status.Valid() {
		return nil, apperrors.Validation("record status %q", rec.Status)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	return rec, nil
}

func prepareWorkItem(w *models.WorkItem, now time.Time) (*models.WorkItem, error) {
	if w == nil {
		return nil, apperrors.Validation("work item is nil")
	}
	item := w.Clone()
	recordID, err := models.ParseID("record", item.RecordID)
	if err != nil {
		return nil, err
	}
	item.RecordID = recordID
	if item.ID == "" {
		item.ID = models.NewID()
	} else if item.ID, err = models.ParseID("work item", item.ID); err != nil {
		return nil, err
	}
	if item.Type == "" {
		item.Type = models.TypeOther
	}
	if item.Status == "" {
		item.Status = models.StatusPending
	}
	if item.Metadata == nil {
		item.Metadata = map[string]interface{}{}
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	return item, nil
}

func validateRecordPatch(p models.RecordPatch) error {
	if p.Status != nil && !p.Status.Valid() {
		return apperrors.Validation("record status %q", *p.Status)
	}
	return nil
}
