package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/circuitbreaker"
	"github.com/Kocoro-lab/rfpstudio/internal/db"
	"github.com/Kocoro-lab/rfpstudio/internal/lifecycle"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	logger := zaptest.NewLogger(t)
	dw, err := db.Open(context.Background(), db.Config{
		Driver:      db.DriverSQLite,
		Path:        filepath.Join(t.TempDir(), "rfp.db"),
		AutoMigrate: true,
	}, circuitbreaker.Settings{}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { dw.DB().Close() })
	return NewSQLStore(dw, logger)
}

// each implementation must honour the same contract
func forEachStore(t *testing.T, fn func(t *testing.T, s RecordStore)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
}

func TestRecordLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RecordStore) {
		ctx := context.Background()
		id, err := s.InsertRecord(ctx, &models.Record{
			Title:  "Cloud RFP",
			Client: models.Client{Name: "Acme"},
		})
		require.NoError(t, err)

		r, err := s.FindRecord(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Cloud RFP", r.Title)
		assert.Equal(t, lifecycle.Initiated, r.Status)
		assert.False(t, r.CreatedAt.IsZero())

		updated, err := s.UpdateRecord(ctx, id, models.RecordPatch{
			Status:        models.Ptr(lifecycle.LinkedToRecord),
			ClientContact: models.Ptr("bids@acme.test"),
			AppendHistory: []models.Event{{Type: "RECORD_CREATED", SourceAgent: "intake"}},
		})
		require.NoError(t, err)
		assert.Equal(t, lifecycle.LinkedToRecord, updated.Status)
		assert.Equal(t, "Acme", updated.Client.Name)
		assert.Equal(t, "bids@acme.test", updated.Client.Contact)
		require.Len(t, updated.History, 1)

		again, err := s.FindRecord(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, updated.Status, again.Status)
		assert.Len(t, again.History, 1)
	})
}

func TestIdentifierErrors(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RecordStore) {
		ctx := context.Background()

		_, err := s.FindRecord(ctx, "not-an-id")
		assert.ErrorIs(t, err, apperrors.ErrInvalidIdentifier)

		_, err = s.FindRecord(ctx, models.NewID())
		assert.ErrorIs(t, err, apperrors.ErrNotFound)

		_, err = s.UpdateRecord(ctx, models.NewID(), models.RecordPatch{Title: models.Ptr("x")})
		assert.ErrorIs(t, err, apperrors.ErrNotFound)

		_, err = s.FindWorkItem(ctx, "123")
		assert.ErrorIs(t, err, apperrors.ErrInvalidIdentifier)

		_, err = s.UpdateWorkItem(ctx, models.NewID(), models.WorkItemPatch{Status: models.Ptr(models.StatusCompleted)})
		assert.ErrorIs(t, err, apperrors.ErrNotFound)

		_, err = s.InsertWorkItem(ctx, &models.WorkItem{RecordID: "bogus", Title: "x"})
		assert.ErrorIs(t, err, apperrors.ErrInvalidIdentifier)
	})
}

func TestInvalidStatusRejected(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RecordStore) {
		ctx := context.Background()
		id, err := s.InsertRecord(ctx, &models.Record{Title: "t", Client: models.Client{Name: "c"}})
		require.NoError(t, err)

		_, err = s.UpdateRecord(ctx, id, models.RecordPatch{Status: models.Ptr(lifecycle.State("RFP_BREAKDOWN"))})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})
}

func TestWorkItems(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RecordStore) {
		ctx := context.Background()
		recordID, err := s.InsertRecord(ctx, &models.Record{Title: "t", Client: models.Client{Name: "c"}})
		require.NoError(t, err)

		var ids []string
		for _, title := range []string{"Executive Overview", "Security Questionnaire", "Pricing"} {
			id, err := s.InsertWorkItem(ctx, &models.WorkItem{
				RecordID: recordID,
				Type:     models.TypeBreakdown,
				Title:    title,
				Metadata: map[string]interface{}{"source": "breakdown"},
			})
			require.NoError(t, err)
			ids = append(ids, id)
		}

		w, err := s.UpdateWorkItem(ctx, ids[1], models.WorkItemPatch{
			AssignedTeam: models.Ptr("sme_team_security"),
			Metadata:     map[string]interface{}{"routing": map[string]interface{}{"matched_entry_id": "kb-1"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "sme_team_security", w.AssignedTeam)
		assert.Equal(t, "breakdown", w.Metadata["source"])
		assert.Equal(t, models.StatusPending, w.Status)

		items, err := s.ListWorkItems(ctx, recordID)
		require.NoError(t, err)
		require.Len(t, items, 3)
		for i, item := range items {
			assert.Equal(t, ids[i], item.ID)
		}
	})
}

func TestListEvents(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RecordStore) {
		lister, ok := s.(EventLister)
		require.True(t, ok)

		ctx := context.Background()
		id, err := s.InsertRecord(ctx, &models.Record{Title: "t", Client: models.Client{Name: "c"}})
		require.NoError(t, err)
		for _, typ := range []string{"A", "B", "C"} {
			_, err := s.UpdateRecord(ctx, id, models.RecordPatch{AppendHistory: []models.Event{{Type: typ}}})
			require.NoError(t, err)
		}

		events, err := lister.ListEvents(ctx, id, 1, 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "B", events[0].Type)
		assert.Equal(t, "C", events[1].Type)
	})
}

func TestConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RecordStore) {
		ctx := context.Background()
		id, err := s.InsertRecord(ctx, &models.Record{Title: "t", Client: models.Client{Name: "c"}})
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpdateRecord(ctx, id, models.RecordPatch{
					AppendTasks: []models.TaskRef{{TaskID: models.NewID(), Source: "breakdown"}},
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		r, err := s.FindRecord(ctx, id)
		require.NoError(t, err)
		assert.Len(t, r.Tasks, 20)
	})
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, err := s.InsertRecord(ctx, &models.Record{Title: "t", Client: models.Client{Name: "c"}})
	require.NoError(t, err)

	r, _ := s.FindRecord(ctx, id)
	r.Title = "mutated"
	r.Status = lifecycle.Submitted

	again, _ := s.FindRecord(ctx, id)
	assert.Equal(t, "t", again.Title)
	assert.Equal(t, lifecycle.Initiated, again.Status)
}
