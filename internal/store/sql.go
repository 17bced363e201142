package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/circuitbreaker"
	"github.com/Kocoro-lab/rfpstudio/internal/db"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
)

// SQLStore keeps records and work items as JSON documents with a few
// indexed columns. It runs on Postgres and sqlite.
type SQLStore struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
	now    func() time.Time
	// row lock suffix for read-modify-write, empty on sqlite
	forUpdate string
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(dw *circuitbreaker.DatabaseWrapper, logger *zap.Logger) *SQLStore {
	s := &SQLStore{
		db:     dw,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if db.IsPostgres(dw.DB()) {
		s.forUpdate = " FOR UPDATE"
	}
	return s
}

type recordRow struct {
	ID        string    `db:"id"`
	Title     string    `db:"title"`
	Status    string    `db:"status"`
	Doc       string    `db:"doc"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type workItemRow struct {
	ID        string    `db:"id"`
	RecordID  string    `db:"record_id"`
	Seq       int64     `db:"seq"`
	Type      string    `db:"type"`
	Status    string    `db:"status"`
	Doc       string    `db:"doc"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (s *SQLStore) FindRecord(ctx context.Context, id string) (*models.Record, error) {
	id, err := models.ParseID("record", id)
	if err != nil {
		return nil, err
	}
	var doc string
	err = s.db.Do(ctx, func(conn *sqlx.DB) error {
		return conn.GetContext(ctx, &doc, conn.Rebind(`SELECT doc FROM records WHERE id = ?`), id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("record", id)
	}
	if err != nil {
		return nil, fmt.Errorf("find record: %w", err)
	}
	return decodeRecord(doc)
}

func (s *SQLStore) InsertRecord(ctx context.Context, r *models.Record) (string, error) {
	rec, err := prepareRecord(r, s.now())
	if err != nil {
		return "", err
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	row := recordRow{
		ID: rec.ID, Title: rec.Title, Status: string(rec.Status), Doc: string(doc),
		CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt,
	}
	err = s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, `
            INSERT INTO records (id, title, status, doc, created_at, updated_at)
            VALUES (:id, :title, :status, :doc, :created_at, :updated_at)`, row); err != nil {
			return err
		}
		return db.InsertEventLogs(ctx, tx, rec.ID, rec.History)
	})
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	return rec.ID, nil
}

func (s *SQLStore) UpdateRecord(ctx context.Context, id string, patch models.RecordPatch) (*models.Record, error) {
	id, err := models.ParseID("record", id)
	if err != nil {
		return nil, err
	}
	if err := validateRecordPatch(patch); err != nil {
		return nil, err
	}
	var updated *models.Record
	err = s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		var doc string
		if err := tx.GetContext(ctx, &doc, tx.Rebind(`SELECT doc FROM records WHERE id = ?`+s.forUpdate), id); err != nil {
			return err
		}
		rec, err := decodeRecord(doc)
		if err != nil {
			return err
		}
		patch.Apply(rec, s.now())
		out, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE records SET title = ?, status = ?, doc = ?, updated_at = ? WHERE id = ?`),
			rec.Title, string(rec.Status), string(out), rec.UpdatedAt, id); err != nil {
			return err
		}
		if err := db.InsertEventLogs(ctx, tx, id, patch.AppendHistory); err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("record", id)
	}
	if err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}
	return updated, nil
}

func (s *SQLStore) FindWorkItem(ctx context.Context, id string) (*models.WorkItem, error) {
	id, err := models.ParseID("work item", id)
	if err != nil {
		return nil, err
	}
	var doc string
	err = s.db.Do(ctx, func(conn *sqlx.DB) error {
		return conn.GetContext(ctx, &doc, conn.Rebind(`SELECT doc FROM work_items WHERE id = ?`), id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("work item", id)
	}
	if err != nil {
		return nil, fmt.Errorf("find work item: %w", err)
	}
	return decodeWorkItem(doc)
}

func (s *SQLStore) InsertWorkItem(ctx context.Context, w *models.WorkItem) (string, error) {
	item, err := prepareWorkItem(w, s.now())
	if err != nil {
		return "", err
	}
	doc, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("encode work item: %w", err)
	}
	err = s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		var last int64
		if err := tx.GetContext(ctx, &last,
			tx.Rebind(`SELECT COALESCE(MAX(seq), 0) FROM work_items WHERE record_id = ?`), item.RecordID); err != nil {
			return err
		}
		row := workItemRow{
			ID: item.ID, RecordID: item.RecordID, Seq: last + 1,
			Type: string(item.Type), Status: string(item.Status), Doc: string(doc),
			CreatedAt: item.CreatedAt, UpdatedAt: item.UpdatedAt,
		}
		_, err := tx.NamedExecContext(ctx, `
            INSERT INTO work_items (id, record_id, seq, type, status, doc, created_at, updated_at)
            VALUES (:id, :record_id, :seq, :type, :status, :doc, :created_at, :updated_at)`, row)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert work item: %w", err)
	}
	return item.ID, nil
}

func (s *SQLStore) UpdateWorkItem(ctx context.Context, id string, patch models.WorkItemPatch) (*models.WorkItem, error) {
	id, err := models.ParseID("work item", id)
	if err != nil {
		return nil, err
	}
	var updated *models.WorkItem
	err = s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		var doc string
		if err := tx.GetContext(ctx, &doc, tx.Rebind(`SELECT doc FROM work_items WHERE id = ?`+s.forUpdate), id); err != nil {
			return err
		}
		item, err := decodeWorkItem(doc)
		if err != nil {
			return err
		}
		patch.Apply(item, s.now())
		out, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode work item: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE work_items SET status = ?, doc = ?, updated_at = ? WHERE id = ?`),
			string(item.Status), string(out), item.UpdatedAt, id); err != nil {
			return err
		}
		updated = item
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("work item", id)
	}
	if err != nil {
		return nil, fmt.Errorf("update work item: %w", err)
	}
	return updated, nil
}

func (s *SQLStore) ListWorkItems(ctx context.Context, recordID string) ([]*models.WorkItem, error) {
	recordID, err := models.ParseID("record", recordID)
	if err != nil {
		return nil, err
	}
	var docs []string
	err = s.db.Do(ctx, func(conn *sqlx.DB) error {
		return conn.SelectContext(ctx, &docs,
			conn.Rebind(`SELECT doc FROM work_items WHERE record_id = ? ORDER BY seq, id`), recordID)
	})
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	out := make([]*models.WorkItem, 0, len(docs))
	for _, doc := range docs {
		item, err := decodeWorkItem(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// ListEvents reads the record_events mirror of the history.
func (s *SQLStore) ListEvents(ctx context.Context, recordID string, afterSeq int64, limit int) ([]models.Event, error) {
	recordID, err := models.ParseID("record", recordID)
	if err != nil {
		return nil, err
	}
	var rows []db.EventLog
	err = s.db.Do(ctx, func(conn *sqlx.DB) error {
		var err error
		rows, err = db.ListEventLogs(ctx, conn, recordID, afterSeq, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	out := make([]models.Event, len(rows))
	for i, r := range rows {
		out[i] = r.Event()
	}
	return out, nil
}

func decodeRecord(doc string) (*models.Record, error) {
	var r models.Record
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &r, nil
}

func decodeWorkItem(doc string) (*models.WorkItem, error) {
	var w models.WorkItem
	if err := json.Unmarshal([]byte(doc), &w); err != nil {
		return nil, fmt.Errorf("decode work item: %w", err)
	}
	if w.Metadata == nil {
		w.Metadata = map[string]interface{}{}
	}
	return &w, nil
}
