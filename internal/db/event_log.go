package db

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Kocoro-lab/rfpstudio/internal/models"
)

// EventLog is one persisted row of a record's history.
type EventLog struct {
	ID          string    `db:"id" json:"id"`
	RecordID    string    `db:"record_id" json:"record_id"`
	Seq         int64     `db:"seq" json:"seq"`
	Type        string    `db:"type" json:"type"`
	SourceAgent *string   `db:"source_agent" json:"source_agent,omitempty"`
	Payload     JSONB     `db:"payload" json:"payload,omitempty"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
}

// Event converts the row back into a history event.
func (e EventLog) Event() models.Event {
	ev := models.Event{
		Type:      e.Type,
		RecordID:  e.RecordID,
		Timestamp: e.Timestamp,
		Payload:   map[string]interface{}(e.Payload),
	}
	if e.SourceAgent != nil {
		ev.SourceAgent = *e.SourceAgent
	}
	return ev
}

// InsertEventLogs appends events for recordID inside tx, continuing the
// record's sequence.
func InsertEventLogs(ctx context.Context, tx *sqlx.Tx, recordID string, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	var last int64
	if err := tx.GetContext(ctx, &last,
		tx.Rebind(`SELECT COALESCE(MAX(seq), 0) FROM record_events WHERE record_id = ?`), recordID); err != nil {
		return err
	}
	insert := tx.Rebind(`
        INSERT INTO record_events (id, record_id, seq, type, source_agent, payload, timestamp)
        VALUES (?, ?, ?, ?, ?, ?, ?)`)
	for i, ev := range events {
		ts := ev.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, insert,
			models.NewID(), recordID, last+int64(i)+1, ev.Type,
			nullIfEmpty(ev.SourceAgent), JSONB(ev.Payload), ts,
		); err != nil {
			return err
		}
	}
	return nil
}

// ListEventLogs returns events of recordID with seq > afterSeq in order.
func ListEventLogs(ctx context.Context, db *sqlx.DB, recordID string, afterSeq int64, limit int) ([]EventLog, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []EventLog
	err := db.SelectContext(ctx, &rows, db.Rebind(`
        SELECT id, record_id, seq, type, source_agent, payload, timestamp
        FROM record_events
        WHERE record_id = ? AND seq > ?
        ORDER BY seq
        LIMIT ?`), recordID, afterSeq, limit)
	return rows, err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
