package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap/zaptest"
)

func newMockWrapper(t *testing.T, settings Settings) (*DatabaseWrapper, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewDatabaseWrapper(sqlx.NewDb(db, "sqlmock"), settings, zaptest.NewLogger(t)), mock
}

func TestDatabaseWrapper_NormalOperations(t *testing.T) {
	wrapper, mock := newMockWrapper(t, Settings{})
	ctx := context.Background()

	mock.ExpectPing()
	if err := wrapper.PingContext(ctx); err != nil {
		t.Errorf("PingContext failed: %v", err)
	}

	mock.ExpectQuery("SELECT status FROM records").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("INITIATED"))
	var status string
	err := wrapper.Do(ctx, func(db *sqlx.DB) error {
		return db.GetContext(ctx, &status, "SELECT status FROM records WHERE id = ?", "r1")
	})
	if err != nil {
		t.Errorf("Do failed: %v", err)
	}
	if status != "INITIATED" {
		t.Errorf("Expected INITIATED, got %s", status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestDatabaseWrapper_TransactionCommitAndRollback(t *testing.T) {
	wrapper, mock := newMockWrapper(t, Settings{})
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE records").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	err := wrapper.InTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE records SET status = ? WHERE id = ?", "FINAL", "r1")
		return err
	})
	if err != nil {
		t.Errorf("InTx failed: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectRollback()
	boom := errors.New("boom")
	if err := wrapper.InTx(ctx, func(tx *sqlx.Tx) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestDatabaseWrapper_NoRowsDoesNotTrip(t *testing.T) {
	wrapper, mock := newMockWrapper(t, Settings{FailureThreshold: 1})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mock.ExpectQuery("SELECT doc FROM records").WillReturnError(sql.ErrNoRows)
		err := wrapper.Do(ctx, func(db *sqlx.DB) error {
			var doc string
			return db.GetContext(ctx, &doc, "SELECT doc FROM records WHERE id = ?", "missing")
		})
		if !errors.Is(err, sql.ErrNoRows) {
			t.Errorf("Expected sql.ErrNoRows, got %v", err)
		}
	}
	if wrapper.IsCircuitBreakerOpen() {
		t.Error("Circuit breaker should stay closed on sql.ErrNoRows")
	}
}

func TestDatabaseWrapper_OpensOnFailures(t *testing.T) {
	wrapper, mock := newMockWrapper(t, Settings{FailureThreshold: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		_ = wrapper.PingContext(ctx)
	}
	if !wrapper.IsCircuitBreakerOpen() {
		t.Fatal("Expected circuit breaker to be open")
	}
	if err := wrapper.PingContext(ctx); err != ErrCircuitBreakerOpen {
		t.Errorf("Expected ErrCircuitBreakerOpen, got %v", err)
	}
}
