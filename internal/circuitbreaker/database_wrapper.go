package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DatabaseWrapper runs record-store queries through a circuit breaker.
// sql.ErrNoRows is a normal outcome and never trips it.
type DatabaseWrapper struct {
	db      *sqlx.DB
	cb      *CircuitBreaker
	name    string
	service string
	logger  *zap.Logger
}

// NewDatabaseWrapper creates a database wrapper with circuit breaker
func NewDatabaseWrapper(db *sqlx.DB, settings Settings, logger *zap.Logger) *DatabaseWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := db.DriverName()
	cfg := settings.Or(DatabaseDefaults()).ToConfig()
	cfg.IsSuccessful = func(err error) bool { return err == nil || errors.Is(err, sql.ErrNoRows) }
	cfg = instrument(cfg, name, "record-store")
	return &DatabaseWrapper{
		db:      db,
		cb:      NewCircuitBreaker(name, cfg, logger),
		name:    name,
		service: "record-store",
		logger:  logger,
	}
}

// DB returns the underlying handle, for migrations and Rebind.
func (dw *DatabaseWrapper) DB() *sqlx.DB { return dw.db }

// PingContext wraps database ping with circuit breaker
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return dw.Do(ctx, func(db *sqlx.DB) error { return db.PingContext(ctx) })
}

// Do runs fn against the pool.
func (dw *DatabaseWrapper) Do(ctx context.Context, fn func(db *sqlx.DB) error) error {
	err := dw.cb.Execute(ctx, func() error { return fn(dw.db) })
	recordRequest(dw.name, dw.service, dw.cb.State(), err == nil || errors.Is(err, sql.ErrNoRows))
	return err
}

// InTx runs fn inside a transaction. The transaction commits when fn returns
// nil and rolls back otherwise.
func (dw *DatabaseWrapper) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return dw.Do(ctx, func(db *sqlx.DB) error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				dw.logger.Warn("Rollback failed", zap.Error(rbErr))
			}
			return err
		}
		return tx.Commit()
	})
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}
