package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/circuitbreaker"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds database configuration
type Config struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"` // overrides the discrete fields when set
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"sslmode"`
	Path            string        `mapstructure:"path"` // sqlite file, ":memory:" for tests
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	if c.Driver == DriverSQLite {
		path := c.Path
		if path == "" || path == ":memory:" {
			return "file::memory:?cache=shared&_busy_timeout=5000"
		}
		return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func (c *Config) applyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverPostgres
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 25
	}
	if c.IdleConnections == 0 {
		c.IdleConnections = 5
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = 5 * time.Minute
	}
	if c.SSLMode == "" {
		c.SSLMode = "require"
	}
	if c.Driver == DriverSQLite {
		// sqlite serialises writers anyway; one connection keeps :memory: coherent
		c.MaxConnections = 1
		c.IdleConnections = 1
	}
}

// Open connects, pings and optionally migrates the record database. The
// returned handle routes every call through a circuit breaker.
func Open(ctx context.Context, config Config, breaker circuitbreaker.Settings, logger *zap.Logger) (*circuitbreaker.DatabaseWrapper, error) {
	config.applyDefaults()
	switch config.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", config.Driver)
	}

	rawDB, err := sqlx.Open(config.Driver, config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	rawDB.SetMaxOpenConns(config.MaxConnections)
	rawDB.SetMaxIdleConns(config.IdleConnections)
	rawDB.SetConnMaxLifetime(config.MaxLifetime)

	db := circuitbreaker.NewDatabaseWrapper(rawDB, breaker, logger)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if config.AutoMigrate {
		if err := Migrate(ctx, db); err != nil {
			rawDB.Close()
			return nil, err
		}
	}

	logger.Info("Database client initialized",
		zap.String("driver", config.Driver),
		zap.String("host", config.Host),
		zap.Int("max_connections", config.MaxConnections),
	)
	return db, nil
}

// IsPostgres reports whether db talks to Postgres.
func IsPostgres(db *sqlx.DB) bool {
	return strings.HasPrefix(db.DriverName(), "postgres")
}
