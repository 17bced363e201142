// Package config loads the service configuration from YAML and environment
// variables and watches the file for changes.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Kocoro-lab/rfpstudio/internal/circuitbreaker"
	"github.com/Kocoro-lab/rfpstudio/internal/db"
	"github.com/Kocoro-lab/rfpstudio/internal/embeddings"
	"github.com/Kocoro-lab/rfpstudio/internal/lock"
	"github.com/Kocoro-lab/rfpstudio/internal/orchestrator"
	"github.com/Kocoro-lab/rfpstudio/internal/router"
	"github.com/Kocoro-lab/rfpstudio/internal/streaming"
	"github.com/Kocoro-lab/rfpstudio/internal/temporal"
	"github.com/Kocoro-lab/rfpstudio/internal/tracing"
	"github.com/Kocoro-lab/rfpstudio/internal/vectordb"
)

const (
	// EnvPrefix namespaces environment overrides, e.g. RFPSTUDIO_SERVICE_PORT.
	EnvPrefix = "RFPSTUDIO"
	// PathEnv overrides the config file location.
	PathEnv     = "RFPSTUDIO_CONFIG"
	DefaultPath = "config/rfpstudio.yaml"
)

// Config is the full service configuration.
type Config struct {
	Service        ServiceConfig         `mapstructure:"service"`
	Logging        LoggingConfig         `mapstructure:"logging"`
	Store          StoreConfig           `mapstructure:"store"`
	Database       db.Config             `mapstructure:"database"`
	Redis          RedisConfig           `mapstructure:"redis"`
	Embeddings     embeddings.Config     `mapstructure:"embeddings"`
	Vector         vectordb.Config       `mapstructure:"vector"`
	Routing        router.Config         `mapstructure:"routing"`
	Knowledge      KnowledgeConfig       `mapstructure:"knowledge"`
	Pipeline       PipelineConfig        `mapstructure:"pipeline"`
	Pipelines      map[string][]string   `mapstructure:"pipelines"`
	Tracing        tracing.Config        `mapstructure:"tracing"`
	Temporal       temporal.Config       `mapstructure:"temporal"`
	Streaming      streaming.Config      `mapstructure:"streaming"`
	CircuitBreaker CircuitBreakersConfig `mapstructure:"circuit_breaker"`
}

type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	AdminPort       int           `mapstructure:"admin_port"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`

	// APIToken, when set, is required as a Bearer token on /api routes.
	APIToken string `mapstructure:"api_token"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// StoreConfig picks the record store: memory or sql.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KnowledgeConfig seeds the corpus at startup.
type KnowledgeConfig struct {
	SeedFile   string `mapstructure:"seed_file"`
	LoadSample bool   `mapstructure:"load_sample"`
	BatchSize  int    `mapstructure:"batch_size"`
}

// PipelineConfig controls commit behaviour and locking.
type PipelineConfig struct {
	orchestrator.Options `mapstructure:",squash"`
	// Lock is memory or redis. Redis requires redis.enabled.
	Lock      string           `mapstructure:"lock"`
	RedisLock lock.RedisConfig `mapstructure:"redis_lock"`
}

type CircuitBreakersConfig struct {
	Database circuitbreaker.Settings `mapstructure:"database"`
	Redis    circuitbreaker.Settings `mapstructure:"redis"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8081)
	v.SetDefault("service.admin_port", 2112)
	v.SetDefault("service.graceful_timeout", "30s")
	v.SetDefault("service.read_timeout", "30s")
	v.SetDefault("service.write_timeout", "5m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("store.backend", "memory")
	v.SetDefault("database.driver", db.DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "rfpstudio")
	v.SetDefault("database.database", "rfpstudio")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("embeddings.provider", "http")
	v.SetDefault("embeddings.base_url", "http://localhost:8000")
	v.SetDefault("embeddings.default_model", "text-embedding-3-small")
	v.SetDefault("embeddings.timeout", "10s")
	v.SetDefault("embeddings.cache_ttl", "24h")
	v.SetDefault("embeddings.max_lru", 2048)

	v.SetDefault("vector.backend", "memory")
	v.SetDefault("vector.collection", "rfp_knowledge")

	v.SetDefault("routing.pool_size", 5)
	v.SetDefault("routing.search_timeout", "5s")
	v.SetDefault("routing.embed_timeout", "10s")

	v.SetDefault("knowledge.batch_size", 32)
	v.SetDefault("knowledge.load_sample", true)

	v.SetDefault("pipeline.strict_transitions", false)
	v.SetDefault("pipeline.lock", "memory")

	v.SetDefault("tracing.service_name", "rfpstudio")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("temporal.task_queue", "rfpstudio-pipelines")

	v.SetDefault("streaming.capacity", 256)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Path returns the config file location from RFPSTUDIO_CONFIG or the default.
func Path() string {
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads path. A missing file is not an error: defaults and environment
// overrides still apply.
func Load(path string) (*Config, error) {
	v := newViper()
	if err := readFile(v, path); err != nil {
		return nil, err
	}
	return decode(v)
}

func readFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(c.Pipelines) == 0 {
		c.Pipelines = orchestrator.DefaultPipelines()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "sql":
	default:
		return fmt.Errorf("store.backend must be memory or sql, got %q", c.Store.Backend)
	}
	switch c.Pipeline.Lock {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("pipeline.lock=redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("pipeline.lock must be memory or redis, got %q", c.Pipeline.Lock)
	}
	if c.Service.Port <= 0 {
		return fmt.Errorf("service.port must be positive")
	}
	for name, tags := range c.Pipelines {
		if len(tags) == 0 {
			return fmt.Errorf("pipeline %q has no agents", name)
		}
	}
	return nil
}
