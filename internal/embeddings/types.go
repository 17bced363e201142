package embeddings

import (
	"context"
	"time"

	"github.com/Kocoro-lab/rfpstudio/internal/circuitbreaker"
)

// Provider turns text into vectors. EmbedBatch preserves input order and
// returns exactly one vector per text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config controls the embedding service behavior
type Config struct {
	// Provider selects the implementation: "http" (default) or "hashing"
	Provider string `mapstructure:"provider"`
	// BaseURL points to the service providing /embeddings
	BaseURL string `mapstructure:"base_url"`
	// DefaultModel is the embedding model (e.g., text-embedding-3-small)
	DefaultModel string `mapstructure:"default_model"`
	// Timeout for outbound HTTP calls
	Timeout time.Duration `mapstructure:"timeout"`
	// CacheTTL sets TTL for Redis cache entries
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// LRUTTL sets TTL for in-process cache entries
	LRUTTL time.Duration `mapstructure:"lru_ttl"`
	// MaxLRU controls in-process LRU size
	MaxLRU int `mapstructure:"max_lru"`
	// RequestsPerSecond caps outbound calls; zero disables the limiter
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	// Dimensions is only used by the hashing provider
	Dimensions int `mapstructure:"dimensions"`

	CircuitBreaker circuitbreaker.Settings `mapstructure:"circuit_breaker"`
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "text-embedding-3-small"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.LRUTTL == 0 {
		c.LRUTTL = 30 * time.Minute
	}
	if c.MaxLRU == 0 {
		c.MaxLRU = 2048
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.Dimensions <= 0 {
		c.Dimensions = 256
	}
	return c
}
