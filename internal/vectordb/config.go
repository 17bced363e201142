package vectordb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/circuitbreaker"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
)

// Backend is a knowledge corpus: something that can index entries and
// answer nearest-neighbour queries over them.
type Backend interface {
	Nearest(ctx context.Context, query []float32, k int, filter map[string]string) ([]models.Candidate, error)
	Add(ctx context.Context, entries []models.KnowledgeEntry) error
	Count(ctx context.Context) (int, error)
	Name() string
}

// Config selects and tunes the corpus backend
type Config struct {
	// Backend is "memory" (default), "qdrant" or "chromem"
	Backend string `mapstructure:"backend"`
	// Collection holds knowledge entries in qdrant and chromem
	Collection string `mapstructure:"collection"`
	// ExpectedEmbeddingDim is checked against the collection when > 0
	ExpectedEmbeddingDim int `mapstructure:"expected_embedding_dim"`

	Qdrant  QdrantConfig  `mapstructure:"qdrant"`
	Chromem ChromemConfig `mapstructure:"chromem"`
}

// QdrantConfig controls the Qdrant REST client
type QdrantConfig struct {
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	URL       string        `mapstructure:"url"`
	Threshold float64       `mapstructure:"threshold"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// Distance used when the collection has to be created
	Distance       string                  `mapstructure:"distance"`
	CircuitBreaker circuitbreaker.Settings `mapstructure:"circuit_breaker"`
}

// ChromemConfig controls the embedded chromem-go store
type ChromemConfig struct {
	// Path enables persistence; empty keeps the corpus in memory
	Path     string `mapstructure:"path"`
	Compress bool   `mapstructure:"compress"`
}

func (c Config) collection() string {
	if c.Collection == "" {
		return "rfp_knowledge"
	}
	return c.Collection
}

// New builds the configured backend.
func New(cfg Config, logger *zap.Logger) (Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemoryCorpus(), nil
	case "qdrant":
		return NewQdrantCorpus(cfg, logger), nil
	case "chromem":
		return NewChromemCorpus(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}
