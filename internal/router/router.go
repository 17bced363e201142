// Package router matches query vectors against the knowledge corpus and
// ranks candidate teams.
package router

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
	"github.com/Kocoro-lab/rfpstudio/internal/tracing"
)

// Corpus answers nearest-neighbour queries. Higher scores are closer.
type Corpus interface {
	Nearest(ctx context.Context, query []float32, k int, filter map[string]string) ([]models.Candidate, error)
}

// Config tunes routing.
type Config struct {
	// PoolSize is the candidate pool fetched per query
	PoolSize int `mapstructure:"pool_size"`
	// SearchTimeout bounds a single corpus query
	SearchTimeout time.Duration `mapstructure:"search_timeout"`
	// EmbedTimeout bounds embedding one routing question
	EmbedTimeout time.Duration `mapstructure:"embed_timeout"`
}

// DefaultConfig matches the service defaults.
func DefaultConfig() Config {
	return Config{PoolSize: 5, SearchTimeout: 5 * time.Second, EmbedTimeout: 10 * time.Second}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PoolSize <= 0 {
		c.PoolSize = d.PoolSize
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = d.SearchTimeout
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = d.EmbedTimeout
	}
	return c
}

// Router ranks corpus candidates deterministically. The configuration can
// be swapped while routes are in flight.
type Router struct {
	corpus Corpus
	cfg    atomic.Pointer[Config]
	logger *zap.Logger
}

func New(corpus Corpus, cfg Config, logger *zap.Logger) *Router {
	r := &Router{corpus: corpus, logger: logger}
	r.Reconfigure(cfg)
	return r
}

// Config returns the effective configuration.
func (r *Router) Config() Config { return *r.cfg.Load() }

// Reconfigure replaces the configuration used by subsequent routes.
func (r *Router) Reconfigure(cfg Config) {
	cfg = cfg.withDefaults()
	r.cfg.Store(&cfg)
}

// Route fetches up to k candidates and orders them by descending score,
// breaking ties by corpus insertion sequence.
func (r *Router) Route(ctx context.Context, query []float32, k int) ([]models.Candidate, error) {
	cfg := r.Config()
	if k <= 0 {
		k = cfg.PoolSize
	}
	ctx, span := tracing.StartSpan(ctx, "router.route")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, cfg.SearchTimeout)
	defer cancel()

	cands, err := r.corpus.Nearest(ctx, query, k, nil)
	if err != nil {
		r.logger.Warn("Knowledge search failed", zap.Int("k", k), zap.Error(err))
		return nil, apperrors.External("vectordb", "nearest", err)
	}
	out := make([]models.Candidate, len(cands))
	copy(out, cands)
	Rank(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Best returns the top candidate from the configured pool.
func (r *Router) Best(ctx context.Context, query []float32) (models.Candidate, bool, error) {
	cands, err := r.Route(ctx, query, r.Config().PoolSize)
	if err != nil || len(cands) == 0 {
		return models.Candidate{}, false, err
	}
	return cands[0], true, nil
}

// Rank sorts candidates in place: score descending, then Seq ascending.
func Rank(c []models.Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Score != c[j].Score {
			return c[i].Score > c[j].Score
		}
		return c[i].Seq < c[j].Seq
	})
}
