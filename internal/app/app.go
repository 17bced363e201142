// Package app assembles the engine's components from configuration. The
// server binary and the operator CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/agents"
	"github.com/Kocoro-lab/rfpstudio/internal/circuitbreaker"
	"github.com/Kocoro-lab/rfpstudio/internal/config"
	"github.com/Kocoro-lab/rfpstudio/internal/db"
	"github.com/Kocoro-lab/rfpstudio/internal/embeddings"
	"github.com/Kocoro-lab/rfpstudio/internal/health"
	"github.com/Kocoro-lab/rfpstudio/internal/knowledge"
	"github.com/Kocoro-lab/rfpstudio/internal/lock"
	"github.com/Kocoro-lab/rfpstudio/internal/orchestrator"
	"github.com/Kocoro-lab/rfpstudio/internal/router"
	"github.com/Kocoro-lab/rfpstudio/internal/store"
	"github.com/Kocoro-lab/rfpstudio/internal/streaming"
	"github.com/Kocoro-lab/rfpstudio/internal/vectordb"
)

// App holds the long-lived components. DB and Redis are nil when the
// configuration does not use them.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *circuitbreaker.DatabaseWrapper
	Redis    *circuitbreaker.RedisWrapper
	Store    store.RecordStore
	Embedder embeddings.Provider
	Corpus   vectordb.Backend
	Router   *router.Router
	Locker   lock.Locker
	Streams  *streaming.Manager
	Observer orchestrator.Observer

	closers []func() error
}

// New builds every component named by cfg. On error, whatever was already
// opened is closed again.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, logger := a.Config, a.Logger
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.Redis = circuitbreaker.NewRedisWrapper(client, "rfpstudio", cfg.CircuitBreaker.Redis, logger)
		a.closers = append(a.closers, a.Redis.Close)
		if err := a.Redis.Ping(ctx); err != nil {
			logger.Warn("Redis not reachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
	}

	switch strings.ToLower(cfg.Store.Backend) {
	case "", "memory":
		a.Store = store.NewMemoryStore()
	case "sql":
		dw, err := db.Open(ctx, cfg.Database, cfg.CircuitBreaker.Database, logger)
		if err != nil {
			return fmt.Errorf("open record store: %w", err)
		}
		a.DB = dw
		a.closers = append(a.closers, dw.DB().Close)
		a.Store = store.NewSQLStore(dw, logger)
	default:
		return fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	var cache embeddings.Cache
	if a.Redis != nil {
		cache = embeddings.NewRedisCache(a.Redis)
	}
	a.Embedder = embeddings.New(cfg.Embeddings, cache, logger)

	corpus, err := vectordb.New(cfg.Vector, logger)
	if err != nil {
		return err
	}
	a.Corpus = corpus
	if q, ok := a.Corpus.(*vectordb.QdrantCorpus); ok {
		if err := q.ValidateEmbeddingDimensions(ctx); err != nil {
			var mismatch vectordb.DimensionMismatchError
			if errors.As(err, &mismatch) {
				return err
			}
			logger.Warn("Could not validate knowledge collection", zap.Error(err))
		}
	}
	a.Router = router.New(a.Corpus, cfg.Routing, logger)

	if cfg.Pipeline.Lock == "redis" {
		if a.Redis == nil {
			return fmt.Errorf("pipeline.lock=redis needs redis.enabled")
		}
		a.Locker = lock.NewRedisLocker(a.Redis, cfg.Pipeline.RedisLock, logger)
	} else {
		a.Locker = lock.NewKeyedMutex()
	}

	var mirror *circuitbreaker.RedisWrapper
	if cfg.Streaming.RedisEnabled {
		mirror = a.Redis
	}
	a.Streams = streaming.NewManager(cfg.Streaming, mirror, logger)
	a.Observer = streaming.NewObserver(a.Streams)

	logger.Info("Components initialized",
		zap.String("store", a.storeName()),
		zap.String("corpus", a.Corpus.Name()),
		zap.Bool("redis", a.Redis != nil),
		zap.String("lock", cfg.Pipeline.Lock),
	)
	return nil
}

func (a *App) storeName() string {
	if a.DB != nil {
		return "sql"
	}
	return "memory"
}

// AgentDeps are the collaborators every agent is built with.
func (a *App) AgentDeps() agents.Deps {
	return agents.Deps{
		Store:    a.Store,
		Embedder: a.Embedder,
		Router:   a.Router,
		Logger:   a.Logger,
	}
}

// PipelineDeps are the collaborators of inline pipelines.
func (a *App) PipelineDeps(opts orchestrator.Options) orchestrator.Deps {
	return orchestrator.Deps{
		Store:    a.Store,
		Locker:   a.Locker,
		Logger:   a.Logger,
		Observer: a.Observer,
		Options:  opts,
	}
}

// Committer is shared by inline runs and the durable commit activity.
func (a *App) Committer(opts orchestrator.Options) *orchestrator.Committer {
	return orchestrator.NewCommitter(a.Store, a.Locker, a.Logger, opts)
}

// Registry builds the pipeline table from cfg.
func (a *App) Registry(cfg *config.Config) (*orchestrator.Registry, error) {
	return orchestrator.NewRegistry(cfg.Pipelines, a.AgentDeps(), a.PipelineDeps(cfg.Pipeline.Options))
}

// Reload applies a changed configuration to the running components. Routing
// settings take effect in place; a new registry is returned only when the
// pipeline table or its options changed, otherwise nil.
func (a *App) Reload(prev, next *config.Config) (*orchestrator.Registry, error) {
	if prev.Routing != next.Routing {
		a.Router.Reconfigure(next.Routing)
		cfg := a.Router.Config()
		a.Logger.Info("Routing reconfigured",
			zap.Int("pool_size", cfg.PoolSize),
			zap.Duration("search_timeout", cfg.SearchTimeout),
			zap.Duration("embed_timeout", cfg.EmbedTimeout),
		)
	}
	if reflect.DeepEqual(prev.Pipelines, next.Pipelines) && prev.Pipeline.Options == next.Pipeline.Options {
		return nil, nil
	}
	return a.Registry(next)
}

// SeedKnowledge loads the configured seed file, then the built-in sample
// set when enabled and the corpus is still empty.
func (a *App) SeedKnowledge(ctx context.Context) (int, error) {
	kc := a.Config.Knowledge
	loader := knowledge.NewLoader(a.Embedder, a.Corpus, kc.BatchSize, a.Logger)
	if err := a.EnsureCorpus(ctx); err != nil {
		return 0, err
	}

	total := 0
	if kc.SeedFile != "" {
		entries, err := knowledge.LoadFile(kc.SeedFile)
		if err != nil {
			return 0, err
		}
		n, err := loader.Load(ctx, entries)
		total += n
		if err != nil {
			return total, err
		}
	}
	if kc.LoadSample {
		count, err := a.Corpus.Count(ctx)
		if err != nil {
			return total, err
		}
		if count == 0 {
			n, err := loader.Load(ctx, knowledge.SampleEntries())
			total += n
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// EnsureCorpus creates the Qdrant collection sized to the embedder.
func (a *App) EnsureCorpus(ctx context.Context) error {
	q, ok := a.Corpus.(*vectordb.QdrantCorpus)
	if !ok {
		return nil
	}
	probe, err := a.Embedder.Embed(ctx, "dimension probe")
	if err != nil {
		return fmt.Errorf("probe embedding dimension: %w", err)
	}
	return q.EnsureCollection(ctx, len(probe))
}

// HealthCheckers lists the probes for the configured dependencies.
func (a *App) HealthCheckers() []health.Checker {
	checkers := []health.Checker{
		health.NewCorpusChecker(a.Corpus),
		health.NewEmbeddingsChecker(a.Embedder),
	}
	if a.DB != nil {
		checkers = append(checkers, health.NewDatabaseChecker(a.DB))
	}
	if a.Redis != nil {
		checkers = append(checkers, health.NewRedisChecker(a.Redis, a.Config.Pipeline.Lock == "redis"))
	}
	return checkers
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
