package vectordb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	ometrics "github.com/Kocoro-lab/rfpstudio/internal/metrics"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
	"github.com/Kocoro-lab/rfpstudio/internal/tracing"
)

var errNoEmbedder = errors.New("chromem corpus only accepts precomputed embeddings")

// ChromemCorpus is an embedded chromem-go collection, optionally persisted
// to disk. Vectors always come from the embedding Provider.
type ChromemCorpus struct {
	db   *chromem.DB
	coll *chromem.Collection
	log  *zap.Logger
	seq  atomic.Int64
}

func NewChromemCorpus(cfg Config, logger *zap.Logger) (*ChromemCorpus, error) {
	var db *chromem.DB
	if path := cfg.Chromem.Path; path != "" {
		var err error
		db, err = chromem.NewPersistentDB(path, cfg.Chromem.Compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db %s: %w", path, err)
		}
	} else {
		db = chromem.NewDB()
	}

	noEmbed := func(context.Context, string) ([]float32, error) { return nil, errNoEmbedder }
	coll, err := db.GetOrCreateCollection(cfg.collection(), nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", cfg.collection(), err)
	}
	c := &ChromemCorpus{db: db, coll: coll, log: logger.With(zap.String("component", "chromem"))}
	c.seq.Store(time.Now().UnixMicro())
	return c, nil
}

func (c *ChromemCorpus) Name() string { return "chromem" }

func (c *ChromemCorpus) Count(context.Context) (int, error) { return c.coll.Count(), nil }

// Add stores entries with team, topic and sequence as string metadata.
func (c *ChromemCorpus) Add(ctx context.Context, entries []models.KnowledgeEntry) error {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		if len(e.Embedding) == 0 {
			return fmt.Errorf("knowledge entry %q has no embedding", e.ID)
		}
		vec := make([]float32, len(e.Embedding))
		copy(vec, e.Embedding)
		docs[i] = chromem.Document{
			ID:        e.ID,
			Content:   e.Text,
			Embedding: vec,
			Metadata: map[string]string{
				"team_key": e.TeamKey,
				"topic":    e.Topic,
				"tags":     strings.Join(e.Tags, ","),
				"seq":      strconv.FormatInt(c.seq.Add(1), 10),
			},
		}
	}
	if err := c.coll.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}
	c.log.Debug("Added knowledge documents", zap.Int("count", len(docs)))
	return nil
}

// Nearest runs an embedding query. chromem rejects k above the collection
// size, so k is capped first.
func (c *ChromemCorpus) Nearest(ctx context.Context, query []float32, k int, filter map[string]string) ([]models.Candidate, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "vectordb.chromem.query")
	defer span.End()

	n := c.coll.Count()
	if n == 0 || k <= 0 {
		return []models.Candidate{}, nil
	}
	if k > n {
		k = n
	}
	vec := make([]float32, len(query))
	copy(vec, query)

	results, err := c.coll.QueryEmbedding(ctx, vec, k, filter, nil)
	if err != nil {
		ometrics.RecordVectorSearchMetrics(c.Name(), "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("querying chromem: %w", err)
	}
	out := make([]models.Candidate, len(results))
	for i, r := range results {
		seq, _ := strconv.ParseInt(r.Metadata["seq"], 10, 64)
		out[i] = models.Candidate{
			EntryID: r.ID,
			TeamKey: r.Metadata["team_key"],
			Topic:   r.Metadata["topic"],
			Score:   float64(r.Similarity),
			Seq:     seq,
		}
	}
	ometrics.RecordVectorSearchMetrics(c.Name(), "ok", time.Since(start).Seconds())
	return out, nil
}
