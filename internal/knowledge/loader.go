// Package knowledge seeds the routing corpus from YAML files.
package knowledge

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/embeddings"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
)

// Indexer stores embedded entries in a corpus.
type Indexer interface {
	Add(ctx context.Context, entries []models.KnowledgeEntry) error
}

type seedFile struct {
	Entries []models.KnowledgeEntry `yaml:"entries"`
}

// LoadFile parses a seed file. Both a bare YAML list and a document with an
// "entries" key are accepted.
func LoadFile(path string) ([]models.KnowledgeEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge file: %w", err)
	}
	var entries []models.KnowledgeEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		var doc seedFile
		if err2 := yaml.Unmarshal(raw, &doc); err2 != nil {
			return nil, fmt.Errorf("parse knowledge file %s: %w", path, err)
		}
		entries = doc.Entries
	}
	for i, e := range entries {
		if strings.TrimSpace(e.Text) == "" || strings.TrimSpace(e.TeamKey) == "" {
			return nil, apperrors.Validation("knowledge entry %d in %s needs text and team_key", i, path)
		}
	}
	return entries, nil
}

// Loader embeds entries and hands them to an Indexer.
type Loader struct {
	provider  embeddings.Provider
	index     Indexer
	batchSize int
	logger    *zap.Logger
}

func NewLoader(provider embeddings.Provider, index Indexer, batchSize int, logger *zap.Logger) *Loader {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Loader{provider: provider, index: index, batchSize: batchSize, logger: logger}
}

// Load embeds and indexes entries in batches, returning how many were
// stored. Entries without an id get a fresh one.
func (l *Loader) Load(ctx context.Context, entries []models.KnowledgeEntry) (int, error) {
	loaded := 0
	for start := 0; start < len(entries); start += l.batchSize {
		end := start + l.batchSize
		if end > len(entries) {
			end = len(entries)
		}
		batch := make([]models.KnowledgeEntry, end-start)
		copy(batch, entries[start:end])

		texts := make([]string, len(batch))
		for i := range batch {
			if batch[i].ID == "" {
				batch[i].ID = models.NewID()
			}
			texts[i] = batch[i].Text
		}
		vecs, err := l.provider.EmbedBatch(ctx, texts)
		if err != nil {
			return loaded, fmt.Errorf("embed knowledge batch at %d: %w", start, err)
		}
		for i := range batch {
			batch[i].Embedding = vecs[i]
		}
		if err := l.index.Add(ctx, batch); err != nil {
			return loaded, fmt.Errorf("index knowledge batch at %d: %w", start, err)
		}
		loaded += len(batch)
	}
	l.logger.Info("Knowledge loaded", zap.Int("entries", loaded))
	return loaded, nil
}
