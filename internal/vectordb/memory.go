package vectordb

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	ometrics "github.com/Kocoro-lab/rfpstudio/internal/metrics"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
)

// MemoryCorpus is a brute-force cosine corpus. Entries keep their insertion
// sequence so equal scores rank deterministically.
type MemoryCorpus struct {
	mu      sync.RWMutex
	entries []memEntry
	dim     int
}

type memEntry struct {
	entry models.KnowledgeEntry
	norm  float64
	seq   int64
}

func NewMemoryCorpus() *MemoryCorpus { return &MemoryCorpus{} }

func (m *MemoryCorpus) Name() string { return "memory" }

// Add appends entries. Every vector must share the corpus dimension.
func (m *MemoryCorpus) Add(_ context.Context, entries []models.KnowledgeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			return apperrors.Validation("knowledge entry %q has no embedding", e.ID)
		}
		if m.dim == 0 {
			m.dim = len(e.Embedding)
		}
		if len(e.Embedding) != m.dim {
			return DimensionMismatchError{Collection: "memory", ExpectedDimension: m.dim, ReceivedDimension: len(e.Embedding)}
		}
	}
	for _, e := range entries {
		vec := make([]float32, len(e.Embedding))
		copy(vec, e.Embedding)
		e.Embedding = vec
		m.entries = append(m.entries, memEntry{entry: e, norm: norm(vec), seq: int64(len(m.entries))})
	}
	return nil
}

func (m *MemoryCorpus) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// Nearest scores every entry matching filter and returns the best k.
// Recognised filter keys are team_key and topic.
func (m *MemoryCorpus) Nearest(ctx context.Context, query []float32, k int, filter map[string]string) ([]models.Candidate, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 || k <= 0 {
		return []models.Candidate{}, nil
	}
	if len(query) != m.dim {
		ometrics.RecordVectorSearchMetrics(m.Name(), "error", 0)
		return nil, DimensionMismatchError{Collection: "memory", ExpectedDimension: m.dim, ReceivedDimension: len(query)}
	}
	qn := norm(query)

	out := make([]models.Candidate, 0, len(m.entries))
	for _, e := range m.entries {
		if !matches(e.entry, filter) {
			continue
		}
		out = append(out, models.Candidate{
			EntryID: e.entry.ID,
			TeamKey: e.entry.TeamKey,
			Topic:   e.entry.Topic,
			Score:   cosine(query, qn, e.entry.Embedding, e.norm),
			Seq:     e.seq,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	ometrics.RecordVectorSearchMetrics(m.Name(), "ok", time.Since(start).Seconds())
	return out, nil
}

func matches(e models.KnowledgeEntry, filter map[string]string) bool {
	for key, want := range filter {
		switch key {
		case "team_key":
			if e.TeamKey != want {
				return false
			}
		case "topic":
			if e.Topic != want {
				return false
			}
		}
	}
	return true
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (an * bn)
}
