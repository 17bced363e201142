package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
	"github.com/Kocoro-lab/rfpstudio/internal/vectordb"
)

type stubCorpus struct {
	cands []models.Candidate
	err   error
	wait  bool
}

func (s *stubCorpus) Nearest(ctx context.Context, _ []float32, _ int, _ map[string]string) ([]models.Candidate, error) {
	if s.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.cands, s.err
}

func TestRouteOrdersByScoreThenSeq(t *testing.T) {
	r := New(&stubCorpus{cands: []models.Candidate{
		{EntryID: "c", Score: 0.5, Seq: 3},
		{EntryID: "b", Score: 0.9, Seq: 2},
		{EntryID: "a", Score: 0.9, Seq: 1},
	}}, Config{}, zap.NewNop())

	got, err := r.Route(context.Background(), []float32{1}, 3)
	require.NoError(t, err)
	ids := []string{got[0].EntryID, got[1].EntryID, got[2].EntryID}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	best, ok, err := r.Best(context.Background(), []float32{1})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", best.EntryID)
}

func TestRouteEmptyCorpus(t *testing.T) {
	r := New(vectordb.NewMemoryCorpus(), Config{}, zap.NewNop())
	got, err := r.Route(context.Background(), []float32{1, 2}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, ok, err := r.Best(context.Background(), []float32{1, 2})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRouteWrapsBackendErrors(t *testing.T) {
	r := New(&stubCorpus{err: errors.New("qdrant down")}, Config{}, zap.NewNop())
	_, err := r.Route(context.Background(), []float32{1}, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrExternalService))
}

func TestRouteAppliesSearchTimeout(t *testing.T) {
	r := New(&stubCorpus{wait: true}, Config{SearchTimeout: 20 * time.Millisecond}, zap.NewNop())
	_, err := r.Route(context.Background(), []float32{1}, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRouteIsDeterministicOverMemoryCorpus(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(rt, "n")
		corpus := vectordb.NewMemoryCorpus()
		entries := make([]models.KnowledgeEntry, n)
		for i := range entries {
			// small integer components make exact ties likely
			entries[i] = models.KnowledgeEntry{
				ID:        models.NewID(),
				TeamKey:   "team",
				Embedding: []float32{float32(rapid.IntRange(0, 2).Draw(rt, "x")), float32(rapid.IntRange(1, 2).Draw(rt, "y"))},
			}
		}
		if err := corpus.Add(context.Background(), entries); err != nil {
			rt.Fatalf("add: %v", err)
		}
		query := []float32{float32(rapid.IntRange(0, 2).Draw(rt, "qx")), 1}
		r := New(corpus, Config{}, zap.NewNop())

		first, err := r.Route(context.Background(), query, n)
		if err != nil {
			rt.Fatalf("route: %v", err)
		}
		second, _ := r.Route(context.Background(), query, n)
		for i := range first {
			if first[i].EntryID != second[i].EntryID {
				rt.Fatalf("order differs at %d", i)
			}
			if i > 0 {
				prev, cur := first[i-1], first[i]
				if prev.Score < cur.Score || (prev.Score == cur.Score && prev.Seq > cur.Seq) {
					rt.Fatalf("bad order at %d: %+v before %+v", i, prev, cur)
				}
			}
		}
	})
}

type countingCorpus struct{ lastK int }

func (c *countingCorpus) Nearest(_ context.Context, _ []float32, k int, _ map[string]string) ([]models.Candidate, error) {
	c.lastK = k
	return []models.Candidate{{EntryID: "a", Score: 1}}, nil
}

func TestReconfigureChangesPoolSize(t *testing.T) {
	corpus := &countingCorpus{}
	r := New(corpus, Config{PoolSize: 2}, zap.NewNop())

	_, ok, err := r.Best(context.Background(), []float32{1})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, corpus.lastK)

	r.Reconfigure(Config{PoolSize: 7})
	_, _, err = r.Best(context.Background(), []float32{1})
	require.NoError(t, err)
	assert.Equal(t, 7, corpus.lastK)
	assert.Equal(t, DefaultConfig().SearchTimeout, r.Config().SearchTimeout)
}
