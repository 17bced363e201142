package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/circuitbreaker"
	ometrics "github.com/Kocoro-lab/rfpstudio/internal/metrics"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
	"github.com/Kocoro-lab/rfpstudio/internal/tracing"
)

// QdrantCorpus is a minimal Qdrant REST client over one collection
type QdrantCorpus struct {
	cfg        Config
	base       string
	collection string
	httpw      *circuitbreaker.HTTPWrapper
	log        *zap.Logger
	seq        atomic.Int64
}

func NewQdrantCorpus(cfg Config, logger *zap.Logger) *QdrantCorpus {
	q := cfg.Qdrant
	if q.Port == 0 {
		q.Port = 6333
	}
	if q.Host == "" {
		q.Host = "localhost"
	}
	if q.Timeout == 0 {
		q.Timeout = 5 * time.Second
	}
	if q.Distance == "" {
		q.Distance = "Cosine"
	}
	cfg.Qdrant = q

	base := strings.TrimRight(q.URL, "/")
	if base == "" {
		base = fmt.Sprintf("http://%s:%d", q.Host, q.Port)
	}
	c := &QdrantCorpus{
		cfg:        cfg,
		base:       base,
		collection: cfg.collection(),
		httpw:      circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: q.Timeout}, "qdrant", "vectordb", q.CircuitBreaker, logger),
		log:        logger.With(zap.String("component", "qdrant")),
	}
	// seed from the clock so sequences keep growing across restarts
	c.seq.Store(time.Now().UnixMicro())
	return c
}

func (c *QdrantCorpus) Name() string { return "qdrant" }

// qdrant search request/response (simplified)
type qdrantQueryRequest struct {
	Query          []float32              `json:"query"`
	Limit          int                    `json:"limit"`
	ScoreThreshold *float64               `json:"score_threshold,omitempty"`
	WithPayload    bool                   `json:"with_payload"`
	Filter         map[string]interface{} `json:"filter,omitempty"`
}

type qdrantPoint struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

type qdrantSearchResponse struct {
	Result []qdrantPoint `json:"result"`
	Status string        `json:"status"`
}

// qdrantQueryResponse for the /points/query endpoint which has nested structure
type qdrantQueryResponse struct {
	Result struct {
		Points []qdrantPoint `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

type upsertPoint struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

// Nearest queries points/query and falls back to the legacy points/search
// endpoint for older servers.
func (c *QdrantCorpus) Nearest(ctx context.Context, query []float32, k int, filter map[string]string) ([]models.Candidate, error) {
	points, err := c.search(ctx, query, k, toQdrantFilter(filter))
	if err != nil {
		return nil, err
	}
	out := make([]models.Candidate, 0, len(points))
	for _, p := range points {
		cand := models.Candidate{Score: p.Score}
		cand.EntryID, _ = p.Payload["entry_id"].(string)
		if cand.EntryID == "" {
			cand.EntryID = fmt.Sprintf("%v", p.ID)
		}
		cand.TeamKey, _ = p.Payload["team_key"].(string)
		cand.Topic, _ = p.Payload["topic"].(string)
		if seq, ok := p.Payload["seq"].(float64); ok {
			cand.Seq = int64(seq)
		}
		out = append(out, cand)
	}
	return out, nil
}

func (c *QdrantCorpus) search(ctx context.Context, vec []float32, limit int, filter map[string]interface{}) ([]qdrantPoint, error) {
	start := time.Now()
	urlQuery := fmt.Sprintf("%s/collections/%s/points/query", c.base, c.collection)
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, urlQuery)
	defer span.End()

	var thr *float64
	if c.cfg.Qdrant.Threshold > 0 {
		t := c.cfg.Qdrant.Threshold
		thr = &t
	}
	buf, _ := json.Marshal(qdrantQueryRequest{Query: vec, Limit: limit, ScoreThreshold: thr, WithPayload: true, Filter: filter})

	resp, err := c.call(ctx, http.MethodPost, urlQuery, buf)
	if err != nil {
		ometrics.RecordVectorSearchMetrics(c.Name(), "error", time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		legacy := map[string]interface{}{"vector": vec, "limit": limit, "with_payload": true}
		if thr != nil {
			legacy["score_threshold"] = *thr
		}
		if filter != nil {
			legacy["filter"] = filter
		}
		buf2, _ := json.Marshal(legacy)
		resp2, err := c.call(ctx, http.MethodPost, fmt.Sprintf("%s/collections/%s/points/search", c.base, c.collection), buf2)
		if err != nil {
			ometrics.RecordVectorSearchMetrics(c.Name(), "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("qdrant query/search failed: %w", err)
		}
		defer resp2.Body.Close()
		if resp2.StatusCode != http.StatusOK {
			ometrics.RecordVectorSearchMetrics(c.Name(), "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("qdrant status %d", resp2.StatusCode)
		}
		var sr qdrantSearchResponse
		if err := json.NewDecoder(resp2.Body).Decode(&sr); err != nil {
			ometrics.RecordVectorSearchMetrics(c.Name(), "error", time.Since(start).Seconds())
			return nil, err
		}
		ometrics.RecordVectorSearchMetrics(c.Name(), "ok", time.Since(start).Seconds())
		return sr.Result, nil
	}

	var qr qdrantQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		ometrics.RecordVectorSearchMetrics(c.Name(), "error", time.Since(start).Seconds())
		return nil, err
	}
	ometrics.RecordVectorSearchMetrics(c.Name(), "ok", time.Since(start).Seconds())
	return qr.Result.Points, nil
}

// Add upserts entries as points keyed by entry id.
func (c *QdrantCorpus) Add(ctx context.Context, entries []models.KnowledgeEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := c.EnsureCollection(ctx, len(entries[0].Embedding)); err != nil {
		return err
	}

	points := make([]upsertPoint, len(entries))
	for i, e := range entries {
		points[i] = upsertPoint{
			ID:     e.ID,
			Vector: e.Embedding,
			Payload: map[string]interface{}{
				"entry_id": e.ID,
				"text":     e.Text,
				"team_key": e.TeamKey,
				"topic":    e.Topic,
				"tags":     e.Tags,
				"seq":      c.seq.Add(1),
			},
		}
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.base, c.collection)
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPut, url)
	defer span.End()

	buf, _ := json.Marshal(map[string]interface{}{"points": points})
	resp, err := c.call(ctx, http.MethodPut, url, buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant upsert status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	c.log.Debug("Upserted knowledge points", zap.Int("count", len(points)))
	return nil
}

// Count returns the collection's point count. A missing collection is empty.
func (c *QdrantCorpus) Count(ctx context.Context) (int, error) {
	info, err := c.getCollectionInfo(ctx)
	if err != nil {
		return 0, err
	}
	if info == nil {
		return 0, nil
	}
	return int(info.PointsCount), nil
}

// EnsureCollection creates the collection when it does not exist yet.
func (c *QdrantCorpus) EnsureCollection(ctx context.Context, dim int) error {
	info, err := c.getCollectionInfo(ctx)
	if err != nil {
		return err
	}
	if info != nil {
		if info.VectorSize != dim {
			return DimensionMismatchError{
				Collection:        c.collection,
				ExpectedDimension: info.VectorSize,
				ReceivedDimension: dim,
				SuggestedAction:   "Recreate the collection or switch to the embedding model it was built with",
			}
		}
		return nil
	}

	body, _ := json.Marshal(map[string]interface{}{
		"vectors": map[string]interface{}{"size": dim, "distance": c.cfg.Qdrant.Distance},
	})
	resp, err := c.call(ctx, http.MethodPut, fmt.Sprintf("%s/collections/%s", c.base, c.collection), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant create collection status %d", resp.StatusCode)
	}
	c.log.Info("Created knowledge collection", zap.String("collection", c.collection), zap.Int("dimension", dim))
	return nil
}

func (c *QdrantCorpus) call(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	tracing.InjectTraceparent(ctx, req)
	return c.httpw.Do(req)
}

func toQdrantFilter(filter map[string]string) map[string]interface{} {
	if len(filter) == 0 {
		return nil
	}
	must := make([]map[string]interface{}, 0, len(filter))
	for key, value := range filter {
		must = append(must, map[string]interface{}{
			"key":   key,
			"match": map[string]interface{}{"value": value},
		})
	}
	return map[string]interface{}{"must": must}
}
