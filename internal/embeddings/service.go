package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/circuitbreaker"
	ometrics "github.com/Kocoro-lab/rfpstudio/internal/metrics"
	"github.com/Kocoro-lab/rfpstudio/internal/tracing"
)

// Service calls an HTTP embeddings endpoint with a two-level cache.
type Service struct {
	cfg     Config
	http    *circuitbreaker.HTTPWrapper
	limiter *rate.Limiter
	cache   Cache
	lru     *LocalLRU
	logger  *zap.Logger
}

// NewService builds an HTTP-backed Provider. cache may be nil.
func NewService(cfg Config, cache Cache, logger *zap.Logger) *Service {
	c := cfg.withDefaults()
	client := &http.Client{Timeout: c.Timeout}
	svc := &Service{
		cfg:    c,
		http:   circuitbreaker.NewHTTPWrapper(client, "embeddings", "rfpstudio", c.CircuitBreaker, logger),
		cache:  cache,
		lru:    NewLocalLRU(c.MaxLRU),
		logger: logger.With(zap.String("component", "embeddings")),
	}
	if c.RequestsPerSecond > 0 {
		svc.limiter = rate.NewLimiter(rate.Limit(c.RequestsPerSecond), c.Burst)
	}
	return svc
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Breaker exposes the HTTP breaker for health reporting.
func (s *Service) Breaker() *circuitbreaker.HTTPWrapper { return s.http }

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

// Embed returns the vector for a single text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch resolves cached texts locally and sends the rest in one request.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, apperrors.Validation("embedding input %d is empty", i)
		}
	}

	m := s.cfg.DefaultModel
	results := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		key := MakeKey(m, text)
		if v, ok := s.lru.Get(ctx, key); ok {
			results[i] = v
			ometrics.RecordEmbeddingMetrics(m, "lru_hit", 0)
			continue
		}
		if s.cache != nil {
			if v, ok := s.cache.Get(ctx, key); ok {
				results[i] = v
				s.lru.Set(ctx, key, v, s.cfg.LRUTTL)
				ometrics.RecordEmbeddingMetrics(m, "cache_hit", 0)
				continue
			}
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	vecs, err := s.fetch(ctx, m, missTexts)
	if err != nil {
		return nil, apperrors.External("embeddings", "embed", err)
	}
	for i, v := range vecs {
		results[missIdx[i]] = v
		key := MakeKey(m, missTexts[i])
		s.lru.Set(ctx, key, v, s.cfg.LRUTTL)
		if s.cache != nil {
			s.cache.Set(ctx, key, v, s.cfg.CacheTTL)
		}
	}
	return results, nil
}

func (s *Service) fetch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			ometrics.RecordEmbeddingMetrics(model, "rate_limited", 0)
			return nil, err
		}
	}

	start := time.Now()
	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/embeddings/"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	buf, err := json.Marshal(embedRequest{Texts: texts, Model: model})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := s.http.Do(req)
	if err != nil {
		ometrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		ometrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		ometrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(er.Embeddings) != len(texts) {
		ometrics.RecordEmbeddingMetrics(model, "mismatch", time.Since(start).Seconds())
		return nil, fmt.Errorf("embedding service returned %d embeddings for %d texts", len(er.Embeddings), len(texts))
	}

	out := make([][]float32, len(er.Embeddings))
	for i, e := range er.Embeddings {
		if len(e) == 0 {
			return nil, fmt.Errorf("embedding %d is empty", i)
		}
		v := make([]float32, len(e))
		for j, f := range e {
			v[j] = float32(f)
		}
		out[i] = v
	}
	ometrics.RecordEmbeddingMetrics(model, "ok", time.Since(start).Seconds())
	s.logger.Debug("Embedded texts", zap.Int("count", len(texts)), zap.Duration("took", time.Since(start)))
	return out, nil
}

// New picks the Provider named by cfg.Provider.
func New(cfg Config, cache Cache, logger *zap.Logger) Provider {
	if strings.EqualFold(cfg.Provider, "hashing") {
		return NewHashing(cfg.withDefaults().Dimensions)
	}
	return NewService(cfg, cache, logger)
}
