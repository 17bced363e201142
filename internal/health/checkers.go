package health

import (
	"context"
	"time"

	"github.com/Kocoro-lab/rfpstudio/internal/circuitbreaker"
	"github.com/Kocoro-lab/rfpstudio/internal/embeddings"
	"github.com/Kocoro-lab/rfpstudio/internal/vectordb"
)

// slowThreshold marks a responding dependency as degraded.
const slowThreshold = 100 * time.Millisecond

type base struct {
	name     string
	critical bool
	timeout  time.Duration
}

func (b base) Name() string { return b.name }
func (b base) IsCritical() bool { return b.critical }
func (b base) Timeout() time.Duration { return b.timeout }

// DatabaseChecker pings the record store.
type DatabaseChecker struct {
	base
	dw *circuitbreaker.DatabaseWrapper
}

// NewDatabaseChecker creates a critical checker for the SQL record store.
func NewDatabaseChecker(dw *circuitbreaker.DatabaseWrapper) *DatabaseChecker {
	return &DatabaseChecker{base: base{name: "database", critical: true, timeout: 5 * time.Second}, dw: dw}
}

func (d *DatabaseChecker) Check(ctx context.Context) CheckResult {
	var r CheckResult
	if d.dw.IsCircuitBreakerOpen() {
		r.Status = StatusUnhealthy
		r.Error = "circuit breaker open"
		r.Message = "Database circuit breaker is open"
		return r
	}

	start := time.Now()
	if err := d.dw.PingContext(ctx); err != nil {
		r.Status = StatusUnhealthy
		r.Error = err.Error()
		r.Message = "Database ping failed"
		return r
	}
	latency := time.Since(start)

	stats := d.dw.DB().Stats()
	switch {
	case stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections:
		r.Status = StatusDegraded
		r.Message = "Database connection pool exhausted"
	case latency > slowThreshold:
		r.Status = StatusDegraded
		r.Message = "Database responding but with high latency"
	default:
		r.Status = StatusHealthy
		r.Message = "Database healthy"
	}
	r.Details = map[string]interface{}{
		"latency_ms":           latency.Milliseconds(),
		"open_connections":     stats.OpenConnections,
		"max_open_connections": stats.MaxOpenConnections,
		"in_use_connections":   stats.InUse,
	}
	return r
}

// RedisChecker pings the shared Redis used for locks, caching and stream mirroring.
type RedisChecker struct {
	base
	rw *circuitbreaker.RedisWrapper
}

// NewRedisChecker creates a checker. Redis is critical only when record
// locks depend on it.
func NewRedisChecker(rw *circuitbreaker.RedisWrapper, critical bool) *RedisChecker {
	return &RedisChecker{base: base{name: "redis", critical: critical, timeout: 5 * time.Second}, rw: rw}
}

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	var r CheckResult
	if c.rw.IsCircuitBreakerOpen() {
		r.Status = StatusUnhealthy
		r.Error = "circuit breaker open"
		r.Message = "Redis circuit breaker is open"
		return r
	}
	start := time.Now()
	if err := c.rw.Ping(ctx); err != nil {
		r.Status = StatusUnhealthy
		r.Error = err.Error()
		r.Message = "Redis ping failed"
		return r
	}
	latency := time.Since(start)
	if latency > slowThreshold {
		r.Status = StatusDegraded
		r.Message = "Redis responding but with high latency"
	} else {
		r.Status = StatusHealthy
		r.Message = "Redis healthy"
	}
	r.Details = map[string]interface{}{"latency_ms": latency.Milliseconds()}
	return r
}

// CorpusChecker reports the size of the knowledge corpus. An empty corpus
// still serves requests but every routing run ends in no_match.
type CorpusChecker struct {
	base
	backend vectordb.Backend
}

func NewCorpusChecker(backend vectordb.Backend) *CorpusChecker {
	return &CorpusChecker{base: base{name: "knowledge_corpus", critical: true, timeout: 5 * time.Second}, backend: backend}
}

func (c *CorpusChecker) Check(ctx context.Context) CheckResult {
	var r CheckResult
	n, err := c.backend.Count(ctx)
	if err != nil {
		r.Status = StatusUnhealthy
		r.Error = err.Error()
		r.Message = "Corpus backend unreachable"
		return r
	}
	r.Details = map[string]interface{}{"backend": c.backend.Name(), "entries": n}
	if n == 0 {
		r.Status = StatusDegraded
		r.Message = "Knowledge corpus is empty"
		return r
	}
	r.Status = StatusHealthy
	r.Message = "Knowledge corpus loaded"
	return r
}

// EmbeddingsChecker embeds a fixed probe string. Non-critical: routing
// degrades to no_match when embeddings are down, other agents are unaffected.
type EmbeddingsChecker struct {
	base
	provider embeddings.Provider
}

func NewEmbeddingsChecker(p embeddings.Provider) *EmbeddingsChecker {
	return &EmbeddingsChecker{base: base{name: "embeddings", timeout: 10 * time.Second}, provider: p}
}

func (c *EmbeddingsChecker) Check(ctx context.Context) CheckResult {
	var r CheckResult
	vec, err := c.provider.Embed(ctx, "health probe")
	if err != nil {
		r.Status = StatusUnhealthy
		r.Error = err.Error()
		r.Message = "Embedding provider failed"
		return r
	}
	r.Status = StatusHealthy
	r.Message = "Embedding provider healthy"
	r.Details = map[string]interface{}{"dimensions": len(vec)}
	return r
}

// FuncChecker adapts a function into a Checker.
type FuncChecker struct {
	base
	fn func(ctx context.Context) CheckResult
}

func NewFuncChecker(name string, critical bool, timeout time.Duration, fn func(ctx context.Context) CheckResult) *FuncChecker {
	return &FuncChecker{base: base{name: name, critical: critical, timeout: timeout}, fn: fn}
}

func (c *FuncChecker) Check(ctx context.Context) CheckResult { return c.fn(ctx) }
