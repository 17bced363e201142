package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultInterval = 30 * time.Second

// Manager runs registered checkers on demand and on a background ticker.
type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	last     map[string]CheckResult
	interval time.Duration
	stopCh   chan struct{}
	started  bool
	logger   *zap.Logger
}

// NewManager creates a manager. interval <= 0 uses 30s.
func NewManager(interval time.Duration, logger *zap.Logger) *Manager {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		checkers: make(map[string]Checker),
		last:     make(map[string]CheckResult),
		interval: interval,
		logger:   logger,
	}
}

// Register adds a checker. Names must be unique.
func (m *Manager) Register(c Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := c.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}
	m.checkers[name] = c
	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", c.IsCritical()),
		zap.Duration("timeout", c.Timeout()),
	)
	return nil
}

// Names lists registered checkers, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Detailed runs every checker concurrently and aggregates the results.
func (m *Manager) Detailed(ctx context.Context) DetailedHealth {
	start := time.Now()

	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	results := make([]CheckResult, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			results[i] = runCheck(ctx, c)
		}(i, c)
	}
	wg.Wait()

	components := make(map[string]CheckResult, len(results))
	for _, r := range results {
		components[r.Component] = r
	}

	m.mu.Lock()
	for name, r := range components {
		m.last[name] = r
	}
	m.mu.Unlock()

	d := aggregate(components)
	d.Overall.Duration = time.Since(start)
	return d
}

// Cached aggregates the most recent results without probing again.
func (m *Manager) Cached() DetailedHealth {
	m.mu.RLock()
	components := make(map[string]CheckResult, len(m.last))
	for name, r := range m.last {
		components[name] = r
	}
	m.mu.RUnlock()
	return aggregate(components)
}

// Overall is Detailed without the component breakdown.
func (m *Manager) Overall(ctx context.Context) OverallHealth {
	return m.Detailed(ctx).Overall
}

// IsReady reports whether no critical checker is failing.
func (m *Manager) IsReady(ctx context.Context) bool { return m.Overall(ctx).Ready }

// Start begins background probing. Calling it twice is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	go m.loop(ctx, m.stopCh)

	m.logger.Info("Health manager started",
		zap.Duration("check_interval", m.interval),
		zap.Int("registered_checkers", len(m.checkers)),
	)
}

// Stop halts background probing.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	close(m.stopCh)
	m.started = false
	m.logger.Info("Health manager stopped")
}

func (m *Manager) loop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d := m.Detailed(ctx)
			if d.Overall.Status != StatusHealthy {
				m.logger.Warn("Health check degraded",
					zap.String("status", d.Overall.Status.String()),
					zap.String("message", d.Overall.Message),
				)
			}
		}
	}
}

func runCheck(ctx context.Context, c Checker) CheckResult {
	timeout := c.Timeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	r := c.Check(checkCtx)
	r.Component = c.Name()
	r.Critical = c.IsCritical()
	r.Duration = time.Since(start)
	r.Timestamp = start
	return r
}

// aggregate folds component results into an overall verdict. A failing
// critical component makes the service unready; anything else only degrades it.
func aggregate(components map[string]CheckResult) DetailedHealth {
	now := time.Now()
	summary := Summary{Total: len(components)}
	var criticalFailures, otherFailures int
	for _, r := range components {
		switch r.Status {
		case StatusHealthy:
			summary.Healthy++
		case StatusDegraded:
			summary.Degraded++
		case StatusUnhealthy:
			summary.Unhealthy++
			if r.Critical {
				criticalFailures++
			} else {
				otherFailures++
			}
		}
		if r.Critical {
			summary.Critical++
		} else {
			summary.NonCritical++
		}
	}

	overall := OverallHealth{Timestamp: now, Live: true, Ready: true}
	switch {
	case summary.Total == 0:
		overall.Status = StatusUnknown
		overall.Message = "No health checks registered"
		overall.Ready = false
	case criticalFailures > 0:
		overall.Status = StatusUnhealthy
		overall.Message = fmt.Sprintf("%d critical component(s) failing", criticalFailures)
		overall.Ready = false
	case summary.Degraded > 0:
		overall.Status = StatusDegraded
		overall.Message = fmt.Sprintf("%d component(s) degraded", summary.Degraded)
	case otherFailures > 0:
		overall.Status = StatusDegraded
		overall.Message = fmt.Sprintf("%d non-critical component(s) failing", otherFailures)
	default:
		overall.Status = StatusHealthy
		overall.Message = fmt.Sprintf("All %d components healthy", summary.Total)
	}
	overall.Degraded = overall.Status == StatusDegraded

	return DetailedHealth{
		Overall:    overall,
		Components: components,
		Summary:    summary,
		Timestamp:  now,
	}
}
