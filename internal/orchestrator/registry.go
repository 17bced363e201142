package orchestrator

import (
	"sort"

	"github.com/Kocoro-lab/rfpstudio/internal/agents"
	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/lock"
)

// DefaultPipelines are available when configuration names none.
func DefaultPipelines() map[string][]string {
	return map[string][]string{
		"intake":     {"intake"},
		"breakdown":  {"breakdown"},
		"routing":    {"routing"},
		"drafting":   {"drafting"},
		"compliance": {"compliance"},
		"quality":    {"quality"},
		"kickoff":    {"intake", "breakdown", "routing"},
	}
}

// Registry holds the named pipelines built at startup.
type Registry struct {
	pipelines map[string]*Pipeline
}

// NewRegistry builds one pipeline per definition. Agents are constructed
// once and shared, which is fine because agents are stateless. Every
// pipeline commits through the same Locker so runs of different pipelines
// on one record still serialize.
func NewRegistry(defs map[string][]string, agentDeps agents.Deps, deps Deps) (*Registry, error) {
	if len(defs) == 0 {
		defs = DefaultPipelines()
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewKeyedMutex()
	}
	built := map[agents.Kind]agents.Agent{}
	r := &Registry{pipelines: make(map[string]*Pipeline, len(defs))}
	for name, tags := range defs {
		steps := make([]agents.Agent, 0, len(tags))
		for _, tag := range tags {
			kind, err := agents.ParseKind(tag)
			if err != nil {
				return nil, apperrors.Validation("pipeline %q: %v", name, err)
			}
			a, ok := built[kind]
			if !ok {
				if a, err = agents.New(kind, agentDeps); err != nil {
					return nil, err
				}
				built[kind] = a
			}
			steps = append(steps, a)
		}
		p, err := New(name, steps, deps)
		if err != nil {
			return nil, err
		}
		r.pipelines[name] = p
	}
	return r, nil
}

// Get returns the pipeline called name.
func (r *Registry) Get(name string) (*Pipeline, error) {
	p, ok := r.pipelines[name]
	if !ok {
		return nil, apperrors.NotFound("pipeline", name)
	}
	return p, nil
}

// Names returns the registered pipeline names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
