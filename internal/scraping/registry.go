package scraping

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry holds every known step by name. It does not validate the
// prerequisite graph; the Engine does that per run.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]Step
	order []string
	log   zerolog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		steps: make(map[string]Step),
		log:   logger.With().Str("component", "step-registry").Logger(),
	}
}

// Register adds step, replacing any step already registered under its name.
func (r *Registry) Register(step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := step.Name()
	if _, exists := r.steps[name]; exists {
		r.log.Warn().Str("step", name).Msg("step already registered, overwriting")
	} else {
		r.order = append(r.order, name)
	}
	r.steps[name] = step
	r.log.Debug().Str("step", name).Msg("registered step")
}

// Get returns the step registered under name.
func (r *Registry) Get(name string) (Step, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.steps[name]
	return s, ok
}

// List returns all registered steps.
func (r *Registry) List() []Step {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Step, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.steps[name])
	}
	return out
}
