package saga

import (
	"fmt"
	"sort"
	"sync"
)

// Definition is an ordered, immutable list of steps identified by a saga
// name. Build instances through NewDefinition; the builder clones on Build so
// later option mutation cannot leak into a registered definition.
type Definition struct {
	Name  string
	Steps []*Step
}

// Validate checks structural invariants: non-empty name, at least one step,
// unique step names, and per-step policy bounds.
func (d *Definition) Validate() error {
	if d == nil {
		return fmt.Errorf("saga definition cannot be nil")
	}
	if d.Name == "" {
		return fmt.Errorf("saga name cannot be empty")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("saga %q must define at least one step", d.Name)
	}

	seen := make(map[string]struct{}, len(d.Steps))
	for _, step := range d.Steps {
		if step == nil {
			return fmt.Errorf("saga %q contains a nil step", d.Name)
		}
		if err := step.validate(); err != nil {
			return err
		}
		if step.Timeout < 0 || step.MaxRetries < 0 || step.RetryDelay < 0 {
			return fmt.Errorf("step %q retry/timeout policy cannot be negative", step.Name)
		}
		if _, dup := seen[step.Name]; dup {
			return fmt.Errorf("duplicate step name %q in saga %q", step.Name, d.Name)
		}
		seen[step.Name] = struct{}{}
	}
	return nil
}

// StepByName returns the named step, or nil.
func (d *Definition) StepByName(name string) *Step {
	for _, step := range d.Steps {
		if step.Name == name {
			return step
		}
	}
	return nil
}

func (d *Definition) clone() *Definition {
	steps := make([]*Step, len(d.Steps))
	for i, step := range d.Steps {
		copied := *step
		steps[i] = &copied
	}
	return &Definition{Name: d.Name, Steps: steps}
}

// Builder incrementally constructs Definition instances.
type Builder struct {
	def  *Definition
	errs []error
}

// NewDefinition creates a saga definition builder.
func NewDefinition(name string) *Builder {
	return &Builder{
		def: &Definition{
			Name:  name,
			Steps: make([]*Step, 0),
		},
	}
}

// AddStep appends a step with the given forward action.
func (b *Builder) AddStep(name string, action ActionFunc, opts ...StepOption) *Builder {
	step := &Step{
		Name:   name,
		Action: action,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(step); err != nil {
			b.errs = append(b.errs, fmt.Errorf("step %q: %w", name, err))
		}
	}
	b.def.Steps = append(b.def.Steps, step)
	return b
}

// Build validates and returns the saga definition.
func (b *Builder) Build() (*Definition, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	if err := b.def.Validate(); err != nil {
		return nil, err
	}
	return b.def.clone(), nil
}

// Registry maps definition names to immutable saga definitions. Registered
// definitions cannot be replaced: re-registering a name is rejected, which
// also forbids mutation after a first execution has begun.
type Registry struct {
	mu     sync.RWMutex
	sealed bool
	defs   map[string]*Definition
}

// NewRegistry creates an empty definition registry.
func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[string]*Definition),
	}
}

// Register validates and stores a definition. Duplicate names are rejected.
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("saga registry is sealed: executions have already run")
	}
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("saga definition %q already registered", def.Name)
	}
	r.defs[def.Name] = def.clone()
	return nil
}

// seal freezes the registry so a resumed execution always finds the exact
// definition set it started with.
func (r *Registry) seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Get returns the definition for a name.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	def, ok := r.defs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDefinition, name)
	}
	return def, nil
}

// Names returns registered definition names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
