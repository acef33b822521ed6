package solver

import (
	"fmt"
	"sort"
	"strings"
)

// Factory builds a solver for one subspace from validated parameters.
type Factory func(st Structure, params Values) (Solver, error)

// Variant is one registered solver implementation.
type Variant struct {
	Name        string
	Description string
	Schema      Schema
	New         Factory
}

// Registry stores solver variants by name.
type Registry struct {
	items map[string]Variant
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Variant)}
}

// Builtin returns a registry holding the built-in variants.
func Builtin() *Registry {
	r := NewRegistry()
	for _, v := range []Variant{hartreeFockVariant(), externalVariant()} {
		if err := r.Register(v); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a variant.
func (r *Registry) Register(v Variant) error {
	name := strings.TrimSpace(v.Name)
	if !isValidName(name) {
		return fmt.Errorf("solver: invalid variant name %q", v.Name)
	}
	if v.New == nil {
		return fmt.Errorf("solver: variant %q has no factory", name)
	}
	if _, ok := r.items[name]; ok {
		return fmt.Errorf("%w: %s", ErrSolverExists, name)
	}
	v.Name = name
	r.items[name] = v
	return nil
}

// Resolve returns a variant by name.
func (r *Registry) Resolve(name string) (Variant, bool) {
	v, ok := r.items[name]
	return v, ok
}

// Names returns registered names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.items))
	for name := range r.items {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Params validates legacy strings and typed options against the schema of
// variant name. Verbosity is cleared unless coordinator is set so that only
// one rank reports solver progress.
func (r *Registry) Params(name string, legacy []string, options map[string]any, coordinator bool) (Values, error) {
	v, ok := r.items[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownSolver, name, strings.Join(r.Names(), ", "))
	}
	params, err := v.Schema.Parse(legacy, options)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if !coordinator {
		delete(params, "verbosity")
	}
	return params, nil
}

// New builds the solver of variant name for one subspace.
func (r *Registry) New(name string, st Structure, params Values) (Solver, error) {
	v, ok := r.items[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSolver, name)
	}
	return v.New(st, params)
}

func isValidName(id string) bool {
	if id == "" {
		return false
	}
	lastSep := false
	for i := 0; i < len(id); i++ {
		c := id[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if (i == 0 || i == len(id)-1) && isSep {
			return false
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}
