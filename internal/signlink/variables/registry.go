package variables

import (
	"errors"
	"fmt"
	"sort"

	"signlink.ai/internal/signlink/model"
)

var (
	ErrInvalidName = errors.New("variables: invalid variable name")
	ErrInvalidLine = errors.New("variables: line out of range")

	// ErrIndexIntegrity marks a broken invariant between the index and the
	// registry. It is a programming error, never a user error.
	ErrIndexIntegrity = errors.New("variables: index integrity fault")
)

// BindingConflict is returned when a sign line is already bound to another
// variable.
type BindingConflict struct {
	Binding   model.Binding
	Existing  string
	Requested string
}

func (e *BindingConflict) Error() string {
	return fmt.Sprintf("sign line %s already links variable %q, cannot link %q", e.Binding, e.Existing, e.Requested)
}

// Registry owns every Variable and keeps the location index in step with
// the variables' own binding sets.
type Registry struct {
	policy NamePolicy
	vars   map[string]*Variable
	index  *Index
}

func NewRegistry(policy NamePolicy) *Registry {
	return &Registry{
		policy: policy,
		vars:   map[string]*Variable{},
		index:  NewIndex(),
	}
}

func (r *Registry) Policy() NamePolicy { return r.policy }
func (r *Registry) Index() *Index      { return r.index }
func (r *Registry) Len() int           { return len(r.vars) }

// Get returns the named variable, creating it on first use. A new variable
// shows its own reference text until a value is set.
func (r *Registry) Get(name string) *Variable {
	name = r.policy.Normalize(name)
	if v, ok := r.vars[name]; ok {
		return v
	}
	v := newVariable(name, r.policy.Format(name))
	r.vars[name] = v
	return v
}

func (r *Registry) Lookup(name string) (*Variable, bool) {
	v, ok := r.vars[r.policy.Normalize(name)]
	return v, ok
}

// Create is the administrative form of Get: it rejects names that could not
// be written on a sign.
func (r *Registry) Create(name string) (*Variable, bool, error) {
	name = r.policy.Normalize(name)
	if !r.policy.ValidName(name) {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if v, ok := r.vars[name]; ok {
		return v, false, nil
	}
	return r.Get(name), true, nil
}

// Remove deletes a variable after unbinding all of its sign lines.
func (r *Registry) Remove(name string) bool {
	v, ok := r.Lookup(name)
	if !ok {
		return false
	}
	for _, b := range v.bindings {
		r.index.Remove(v, b)
	}
	v.bindings = nil
	delete(r.vars, v.name)
	return true
}

// All returns every variable ordered by name.
func (r *Registry) All() []*Variable {
	out := make([]*Variable, 0, len(r.vars))
	for _, v := range r.vars {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Bind links v to one sign line.
func (r *Registry) Bind(v *Variable, b model.Binding) error {
	if !model.ValidLine(b.Line) || !b.Side.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidLine, b)
	}
	if !r.index.Add(v, b) {
		owner, _ := r.index.Owner(b)
		existing := ""
		if owner != nil {
			existing = owner.name
		}
		return &BindingConflict{Binding: b, Existing: existing, Requested: v.name}
	}
	v.addBinding(b)
	return nil
}

func (r *Registry) Unbind(b model.Binding) bool {
	v, ok := r.index.Owner(b)
	if !ok {
		return false
	}
	r.index.Remove(v, b)
	v.removeBinding(b)
	return true
}

// UnbindSide drops the bindings on one side of loc for which keep returns
// false. It returns the dropped bindings.
func (r *Registry) UnbindSide(loc model.Location, side model.Side, keep func(line int, name string) bool) []model.Binding {
	var dropped []model.Binding
	for _, rec := range r.index.Find(loc) {
		if rec.Binding.Side != side || keep(rec.Binding.Line, rec.Variable.name) {
			continue
		}
		r.index.Remove(rec.Variable, rec.Binding)
		rec.Variable.removeBinding(rec.Binding)
		dropped = append(dropped, rec.Binding)
	}
	return dropped
}

// RemoveLocation forgets loc in the index and in every variable bound to it.
// It returns the number of bindings removed.
func (r *Registry) RemoveLocation(loc model.Location) int {
	r.index.RemoveLocation(loc)
	n := 0
	for _, v := range r.vars {
		n += v.removeLocation(loc)
	}
	return n
}

// ResetBindings drops every binding while keeping variables and values.
func (r *Registry) ResetBindings() {
	r.index.reset()
	for _, v := range r.vars {
		v.bindings = nil
	}
}

func (r *Registry) UpdateTickers() {
	for _, v := range r.vars {
		v.ticker.Step()
	}
}

// Verify checks records returned by Index.Find for loc against the registry.
func (r *Registry) Verify(loc model.Location, recs []Record) error {
	for _, rec := range recs {
		switch {
		case rec.Variable == nil:
			return fmt.Errorf("%w: nil variable at %s", ErrIndexIntegrity, rec.Binding)
		case rec.Binding.Loc != loc:
			return fmt.Errorf("%w: record %s returned for %s", ErrIndexIntegrity, rec.Binding, loc)
		case r.vars[rec.Variable.name] != rec.Variable:
			return fmt.Errorf("%w: variable %q at %s is not registered", ErrIndexIntegrity, rec.Variable.name, rec.Binding)
		case !rec.Variable.hasBinding(rec.Binding):
			return fmt.Errorf("%w: variable %q does not hold %s", ErrIndexIntegrity, rec.Variable.name, rec.Binding)
		}
	}
	return nil
}
