package variables

import (
	"sort"

	"signlink.ai/internal/signlink/model"
)

// Variable is a named text value shown on every sign line bound to it.
// Viewers may see a private override instead of the shared value.
type Variable struct {
	name      string
	value     string
	overrides map[string]string // folded viewer name -> value
	ticker    Ticker

	bindings []model.Binding // sorted, unique
}

type Override struct {
	Viewer string `json:"viewer"`
	Value  string `json:"value"`
}

func newVariable(name, value string) *Variable {
	return &Variable{name: name, value: value}
}

func (v *Variable) Name() string  { return v.name }
func (v *Variable) Value() string { return v.value }

func (v *Variable) Set(value string) { v.value = value }

func (v *Variable) SetFor(viewer, value string) {
	if v.overrides == nil {
		v.overrides = map[string]string{}
	}
	v.overrides[model.FoldName(viewer)] = value
}

func (v *Variable) ClearFor(viewer string) bool {
	key := model.FoldName(viewer)
	if _, ok := v.overrides[key]; !ok {
		return false
	}
	delete(v.overrides, key)
	return true
}

// ValueFor returns the viewer's override, or the shared value.
func (v *Variable) ValueFor(viewer string) string {
	if viewer != "" && len(v.overrides) > 0 {
		if val, ok := v.overrides[model.FoldName(viewer)]; ok {
			return val
		}
	}
	return v.value
}

func (v *Variable) HasOverrides() bool { return len(v.overrides) > 0 }

func (v *Variable) Overrides() []Override {
	out := make([]Override, 0, len(v.overrides))
	for k, val := range v.overrides {
		out = append(out, Override{Viewer: k, Value: val})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Viewer < out[j].Viewer })
	return out
}

func (v *Variable) Ticker() Ticker { return v.ticker }

// SetTicker replaces the animation and restarts it from frame 0.
func (v *Variable) SetTicker(t Ticker) {
	t.Reset()
	v.ticker = t
}

// Render returns the animated text the viewer should see. An empty viewer
// renders the shared value.
func (v *Variable) Render(viewer string) string {
	return v.ticker.Apply(v.ValueFor(viewer))
}

func (v *Variable) Bindings() []model.Binding {
	return append([]model.Binding(nil), v.bindings...)
}

func (v *Variable) BindingCount() int { return len(v.bindings) }

// Locations returns the distinct bound locations in location order.
func (v *Variable) Locations() []model.Location {
	out := make([]model.Location, 0, len(v.bindings))
	for _, b := range v.bindings {
		if n := len(out); n > 0 && out[n-1] == b.Loc {
			continue
		}
		out = append(out, b.Loc)
	}
	return out
}

func (v *Variable) HasLocation(loc model.Location) bool {
	i := v.search(model.Binding{Loc: loc})
	return i < len(v.bindings) && v.bindings[i].Loc == loc
}

func (v *Variable) hasBinding(b model.Binding) bool {
	i := v.search(b)
	return i < len(v.bindings) && v.bindings[i] == b
}

func (v *Variable) search(b model.Binding) int {
	return sort.Search(len(v.bindings), func(i int) bool { return !v.bindings[i].Less(b) })
}

func (v *Variable) addBinding(b model.Binding) bool {
	i := v.search(b)
	if i < len(v.bindings) && v.bindings[i] == b {
		return false
	}
	v.bindings = append(v.bindings, model.Binding{})
	copy(v.bindings[i+1:], v.bindings[i:])
	v.bindings[i] = b
	return true
}

func (v *Variable) removeBinding(b model.Binding) bool {
	i := v.search(b)
	if i >= len(v.bindings) || v.bindings[i] != b {
		return false
	}
	v.bindings = append(v.bindings[:i], v.bindings[i+1:]...)
	return true
}

func (v *Variable) removeLocation(loc model.Location) int {
	kept := v.bindings[:0]
	removed := 0
	for _, b := range v.bindings {
		if b.Loc == loc {
			removed++
			continue
		}
		kept = append(kept, b)
	}
	v.bindings = kept
	return removed
}
