package signlink

import (
	"errors"
	"fmt"

	"signlink.ai/internal/signlink/variables"
)

const adminActor = "admin"

var ErrUnknownVariable = errors.New("signlink: unknown variable")

type TickerInfo struct {
	Mode     string `json:"mode" yaml:"mode"`
	Interval int    `json:"interval,omitempty" yaml:"interval,omitempty"`
	Pause    int    `json:"pause,omitempty" yaml:"pause,omitempty"`
}

type VariableInfo struct {
	Name      string               `json:"name"`
	Value     string               `json:"value"`
	Ticker    TickerInfo           `json:"ticker"`
	Signs     int                  `json:"signs"`
	Bindings  int                  `json:"bindings"`
	Overrides []variables.Override `json:"overrides,omitempty"`
}

// Definition is the persisted form of a variable: its value, ticker and
// per-viewer values. Bindings are not part of it; they come from sign text.
type Definition struct {
	Name      string            `json:"name" yaml:"name"`
	Value     string            `json:"value,omitempty" yaml:"value,omitempty"`
	Ticker    *TickerInfo       `json:"ticker,omitempty" yaml:"ticker,omitempty"`
	PerViewer map[string]string `json:"per_viewer,omitempty" yaml:"per_viewer,omitempty"`
}

type Stats struct {
	Tick            uint64 `json:"tick"`
	AutoUpdate      bool   `json:"auto_update"`
	Variables       int    `json:"variables"`
	Bindings        int    `json:"bindings"`
	Signs           int    `json:"signs"`
	PendingRestores int    `json:"pending_restores"`
	ViewerCache     int    `json:"viewer_cache"`
	CacheHits       uint64 `json:"cache_hits"`
	CacheMisses     uint64 `json:"cache_misses"`
	TextPasses      uint64 `json:"text_passes"`
	PassFailures    uint64 `json:"pass_failures"`
	LoadFaults      uint64 `json:"load_faults"`
}

func info(v *variables.Variable) VariableInfo {
	t := v.Ticker()
	return VariableInfo{
		Name:      v.Name(),
		Value:     v.Value(),
		Ticker:    TickerInfo{Mode: t.Mode.String(), Interval: t.Interval, Pause: t.Pause},
		Signs:     len(v.Locations()),
		Bindings:  v.BindingCount(),
		Overrides: v.Overrides(),
	}
}

// SetAutoUpdate turns delivery of rendered lines on or off. Values keep
// rendering while it is off.
func (e *Engine) SetAutoUpdate(on bool) {
	if e.store.Emitting() == on {
		return
	}
	e.store.SetEmit(on)
	reason := "off"
	if on {
		reason = "on"
	}
	e.audit(AuditEntry{Actor: adminActor, Action: ActionToggle, Reason: reason})
}

func (e *Engine) ToggleAutoUpdate() bool {
	e.SetAutoUpdate(!e.store.Emitting())
	return e.store.Emitting()
}

func (e *Engine) AutoUpdate() bool { return e.store.Emitting() }

// Reload drops every binding and overlay and rescans all loaded signs.
// Variables and their values are kept, and viewers waiting for a reveal to
// be restored still get it.
func (e *Engine) Reload() error {
	if e.stopped {
		return errors.New("signlink: engine stopped")
	}
	e.reg.ResetBindings()
	e.store.Detach()
	defer e.store.DropDetached()
	e.cache.Fill()
	e.audit(AuditEntry{Actor: adminActor, Action: ActionReload})
	return e.loadAll()
}

func (e *Engine) Variables() []VariableInfo {
	all := e.reg.All()
	out := make([]VariableInfo, 0, len(all))
	for _, v := range all {
		out = append(out, info(v))
	}
	return out
}

func (e *Engine) Variable(name string) (VariableInfo, bool) {
	v, ok := e.reg.Lookup(name)
	if !ok {
		return VariableInfo{}, false
	}
	return info(v), true
}

func (e *Engine) CreateVariable(name string) (VariableInfo, bool, error) {
	v, created, err := e.reg.Create(name)
	if err != nil {
		return VariableInfo{}, false, err
	}
	if created {
		e.audit(AuditEntry{Actor: adminActor, Action: ActionVarCreate, Variable: v.Name()})
	}
	return info(v), created, nil
}

// SetVariable sets the shared value, creating the variable when needed.
func (e *Engine) SetVariable(name, value string) error {
	v, _, err := e.reg.Create(name)
	if err != nil {
		return err
	}
	v.Set(value)
	e.audit(AuditEntry{Actor: adminActor, Action: ActionVarSet, Variable: v.Name()})
	return nil
}

// SetVariableFor sets the value one viewer sees.
func (e *Engine) SetVariableFor(name, viewer, value string) error {
	if viewer == "" {
		return errors.New("signlink: empty viewer name")
	}
	v, _, err := e.reg.Create(name)
	if err != nil {
		return err
	}
	v.SetFor(viewer, value)
	e.audit(AuditEntry{Actor: adminActor, Action: ActionVarSet, Variable: v.Name(), Reason: "viewer=" + viewer})
	return nil
}

func (e *Engine) ClearVariableFor(name, viewer string) (bool, error) {
	v, ok := e.reg.Lookup(name)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	return v.ClearFor(viewer), nil
}

func (e *Engine) SetTicker(name string, t TickerInfo) error {
	v, ok := e.reg.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	mode, err := variables.ParseTickerMode(t.Mode)
	if err != nil {
		return err
	}
	v.SetTicker(variables.NewTicker(mode, t.Interval, t.Pause))
	return nil
}

// RemoveVariable deletes a variable and its bindings. Signs fall back to
// their real text on the next text pass.
func (e *Engine) RemoveVariable(name string) bool {
	v, ok := e.reg.Lookup(name)
	if !ok {
		return false
	}
	e.reg.Remove(v.Name())
	e.audit(AuditEntry{Actor: adminActor, Action: ActionVarRemove, Variable: v.Name()})
	return true
}

// ApplyDefinitions creates or updates variables from their definitions.
// Invalid entries are skipped and reported together.
func (e *Engine) ApplyDefinitions(defs []Definition) error {
	var errs []error
	for _, d := range defs {
		v, _, err := e.reg.Create(d.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if d.Value != "" {
			v.Set(d.Value)
		}
		if d.Ticker != nil {
			mode, err := variables.ParseTickerMode(d.Ticker.Mode)
			if err != nil {
				errs = append(errs, fmt.Errorf("variable %q: %w", v.Name(), err))
			} else if cur := v.Ticker(); cur.Mode != mode || cur.Interval != d.Ticker.Interval || cur.Pause != d.Ticker.Pause {
				v.SetTicker(variables.NewTicker(mode, d.Ticker.Interval, d.Ticker.Pause))
			}
		}
		for viewer, value := range d.PerViewer {
			v.SetFor(viewer, value)
		}
	}
	return errors.Join(errs...)
}

// Definitions exports every variable in name order.
func (e *Engine) Definitions() []Definition {
	all := e.reg.All()
	out := make([]Definition, 0, len(all))
	for _, v := range all {
		d := Definition{Name: v.Name(), Value: v.Value()}
		if t := v.Ticker(); t.Mode != variables.TickerNone {
			d.Ticker = &TickerInfo{Mode: t.Mode.String(), Interval: t.Interval, Pause: t.Pause}
		}
		for _, o := range v.Overrides() {
			if d.PerViewer == nil {
				d.PerViewer = map[string]string{}
			}
			d.PerViewer[o.Viewer] = o.Value
		}
		out = append(out, d)
	}
	return out
}

func (e *Engine) Stats() Stats {
	hits, misses := e.cache.Stats()
	return Stats{
		Tick:            e.sched.Now(),
		AutoUpdate:      e.store.Emitting(),
		Variables:       e.reg.Len(),
		Bindings:        e.reg.Index().Len(),
		Signs:           e.store.Len(),
		PendingRestores: e.store.PendingRestores(),
		ViewerCache:     e.cache.Len(),
		CacheHits:       hits,
		CacheMisses:     misses,
		TextPasses:      e.textPasses,
		PassFailures:    e.passFailures,
		LoadFaults:      e.loadFaults,
	}
}
