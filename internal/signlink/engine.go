// Package signlink binds named variables to sign lines and keeps every
// loaded sign showing the current value to its viewers.
//
// An Engine is not safe for concurrent use. The host drives it from a single
// goroutine: region and edit callbacks, viewer events, admin calls and Tick.
package signlink

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"signlink.ai/internal/signlink/model"
	"signlink.ai/internal/signlink/sched"
	"signlink.ai/internal/signlink/variables"
	"signlink.ai/internal/signlink/viewers"
	"signlink.ai/internal/signlink/vsign"
)

type Config struct {
	// UpdateEveryTicks is the period of the order and text passes.
	UpdateEveryTicks uint64
	// RevealTicks is how long a viewer sees the raw text after interacting.
	RevealTicks  uint64
	MaxLineWidth int
	Policy       variables.NamePolicy
}

func DefaultConfig() Config {
	return Config{
		UpdateEveryTicks: 20,
		RevealTicks:      1,
		MaxLineWidth:     15,
		Policy:           variables.DefaultPolicy(),
	}
}

// Surfaces is the host's view of the signs it has loaded.
type Surfaces interface {
	ReadSurface(loc model.Location) (front, back model.Lines, ok bool)
	LoadedSurfaces() []model.Location
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type Deps struct {
	Surfaces  Surfaces
	Transport vsign.Transport
	Viewers   viewers.Source
	Audit     AuditLogger
	Logger    *zap.Logger
	// Clock stamps audit entries. Defaults to the engine's own tick count.
	Clock func() uint64
}

// Warning is reported back to the viewer whose edit could not be linked.
type Warning struct {
	Binding model.Binding
	Message string
}

type editKey struct {
	loc  model.Location
	side model.Side
}

type Engine struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	reg   *variables.Registry
	sched *sched.Scheduler
	cache *viewers.Cache
	store *vsign.Store

	orderTask *sched.Task
	textTask  *sched.Task
	started   bool
	stopped   bool

	textPasses   uint64
	passFailures uint64
	loadFaults   uint64
}

func New(cfg Config, deps Deps) *Engine {
	def := DefaultConfig()
	if cfg.UpdateEveryTicks == 0 {
		cfg.UpdateEveryTicks = def.UpdateEveryTicks
	}
	if cfg.RevealTicks == 0 {
		cfg.RevealTicks = def.RevealTicks
	}
	if cfg.Policy.Delim == 0 {
		cfg.Policy.Delim = variables.DefaultDelim
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:  cfg,
		deps: deps,
		log:  logger,
		reg:  variables.NewRegistry(cfg.Policy),
	}
	e.sched = sched.New(logger.Named("sched"))
	e.cache = viewers.NewCache(deps.Viewers)
	e.store = vsign.NewStore(vsign.Config{
		MaxLineWidth: cfg.MaxLineWidth,
		RevealTicks:  cfg.RevealTicks,
	}, e.reg, deps.Transport, e.cache, e.sched, logger.Named("vsign"))
	return e
}

func (e *Engine) Registry() *variables.Registry { return e.reg }
func (e *Engine) Store() *vsign.Store           { return e.store }
func (e *Engine) Now() uint64                   { return e.sched.Now() }

// Start arms the order and text passes and loads every sign the host has
// loaded already.
func (e *Engine) Start() error {
	if e.started {
		return nil
	}
	e.started = true
	n := e.cfg.UpdateEveryTicks
	e.orderTask = e.sched.NewTask("order", e.orderPass).Start(n, n)
	e.textTask = e.sched.NewTask("text", e.textPass).Start(n, n)
	e.cache.Fill()
	return e.loadAll()
}

// Stop cancels all scheduled work and drops every overlay. It never panics
// and may be called more than once.
func (e *Engine) Stop() {
	if e.stopped {
		return
	}
	e.stopped = true
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("engine stop", zap.Any("panic", r))
		}
	}()
	e.orderTask.Stop()
	e.textTask.Stop()
	e.sched.Shutdown()
	e.store.Clear()
}

// Tick advances the engine by one host tick.
func (e *Engine) Tick() {
	if e.stopped {
		return
	}
	e.sched.Advance()
}

func (e *Engine) loadAll() error {
	if e.deps.Surfaces == nil {
		return nil
	}
	return e.OnRegionLoad(e.deps.Surfaces.LoadedSurfaces())
}

func (e *Engine) orderPass() {
	failures := sched.ForEach(e.reg.All(), func(v *variables.Variable) string { return v.Name() }, func(v *variables.Variable) error {
		e.store.ComputeOrder(v)
		return nil
	})
	e.passFailures += uint64(len(failures))
	sched.LogFailures(e.log, "order", failures)
}

func (e *Engine) textPass() {
	e.textPasses++
	e.reg.UpdateTickers()
	failures := sched.ForEach(e.store.All(), func(vs *vsign.VirtualSign) string { return vs.Location().String() }, e.store.Update)
	e.passFailures += uint64(len(failures))
	sched.LogFailures(e.log, "text", failures)
}

// OnRegionLoad creates overlays for newly loaded signs and renders them. An
// index integrity fault aborts the rest of the batch; signs loaded before it
// are still rendered.
func (e *Engine) OnRegionLoad(locs []model.Location) error {
	if e.stopped || e.deps.Surfaces == nil {
		return nil
	}
	var created []*vsign.VirtualSign
	touched := map[string]*variables.Variable{}
	for i, loc := range locs {
		front, back, ok := e.deps.Surfaces.ReadSurface(loc)
		if !ok {
			continue
		}
		res, err := e.store.CreateOrAttach(loc, front, back)
		if err != nil {
			e.loadFaults++
			e.log.Error("sign load aborted",
				zap.Stringer("loc", loc),
				zap.Int("batch", len(locs)),
				zap.Int("loaded", i),
				zap.Error(err))
			e.renderLoaded(created, touched)
			return fmt.Errorf("load %s: %w", loc, err)
		}
		for _, c := range res.Conflicts {
			e.log.Warn("binding conflict", zap.Stringer("binding", c.Binding), zap.String("existing", c.Existing), zap.String("variable", c.Requested))
		}
		if !res.Created {
			continue
		}
		created = append(created, res.Sign)
		for _, rec := range e.reg.Index().Find(loc) {
			touched[rec.Variable.Name()] = rec.Variable
		}
	}
	e.renderLoaded(created, touched)
	return nil
}

func (e *Engine) renderLoaded(created []*vsign.VirtualSign, touched map[string]*variables.Variable) {
	for _, v := range touched {
		e.store.ComputeOrder(v)
	}
	var errs []error
	for _, vs := range created {
		if err := e.store.Update(vs); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		e.log.Warn("initial sign render", zap.Error(err))
	}
}

// OnRegionUnload drops overlays. Bindings stay in the index so the signs
// attach without a scan when loaded again.
func (e *Engine) OnRegionUnload(locs []model.Location) {
	for _, loc := range locs {
		e.store.Remove(loc)
	}
}

// OnSurfaceEdited links the variables written on one side of a sign. Lines
// that no longer reference a variable are unlinked; a line already linked
// to a different variable is left as is and reported. The overlay is
// refreshed on the next tick, after the host has stored the new text.
func (e *Engine) OnSurfaceEdited(loc model.Location, side model.Side, lines model.Lines, actor string) []Warning {
	if e.stopped || !side.Valid() {
		return nil
	}
	policy := e.reg.Policy()
	var names [model.LineCount]string
	for i, line := range lines {
		names[i], _ = policy.Parse(line)
	}

	for _, b := range e.reg.UnbindSide(loc, side, func(line int, _ string) bool { return names[line] != "" }) {
		e.audit(AuditEntry{Actor: actor, Action: ActionUnbind, Loc: b.Loc, Side: b.Side.String(), Line: b.Line})
	}

	var warnings []Warning
	for i, name := range names {
		if name == "" {
			continue
		}
		b := model.Binding{Loc: loc, Side: side, Line: i}
		v := e.reg.Get(name)
		known := v.BindingCount()
		err := e.reg.Bind(v, b)
		var conflict *variables.BindingConflict
		switch {
		case errors.As(err, &conflict):
			warnings = append(warnings, Warning{
				Binding: b,
				Message: fmt.Sprintf("Line %d already links variable %q; clear it before linking %q.", i+1, conflict.Existing, conflict.Requested),
			})
			e.audit(AuditEntry{Actor: actor, Action: ActionConflict, Loc: loc, Side: side.String(), Line: i, Variable: name, Reason: conflict.Existing})
		case err != nil:
			warnings = append(warnings, Warning{Binding: b, Message: err.Error()})
		case v.BindingCount() != known:
			e.audit(AuditEntry{Actor: actor, Action: ActionBind, Loc: loc, Side: side.String(), Line: i, Variable: name})
		}
	}

	e.sched.After(editKey{loc, side}, 1, func() { e.refresh(loc, side) })
	return warnings
}

func (e *Engine) refresh(loc model.Location, edited model.Side) {
	if e.deps.Surfaces == nil {
		return
	}
	front, back, ok := e.deps.Surfaces.ReadSurface(loc)
	if !ok {
		return
	}
	vs, ok := e.store.Get(loc)
	if ok {
		// Only the edited side was shown to viewers again.
		sides := [2]model.Lines{front, back}
		for _, side := range model.Sides {
			if side == edited {
				vs.SetRealLines(side, sides[side])
			} else {
				vs.UpdateRealLines(side, sides[side])
			}
		}
	} else {
		res, err := e.store.CreateOrAttach(loc, front, back)
		if err != nil {
			e.log.Error("edited sign attach", zap.Stringer("loc", loc), zap.Error(err))
			return
		}
		vs = res.Sign
	}
	for _, v := range e.reg.All() {
		e.store.ComputeOrder(v)
	}
	if err := e.store.Update(vs); err != nil {
		e.log.Warn("edited sign render", zap.Stringer("loc", loc), zap.Error(err))
	}
}

// OnSurfaceDestroyed forgets every binding at loc.
func (e *Engine) OnSurfaceDestroyed(loc model.Location, actor string) {
	affected := e.reg.Index().Find(loc)
	n := e.reg.RemoveLocation(loc)
	e.store.Remove(loc)
	for _, side := range model.Sides {
		e.sched.Cancel(editKey{loc, side})
	}
	for _, rec := range affected {
		e.store.ComputeOrder(rec.Variable)
	}
	if n > 0 {
		e.audit(AuditEntry{Actor: actor, Action: ActionSignRemoved, Loc: loc, Reason: fmt.Sprintf("%d bindings", n)})
	}
}

// OnViewerInteraction shows the viewer the raw text of a linked sign so it
// can be edited, and restores the overlay shortly after. Either side of a
// sign with at least one binding counts. It reports whether the interaction
// was handled.
func (e *Engine) OnViewerInteraction(loc model.Location, side model.Side, viewer string) bool {
	if e.stopped || !side.Valid() || !e.reg.Index().Has(loc) {
		return false
	}
	vs, ok := e.store.Get(loc)
	if !ok {
		return false
	}
	v, ok := e.cache.Lookup(viewer)
	if !ok {
		return false
	}
	if err := e.store.Reveal(vs, v); err != nil {
		e.log.Warn("reveal sign text", zap.Stringer("loc", loc), zap.String("viewer", viewer), zap.Error(err))
	}
	return true
}

func (e *Engine) OnViewerJoin(v viewers.Viewer) { e.cache.Put(v) }

func (e *Engine) OnViewerLeave(name string) {
	e.cache.Forget(name)
	e.store.ForgetViewer(name)
}

// SendCurrent sends the overlay at loc to one viewer, for signs that just
// came into view. It reports false when loc has no overlay.
func (e *Engine) SendCurrent(loc model.Location, v viewers.Viewer) (bool, error) {
	vs, ok := e.store.Get(loc)
	if !ok {
		return false, nil
	}
	return true, e.store.SendCurrentLines(vs, v)
}

func (e *Engine) audit(entry AuditEntry) {
	if e.deps.Audit == nil {
		return
	}
	if e.deps.Clock != nil {
		entry.Tick = e.deps.Clock()
	} else {
		entry.Tick = e.sched.Now()
	}
	if entry.Loc != (model.Location{}) {
		entry.World = entry.Loc.World
		entry.Pos = entry.Loc.ToArray()
	}
	if err := e.deps.Audit.WriteAudit(entry); err != nil {
		e.log.Warn("audit write", zap.String("action", entry.Action), zap.Error(err))
	}
}
