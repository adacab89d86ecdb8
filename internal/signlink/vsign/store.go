// Package vsign keeps the rendered overlay of every loaded sign and pushes
// changed lines to viewers.
package vsign

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"signlink.ai/internal/signlink/model"
	"signlink.ai/internal/signlink/sched"
	"signlink.ai/internal/signlink/variables"
	"signlink.ai/internal/signlink/viewers"
)

// Transport delivers rendered lines to every viewer that can see loc.
type Transport interface {
	Broadcast(loc model.Location, side model.Side, lines model.Lines)
}

type Config struct {
	MaxLineWidth int
	RevealTicks  uint64
}

type revealKey struct {
	viewer string
	loc    model.Location
}

// AttachResult describes one CreateOrAttach call.
type AttachResult struct {
	Sign      *VirtualSign
	Created   bool
	Scanned   bool
	Conflicts []*variables.BindingConflict
}

type Store struct {
	cfg       Config
	reg       *variables.Registry
	transport Transport
	viewers   *viewers.Cache
	sched     *sched.Scheduler
	log       *zap.Logger

	signs    map[model.Location]*VirtualSign
	detached map[model.Location]*VirtualSign
	emit     bool
}

func NewStore(cfg Config, reg *variables.Registry, transport Transport, cache *viewers.Cache, s *sched.Scheduler, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RevealTicks == 0 {
		cfg.RevealTicks = 1
	}
	return &Store{
		cfg:       cfg,
		reg:       reg,
		transport: transport,
		viewers:   cache,
		sched:     s,
		log:       logger,
		signs:     map[model.Location]*VirtualSign{},
		emit:      true,
	}
}

// SetEmit gates delivery. Updates keep rendering while delivery is off and
// the difference is sent once it is turned back on.
func (s *Store) SetEmit(on bool) { s.emit = on }
func (s *Store) Emitting() bool  { return s.emit }

func (s *Store) Get(loc model.Location) (*VirtualSign, bool) {
	vs, ok := s.signs[loc]
	return vs, ok
}

func (s *Store) Len() int { return len(s.signs) }

// All returns every overlay in location order.
func (s *Store) All() []*VirtualSign {
	out := make([]*VirtualSign, 0, len(s.signs))
	for _, vs := range s.signs {
		out = append(out, vs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].loc.Less(out[j].loc) })
	return out
}

// CreateOrAttach returns the overlay for loc, creating it from the real
// lines when missing. Known locations are attached from the index; unknown
// ones are scanned for variable references first. An integrity error leaves
// no overlay behind.
func (s *Store) CreateOrAttach(loc model.Location, front, back model.Lines) (AttachResult, error) {
	if vs, ok := s.signs[loc]; ok {
		return AttachResult{Sign: vs}, nil
	}
	vs := newVirtualSign(loc, front, back)
	res := AttachResult{Sign: vs, Created: true}

	if !s.reg.Index().Has(loc) {
		res.Scanned = true
		res.Conflicts = s.scan(vs)
	}
	if err := s.reg.Verify(loc, s.reg.Index().Find(loc)); err != nil {
		return AttachResult{}, err
	}
	s.signs[loc] = vs
	if old, ok := s.detached[loc]; ok {
		delete(s.detached, loc)
		s.inherit(vs, old)
	}
	return res, nil
}

// inherit carries what viewers were last sent from a detached overlay and
// re-arms its pending restores.
func (s *Store) inherit(vs, old *VirtualSign) {
	vs.sent = old.sent
	for name, view := range old.views {
		vs.views[name] = &viewerView{rendered: view.rendered, sent: view.sent}
	}
	for name := range old.revealing {
		if v, ok := s.viewers.Lookup(name); ok {
			s.armRestore(vs, v)
		}
	}
}

func (s *Store) scan(vs *VirtualSign) []*variables.BindingConflict {
	var conflicts []*variables.BindingConflict
	policy := s.reg.Policy()
	for _, side := range model.Sides {
		for i, line := range vs.real[side] {
			name, ok := policy.Parse(line)
			if !ok {
				continue
			}
			err := s.reg.Bind(s.reg.Get(name), model.Binding{Loc: vs.loc, Side: side, Line: i})
			var conflict *variables.BindingConflict
			if errors.As(err, &conflict) {
				conflicts = append(conflicts, conflict)
			}
		}
	}
	return conflicts
}

// Remove drops the overlay and any restore still pending for it.
func (s *Store) Remove(loc model.Location) bool {
	vs, ok := s.signs[loc]
	if !ok {
		return false
	}
	for viewer := range vs.revealing {
		s.sched.Cancel(revealKey{viewer: viewer, loc: loc})
	}
	delete(s.signs, loc)
	return true
}

// Clear removes every overlay.
func (s *Store) Clear() {
	for loc := range s.signs {
		s.Remove(loc)
	}
}

// Detach removes every overlay like Clear, but an overlay created again at
// the same location before DropDetached continues from what viewers were
// last sent, including restores still pending for it.
func (s *Store) Detach() {
	for loc, vs := range s.signs {
		for viewer := range vs.revealing {
			s.sched.Cancel(revealKey{viewer: viewer, loc: loc})
		}
	}
	s.detached = s.signs
	s.signs = map[model.Location]*VirtualSign{}
}

// DropDetached forgets the overlays left by Detach that were not created
// again.
func (s *Store) DropDetached() { s.detached = nil }

// ComputeOrder ranks the loaded signs bound to v by location, 0-based.
func (s *Store) ComputeOrder(v *variables.Variable) {
	rank := 0
	for _, loc := range v.Locations() {
		vs, ok := s.signs[loc]
		if !ok {
			continue
		}
		vs.ranks[v.Name()] = rank
		rank++
	}
}

// Update re-renders every bound line and sends the lines that changed.
func (s *Store) Update(vs *VirtualSign) error {
	recs := s.reg.Index().Find(vs.loc)
	vs.bound = len(recs) > 0

	next := vs.real
	private := map[string]struct{}{}
	for _, rec := range recs {
		b := rec.Binding
		next[b.Side][b.Line] = s.renderLine(rec.Variable, "", vs.ranks[rec.Variable.Name()])
		for _, o := range rec.Variable.Overrides() {
			private[o.Viewer] = struct{}{}
		}
	}
	vs.rendered = next

	var dropped []string
	for name := range vs.views {
		if _, ok := private[name]; !ok {
			dropped = append(dropped, name)
		}
	}
	sort.Strings(dropped)
	for _, name := range dropped {
		delete(vs.views, name)
	}
	for name := range private {
		view := vs.views[name]
		if view == nil {
			view = &viewerView{sent: vs.sent}
			vs.views[name] = view
		}
		view.rendered = vs.real
		for _, rec := range recs {
			b := rec.Binding
			view.rendered[b.Side][b.Line] = s.renderLine(rec.Variable, name, vs.ranks[rec.Variable.Name()])
		}
	}

	if !s.emit {
		return nil
	}

	var errs []error
	var broadcast [2]bool
	for _, side := range model.Sides {
		if vs.rendered[side] == vs.sent[side] {
			continue
		}
		s.transport.Broadcast(vs.loc, side, vs.rendered[side])
		vs.sent[side] = vs.rendered[side]
		broadcast[side] = true
	}
	// A viewer that lost its private value needs the shared text again.
	for _, name := range dropped {
		if err := s.sendTo(name, vs, func(side model.Side) model.Lines { return vs.rendered[side] }, nil); err != nil {
			errs = append(errs, err)
		}
	}
	for name, view := range vs.views {
		view := view
		if err := s.sendTo(name, vs, func(side model.Side) model.Lines { return view.rendered[side] }, func(side model.Side) bool {
			return broadcast[side] || view.rendered[side] != view.sent[side]
		}); err != nil {
			errs = append(errs, err)
			continue
		}
		view.sent = view.rendered
	}
	return errors.Join(errs...)
}

func (s *Store) sendTo(name string, vs *VirtualSign, lines func(model.Side) model.Lines, dirty func(model.Side) bool) error {
	v, ok := s.viewers.Lookup(name)
	if !ok {
		return nil
	}
	for _, side := range model.Sides {
		if dirty != nil && !dirty(side) {
			continue
		}
		if err := v.SendSign(vs.loc, side, lines(side)); err != nil {
			return fmt.Errorf("send %s to %s: %w", vs.loc, name, err)
		}
	}
	return nil
}

func (s *Store) renderLine(v *variables.Variable, viewer string, rank int) string {
	return Window(v.Render(viewer), s.cfg.MaxLineWidth, rank)
}

// SendRealLines shows one viewer the persisted reference text of both sides.
func (s *Store) SendRealLines(vs *VirtualSign, viewer viewers.Viewer) error {
	for _, side := range model.Sides {
		if err := viewer.SendSign(vs.loc, side, vs.real[side]); err != nil {
			return err
		}
	}
	return nil
}

// SendCurrentLines shows one viewer what the overlay currently displays
// for them.
func (s *Store) SendCurrentLines(vs *VirtualSign, viewer viewers.Viewer) error {
	for _, side := range model.Sides {
		if err := viewer.SendSign(vs.loc, side, s.currentLines(vs, viewer.Name(), side)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) currentLines(vs *VirtualSign, viewer string, side model.Side) model.Lines {
	view, private := vs.views[model.FoldName(viewer)]
	switch {
	case s.emit && private:
		return view.rendered[side]
	case s.emit:
		return vs.rendered[side]
	case private:
		return view.sent[side]
	default:
		return vs.sent[side]
	}
}

// Reveal sends the real lines to viewer now and restores the overlay after
// RevealTicks. A second reveal before the restore replaces the pending one.
func (s *Store) Reveal(vs *VirtualSign, viewer viewers.Viewer) error {
	if err := s.SendRealLines(vs, viewer); err != nil {
		return err
	}
	s.armRestore(vs, viewer)
	return nil
}

func (s *Store) armRestore(vs *VirtualSign, viewer viewers.Viewer) {
	key := revealKey{viewer: model.FoldName(viewer.Name()), loc: vs.loc}
	vs.revealing[key.viewer] = struct{}{}
	s.sched.After(key, s.cfg.RevealTicks, func() {
		cur, ok := s.signs[key.loc]
		if !ok {
			return
		}
		delete(cur.revealing, key.viewer)
		if err := s.SendCurrentLines(cur, viewer); err != nil {
			s.log.Warn("restore sign text failed", zap.Stringer("loc", key.loc), zap.String("viewer", viewer.Name()), zap.Error(err))
		}
	})
}

// ForgetViewer drops a disconnected viewer's private renderings and
// pending restores.
func (s *Store) ForgetViewer(name string) {
	key := model.FoldName(name)
	for loc, vs := range s.signs {
		delete(vs.views, key)
		if _, ok := vs.revealing[key]; ok {
			delete(vs.revealing, key)
			s.sched.Cancel(revealKey{viewer: key, loc: loc})
		}
	}
}

// PendingRestores counts reveals still waiting to be restored.
func (s *Store) PendingRestores() int {
	n := 0
	for _, vs := range s.signs {
		n += len(vs.revealing)
	}
	return n
}
