package vsign

import (
	"signlink.ai/internal/signlink/model"
)

// VirtualSign is the overlay kept for one loaded sign. Real lines are the
// persisted text; rendered lines replace every bound line with its variable.
type VirtualSign struct {
	loc model.Location

	real     [2]model.Lines
	rendered [2]model.Lines
	sent     [2]model.Lines
	bound    bool

	ranks     map[string]int         // variable name -> rank among signs showing it
	views     map[string]*viewerView // folded viewer name -> private rendering
	revealing map[string]struct{}    // folded viewer names awaiting a restore
}

type viewerView struct {
	rendered [2]model.Lines
	sent     [2]model.Lines
}

func newVirtualSign(loc model.Location, front, back model.Lines) *VirtualSign {
	vs := &VirtualSign{
		loc:       loc,
		real:      [2]model.Lines{front, back},
		ranks:     map[string]int{},
		views:     map[string]*viewerView{},
		revealing: map[string]struct{}{},
	}
	// Viewers already see the persisted text.
	vs.rendered = vs.real
	vs.sent = vs.real
	return vs
}

func (vs *VirtualSign) Location() model.Location { return vs.loc }

func (vs *VirtualSign) RealLines(side model.Side) model.Lines { return vs.real[side] }

func (vs *VirtualSign) RenderedLines(side model.Side) model.Lines { return vs.rendered[side] }

// ViewerLines is the rendering a viewer with private values should see.
func (vs *VirtualSign) ViewerLines(viewer string, side model.Side) model.Lines {
	if v, ok := vs.views[model.FoldName(viewer)]; ok {
		return v.rendered[side]
	}
	return vs.rendered[side]
}

// HasVariables reports whether the last update found any bound line.
func (vs *VirtualSign) HasVariables() bool { return vs.bound }

func (vs *VirtualSign) Rank(variable string) int { return vs.ranks[variable] }

func (vs *VirtualSign) Revealing(viewer string) bool {
	_, ok := vs.revealing[model.FoldName(viewer)]
	return ok
}

// SetRealLines replaces the persisted text of one side after an edit. The
// editor's text was already shown to viewers, so it is also the last sent
// state for that side.
func (vs *VirtualSign) SetRealLines(side model.Side, lines model.Lines) {
	vs.real[side] = lines
	vs.sent[side] = lines
	for _, view := range vs.views {
		view.sent[side] = lines
	}
}

// UpdateRealLines replaces the persisted text of a side viewers were not
// shown again, keeping its last sent state.
func (vs *VirtualSign) UpdateRealLines(side model.Side, lines model.Lines) {
	vs.real[side] = lines
}
