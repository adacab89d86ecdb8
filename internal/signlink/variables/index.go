package variables

import (
	"sort"

	"signlink.ai/internal/signlink/model"
)

// Record pairs a binding with the variable that owns it.
type Record struct {
	Variable *Variable
	Binding  model.Binding
}

// Index maps sign locations back to the variables bound on them. It holds
// references only; variables are owned by the Registry.
type Index struct {
	byLoc map[model.Location][]Record // sorted by side, then line
	n     int
}

func NewIndex() *Index {
	return &Index{byLoc: map[model.Location][]Record{}}
}

func (ix *Index) slot(recs []Record, b model.Binding) int {
	return sort.Search(len(recs), func(i int) bool {
		o := recs[i].Binding
		if o.Side != b.Side {
			return o.Side > b.Side
		}
		return o.Line >= b.Line
	})
}

// Add binds v at b. It fails when another variable already owns the slot;
// adding the same pair twice is a successful no-op.
func (ix *Index) Add(v *Variable, b model.Binding) bool {
	recs := ix.byLoc[b.Loc]
	i := ix.slot(recs, b)
	if i < len(recs) && recs[i].Binding == b {
		return recs[i].Variable == v
	}
	recs = append(recs, Record{})
	copy(recs[i+1:], recs[i:])
	recs[i] = Record{Variable: v, Binding: b}
	ix.byLoc[b.Loc] = recs
	ix.n++
	return true
}

// Owner returns the variable bound at b.
func (ix *Index) Owner(b model.Binding) (*Variable, bool) {
	recs := ix.byLoc[b.Loc]
	i := ix.slot(recs, b)
	if i < len(recs) && recs[i].Binding == b {
		return recs[i].Variable, true
	}
	return nil, false
}

func (ix *Index) Remove(v *Variable, b model.Binding) bool {
	recs := ix.byLoc[b.Loc]
	i := ix.slot(recs, b)
	if i >= len(recs) || recs[i].Binding != b || recs[i].Variable != v {
		return false
	}
	recs = append(recs[:i], recs[i+1:]...)
	if len(recs) == 0 {
		delete(ix.byLoc, b.Loc)
	} else {
		ix.byLoc[b.Loc] = recs
	}
	ix.n--
	return true
}

// Find returns a copy of the records at loc ordered by side, then line.
func (ix *Index) Find(loc model.Location) []Record {
	recs := ix.byLoc[loc]
	if len(recs) == 0 {
		return nil
	}
	return append([]Record(nil), recs...)
}

func (ix *Index) Has(loc model.Location) bool { return len(ix.byLoc[loc]) > 0 }

// RemoveLocation drops every record at loc and returns them.
func (ix *Index) RemoveLocation(loc model.Location) []Record {
	recs := ix.byLoc[loc]
	if len(recs) == 0 {
		return nil
	}
	delete(ix.byLoc, loc)
	ix.n -= len(recs)
	return recs
}

// Len is the number of bindings in the index.
func (ix *Index) Len() int { return ix.n }

func (ix *Index) Locations() []model.Location {
	out := make([]model.Location, 0, len(ix.byLoc))
	for loc := range ix.byLoc {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (ix *Index) reset() {
	ix.byLoc = map[model.Location][]Record{}
	ix.n = 0
}
