package store

import (
	"sort"

	"signlink.ai/internal/signlink/model"
)

func (s *ChunkStore) KeyOf(x, z int) ChunkKey {
	return ChunkKey{CX: FloorDiv(x, s.ChunkSize), CZ: FloorDiv(z, s.ChunkSize)}
}

func (s *ChunkStore) Location(pos [3]int) model.Location {
	return model.Location{World: s.World, X: pos[0], Y: pos[1], Z: pos[2]}
}

func (s *ChunkStore) GetSign(pos [3]int) (*Sign, bool) {
	ch, ok := s.Chunks[s.KeyOf(pos[0], pos[2])]
	if !ok {
		return nil, false
	}
	sg, ok := ch.Signs[pos]
	return sg, ok
}

// PutSign places an empty sign at pos. It reports false when a sign is
// already there.
func (s *ChunkStore) PutSign(pos [3]int, by string, tick uint64) (*Sign, bool) {
	k := s.KeyOf(pos[0], pos[2])
	ch, ok := s.Chunks[k]
	if !ok {
		ch = newChunk(k)
		s.Chunks[k] = ch
	}
	if sg, ok := ch.Signs[pos]; ok {
		return sg, false
	}
	sg := &Sign{Pos: pos, UpdatedBy: by, UpdatedTick: tick}
	ch.Signs[pos] = sg
	ch.dirty = true
	return sg, true
}

func (s *ChunkStore) SetSignSide(pos [3]int, side model.Side, lines model.Lines, by string, tick uint64) bool {
	sg, ok := s.GetSign(pos)
	if !ok {
		return false
	}
	sg.SetSide(side, lines)
	sg.UpdatedBy = by
	sg.UpdatedTick = tick
	s.Chunks[s.KeyOf(pos[0], pos[2])].dirty = true
	return true
}

func (s *ChunkStore) RemoveSign(pos [3]int) bool {
	k := s.KeyOf(pos[0], pos[2])
	ch, ok := s.Chunks[k]
	if !ok {
		return false
	}
	if _, ok := ch.Signs[pos]; !ok {
		return false
	}
	delete(ch.Signs, pos)
	ch.dirty = true
	if len(ch.Signs) == 0 && !s.loaded[k] {
		delete(s.Chunks, k)
	}
	return true
}

func (s *ChunkStore) SignCount() int {
	n := 0
	for _, ch := range s.Chunks {
		n += len(ch.Signs)
	}
	return n
}

func (s *ChunkStore) IsLoaded(k ChunkKey) bool { return s.loaded[k] }

// Load marks k loaded and reports whether it was unloaded before.
func (s *ChunkStore) Load(k ChunkKey) bool {
	if s.loaded[k] {
		return false
	}
	s.loaded[k] = true
	return true
}

func (s *ChunkStore) Unload(k ChunkKey) bool {
	if !s.loaded[k] {
		return false
	}
	delete(s.loaded, k)
	if ch, ok := s.Chunks[k]; ok && len(ch.Signs) == 0 {
		delete(s.Chunks, k)
	}
	return true
}

func (s *ChunkStore) LoadedChunkKeys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(s.loaded))
	for k := range s.loaded {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

// SignsIn returns the locations of the signs in chunk k, ordered.
func (s *ChunkStore) SignsIn(k ChunkKey) []model.Location {
	ch, ok := s.Chunks[k]
	if !ok {
		return nil
	}
	out := make([]model.Location, 0, len(ch.Signs))
	for _, sg := range ch.SortedSigns() {
		out = append(out, s.Location(sg.Pos))
	}
	return out
}

// LoadedSigns returns every sign in a loaded chunk.
func (s *ChunkStore) LoadedSigns() []model.Location {
	var out []model.Location
	for _, k := range s.LoadedChunkKeys() {
		out = append(out, s.SignsIn(k)...)
	}
	return out
}

// KeysAround returns the chunks within Chebyshev distance r of center.
func KeysAround(center ChunkKey, r int) []ChunkKey {
	if r < 0 {
		r = 0
	}
	out := make([]ChunkKey, 0, (2*r+1)*(2*r+1))
	for dz := -r; dz <= r; dz++ {
		for dx := -r; dx <= r; dx++ {
			out = append(out, ChunkKey{CX: center.CX + dx, CZ: center.CZ + dz})
		}
	}
	sortKeys(out)
	return out
}

// Within reports whether k is within Chebyshev distance r of center.
func Within(center, k ChunkKey, r int) bool {
	return AbsInt(k.CX-center.CX) <= r && AbsInt(k.CZ-center.CZ) <= r
}

func sortKeys(keys []ChunkKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
}
