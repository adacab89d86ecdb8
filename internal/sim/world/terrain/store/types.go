package store

import (
	"crypto/sha256"
	"sort"

	"signlink.ai/internal/signlink/model"
)

type ChunkKey struct {
	CX int
	CZ int
}

// Sign is one sign block with the text written on each side.
type Sign struct {
	Pos         [3]int
	Front, Back model.Lines
	UpdatedTick uint64
	UpdatedBy   string
}

func (s *Sign) Side(side model.Side) model.Lines {
	if side == model.Back {
		return s.Back
	}
	return s.Front
}

func (s *Sign) SetSide(side model.Side, lines model.Lines) {
	if side == model.Back {
		s.Back = lines
		return
	}
	s.Front = lines
}

type Chunk struct {
	CX, CZ int
	Signs  map[[3]int]*Sign

	dirty bool
	hash  [32]byte
}

func newChunk(k ChunkKey) *Chunk {
	return &Chunk{CX: k.CX, CZ: k.CZ, Signs: map[[3]int]*Sign{}, dirty: true}
}

// SortedSigns returns the chunk's signs ordered by position.
func (c *Chunk) SortedSigns() []*Sign {
	out := make([]*Sign, 0, len(c.Signs))
	for _, s := range c.Signs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return posLess(out[i].Pos, out[j].Pos) })
	return out
}

func (c *Chunk) Digest() [32]byte {
	if c.dirty || c.hash == ([32]byte{}) {
		h := sha256.New()
		for _, s := range c.SortedSigns() {
			writePos(h, s.Pos)
			for _, l := range s.Front {
				writeString(h, l)
			}
			for _, l := range s.Back {
				writeString(h, l)
			}
		}
		copy(c.hash[:], h.Sum(nil))
		c.dirty = false
	}
	return c.hash
}

// ChunkStore holds every sign of one world. Chunks are loaded while a viewer
// is near them; signs in unloaded chunks stay stored but are not live.
type ChunkStore struct {
	World     string
	ChunkSize int

	Chunks map[ChunkKey]*Chunk
	loaded map[ChunkKey]bool
}

func NewChunkStore(world string, chunkSize int) *ChunkStore {
	if chunkSize <= 0 {
		chunkSize = 16
	}
	return &ChunkStore{
		World:     world,
		ChunkSize: chunkSize,
		Chunks:    map[ChunkKey]*Chunk{},
		loaded:    map[ChunkKey]bool{},
	}
}
