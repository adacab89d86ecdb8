package store

import (
	"fmt"

	snapv1 "signlink.ai/internal/persistence/snapshot"
)

// ExportSigns converts every stored sign into snapshot form, ordered by
// chunk then position.
func ExportSigns(s *ChunkStore) []snapv1.SignV1 {
	keys := make([]ChunkKey, 0, len(s.Chunks))
	for k := range s.Chunks {
		keys = append(keys, k)
	}
	sortKeys(keys)
	var out []snapv1.SignV1
	for _, k := range keys {
		for _, sg := range s.Chunks[k].SortedSigns() {
			out = append(out, snapv1.SignV1{
				Pos:         sg.Pos,
				Front:       sg.Front,
				Back:        sg.Back,
				UpdatedTick: sg.UpdatedTick,
				UpdatedBy:   sg.UpdatedBy,
			})
		}
	}
	return out
}

// ImportSigns rebuilds a chunk store from snapshot signs. No chunk is loaded.
func ImportSigns(world string, chunkSize int, signs []snapv1.SignV1) (*ChunkStore, error) {
	s := NewChunkStore(world, chunkSize)
	for _, in := range signs {
		sg, created := s.PutSign(in.Pos, in.UpdatedBy, in.UpdatedTick)
		if !created {
			return nil, fmt.Errorf("snapshot has two signs at %v", in.Pos)
		}
		sg.Front = in.Front
		sg.Back = in.Back
	}
	return s, nil
}
