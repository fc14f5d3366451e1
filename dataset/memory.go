package dataset

import (
	iface "CDEvalServer/interface"
	"iter"
)

// Memory serves a fixed list of batches.
type Memory struct {
	batches []iface.Batch
}

func NewMemory(batches ...iface.Batch) *Memory {
	return &Memory{batches: batches}
}

func (m *Memory) Len() int {
	return len(m.batches)
}

func (m *Memory) All() iter.Seq2[iface.Batch, error] {
	return func(yield func(iface.Batch, error) bool) {
		for _, b := range m.batches {
			if !yield(b, nil) {
				return
			}
		}
	}
}
