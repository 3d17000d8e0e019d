package ir

import "sync/atomic"

// Sequence hands out node ids for export.
//
// Ids are strictly increasing within one Sequence, so a run that exports
// the same plans in the same order produces the same ids. Ids carry no
// meaning beyond being unique keys in one export.
//
// Thread-safety: Sequence is safe for concurrent use (atomic operations).
type Sequence struct {
	seq atomic.Int64
}

// NewSequence creates a sequence whose first id is 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// NewSequenceAt creates a sequence whose next id is start+1.
func NewSequenceAt(start int64) *Sequence {
	s := &Sequence{}
	s.seq.Store(start)
	return s
}

// Next returns the next id.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last id handed out without advancing.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
