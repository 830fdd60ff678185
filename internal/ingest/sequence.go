package ingest

import "sync/atomic"

// Sequencer hands out monotonic arrival sequence numbers. Sequence numbers
// order ticks that share a millisecond; they are monotonic but not dense,
// a rejected or redelivered tick may consume a number.
type Sequencer struct {
	ctr atomic.Int64
}

// NewSequencer creates a sequencer whose next value is seed+1. Seed with the
// store's MaxArrivalSeq so numbers survive restarts.
func NewSequencer(seed int64) *Sequencer {
	s := &Sequencer{}
	s.ctr.Store(seed)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() int64 {
	return s.ctr.Add(1)
}

// Current returns the last handed-out sequence number.
func (s *Sequencer) Current() int64 {
	return s.ctr.Load()
}
