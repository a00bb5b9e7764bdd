package support

import "sync"

// ForwardStats accumulates the turtle router's forwarded-count and
// forwarded-bytes counters, reset on each report cycle.
type ForwardStats struct {
	mu    sync.Mutex
	count uint64
	bytes uint64
}

func NewForwardStats() *ForwardStats { return &ForwardStats{} }

// Record adds one forwarded item of n bytes to the running totals.
func (s *ForwardStats) Record(n int) {
	s.mu.Lock()
	s.count++
	s.bytes += uint64(n)
	s.mu.Unlock()
}

// Snapshot returns and resets the accumulated totals.
func (s *ForwardStats) Snapshot() (count, bytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count, bytes = s.count, s.bytes
	s.count, s.bytes = 0, 0
	return count, bytes
}
