package handlers

import "sync/atomic"

// InfillStats counts infill requests for the metrics endpoint
type InfillStats struct {
	inFlight  atomic.Int64
	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// NewInfillStats creates zeroed counters
func NewInfillStats() *InfillStats {
	return &InfillStats{}
}

func (s *InfillStats) begin() {
	s.inFlight.Add(1)
	s.total.Add(1)
}

func (s *InfillStats) end(success bool) {
	s.inFlight.Add(-1)
	if success {
		s.succeeded.Add(1)
	} else {
		s.failed.Add(1)
	}
}

// Snapshot returns the current counters
func (s *InfillStats) Snapshot() map[string]int64 {
	return map[string]int64{
		"in_flight": s.inFlight.Load(),
		"total":     s.total.Load(),
		"succeeded": s.succeeded.Load(),
		"failed":    s.failed.Load(),
	}
}
