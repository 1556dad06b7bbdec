package directory

import "github.com/sarchlab/cohsim/mem/coherence"

// Stats counts what a directory bank has done.
type Stats struct {
	Requests map[coherence.MsgType]uint64

	SnoopsSent    uint64
	Invalidations uint64
	Evictions     uint64
	Forwards      uint64
	StaleEvicts   uint64
	Completed     uint64

	// The stalls count the cycles or the attempts that could not proceed
	// because a resource was exhausted.
	MAFStalls uint64
	EBStalls  uint64
	SetStalls uint64

	// TotalLatency sums the cycles from admission to completion.
	TotalLatency uint64
}

func newStats() Stats {
	return Stats{Requests: make(map[coherence.MsgType]uint64)}
}

func (s Stats) clone() Stats {
	out := s
	out.Requests = make(map[coherence.MsgType]uint64, len(s.Requests))

	for k, v := range s.Requests {
		out.Requests[k] = v
	}

	return out
}

// AverageLatency returns the average number of cycles a transaction takes.
func (s Stats) AverageLatency() float64 {
	if s.Completed == 0 {
		return 0
	}

	return float64(s.TotalLatency) / float64(s.Completed)
}

// TotalRequests returns the number of requests of all types.
func (s Stats) TotalRequests() uint64 {
	var n uint64
	for _, v := range s.Requests {
		n += v
	}

	return n
}
