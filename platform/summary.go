package platform

import "github.com/sarchlab/cohsim/datarecording"

// BankSummary is what a directory bank did during a run.
type BankSummary struct {
	Name          string
	StoreKind     string
	Requests      uint64
	SnoopsSent    uint64
	Invalidations uint64
	Evictions     uint64
	Forwards      uint64
	StaleEvicts   uint64
	MAFStalls     uint64
	EBStalls      uint64
	SetStalls     uint64
	Completed     uint64
	AvgLatency    float64
	Occupancy     int
}

// CacheSummary is what a private cache did during a run.
type CacheSummary struct {
	Name           string
	Accesses       uint64
	Hits           uint64
	Misses         uint64
	Upgrades       uint64
	Evictions      uint64
	SilentDrops    uint64
	Snoops         uint64
	ForwardsSent   uint64
	AvgMissLatency float64
}

// Summary is the result of a run.
type Summary struct {
	Cycles     uint64
	NetMsgs    uint64
	NetHops    uint64
	Banks      []BankSummary
	Caches     []CacheSummary
	Violations []Violation
}

// Summarize collects the counters of every component and checks the
// coherence invariants.
func (p *Platform) Summarize() Summary {
	net := p.Network.Stats()

	s := Summary{
		Cycles:     p.Cycles(),
		NetMsgs:    net.Msgs,
		NetHops:    net.Hops,
		Violations: NewChecker(p).Check(),
	}

	for _, b := range p.Banks {
		st := b.Stats()
		s.Banks = append(s.Banks, BankSummary{
			Name:          b.Name(),
			StoreKind:     b.StoreKind(),
			Requests:      st.TotalRequests(),
			SnoopsSent:    st.SnoopsSent,
			Invalidations: st.Invalidations,
			Evictions:     st.Evictions,
			Forwards:      st.Forwards,
			StaleEvicts:   st.StaleEvicts,
			MAFStalls:     st.MAFStalls,
			EBStalls:      st.EBStalls,
			SetStalls:     st.SetStalls,
			Completed:     st.Completed,
			AvgLatency:    st.AverageLatency(),
			Occupancy:     b.Occupancy(),
		})
	}

	for _, c := range p.Caches {
		st := c.Stats()

		avg := 0.0
		if st.Misses+st.Upgrades > 0 {
			avg = float64(st.TotalMissLatency) / float64(st.Misses+st.Upgrades)
		}

		s.Caches = append(s.Caches, CacheSummary{
			Name:           c.Name(),
			Accesses:       st.Accesses(),
			Hits:           st.Hits,
			Misses:         st.Misses,
			Upgrades:       st.Upgrades,
			Evictions:      st.Evictions,
			SilentDrops:    st.SilentDrops,
			Snoops:         st.Snoops,
			ForwardsSent:   st.ForwardsSent,
			AvgMissLatency: avg,
		})
	}

	return s
}

// Record writes the summary into the bank_summary and cache_summary
// tables of the recorder that the platform was built with, if any.
func (p *Platform) Record(s Summary) {
	if p.recorder == nil {
		return
	}

	RecordSummary(p.recorder, s)
}

// RecordSummary writes the summary into the bank_summary and cache_summary
// tables.
func RecordSummary(recorder datarecording.DataRecorder, s Summary) {
	recorder.CreateTable("bank_summary", BankSummary{})
	recorder.CreateTable("cache_summary", CacheSummary{})

	for _, b := range s.Banks {
		recorder.InsertData("bank_summary", b)
	}

	for _, c := range s.Caches {
		recorder.InsertData("cache_summary", c)
	}

	recorder.Flush()
}

// HitRate returns the fraction of accesses served without the directory.
func (c CacheSummary) HitRate() float64 {
	if c.Accesses == 0 {
		return 0
	}

	return float64(c.Hits) / float64(c.Accesses)
}
