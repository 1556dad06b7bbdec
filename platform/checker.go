package platform

import (
	"fmt"
	"sort"

	"github.com/sarchlab/cohsim/mem/directory"
	"github.com/sarchlab/cohsim/mem/mem"
	"github.com/sarchlab/cohsim/mem/privatecache"
)

// A Violation is a block whose caching breaks a coherence invariant.
type Violation struct {
	Addr   uint64
	Core   int
	Reason string
}

func (v Violation) String() string {
	return fmt.Sprintf("0x%x core %d: %s", v.Addr, v.Core, v.Reason)
}

// Checker checks the coherence invariants of a quiet system. Every block a
// cache holds must be tracked as shared by that cache in the home bank, and
// a block held writable by one cache must not be held by any other.
type Checker struct {
	caches []*privatecache.Comp
	banks  []*directory.Comp
	mapper mem.AddressToBankMapper
}

// NewChecker creates a checker for a platform.
func NewChecker(p *Platform) *Checker {
	return &Checker{
		caches: p.Caches,
		banks:  p.Banks,
		mapper: p.Mapper,
	}
}

type holder struct {
	core  int
	state privatecache.LineState
}

// Check returns the violations, ordered by address and core.
func (c *Checker) Check() []Violation {
	holders := make(map[uint64][]holder)
	violations := []Violation{}

	for _, cache := range c.caches {
		for _, l := range cache.Lines() {
			holders[l.Addr] = append(holders[l.Addr],
				holder{core: cache.Core(), state: l.State})

			bank := c.banks[c.mapper.Find(l.Addr)]

			st, found := bank.Sharers(l.Addr)
			if !found || !st.IsSharer(cache.Core()) {
				violations = append(violations, Violation{
					Addr:   l.Addr,
					Core:   cache.Core(),
					Reason: "held but not tracked by " + bank.Name(),
				})
			}
		}
	}

	for addr, hs := range holders {
		if len(hs) < 2 {
			continue
		}

		for _, h := range hs {
			if h.state.Writable() {
				violations = append(violations, Violation{
					Addr:   addr,
					Core:   h.core,
					Reason: "held " + h.state.String() + " with other copies",
				})
			}
		}
	}

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].Addr != violations[j].Addr {
			return violations[i].Addr < violations[j].Addr
		}

		return violations[i].Core < violations[j].Core
	})

	return violations
}
