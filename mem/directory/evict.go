package directory

import (
	"log"

	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/directory/internal/maf"
)

// startEvictionInvalidate starts invalidating the sharers of the oldest
// evicted entry that has not been started yet. At most one entry starts per
// cycle.
func (c *Comp) startEvictionInvalidate() bool {
	entry, ok := c.eb.OldestRequiringInvalidates()
	if !ok {
		return false
	}

	targets := entry.State.Sharers()
	c.eb.SetInvalidatesPending(entry.Addr, len(targets))

	if len(targets) == 0 {
		c.releaseEvicted(entry.Addr)
		return true
	}

	snoop := coherence.Invalidate
	if entry.State.Exclusive() {
		snoop = coherence.ReturnInvalidate
	}

	c.invalidating = append(c.invalidating, &invalidation{
		addr:    entry.Addr,
		snoop:   snoop,
		targets: targets,
	})

	return true
}

func (c *Comp) sendInvalidations() bool {
	madeProgress := false

	for len(c.invalidating) > 0 && c.out.Available() {
		inv := c.invalidating[0]

		msg := coherence.MakeMsgBuilder().
			WithType(inv.snoop).
			WithSrc(c.node).
			WithDst(inv.targets[inv.next]).
			WithAddr(inv.addr).
			WithRequester(c.node).
			ForEvict().
			Build()
		c.out.Enqueue(msg)

		c.stats.Invalidations++
		inv.next++
		madeProgress = true

		if inv.next == len(inv.targets) {
			c.invalidating[0] = nil
			c.invalidating = c.invalidating[1:]
		}
	}

	return madeProgress
}

func (c *Comp) completeInvalidation(addr uint64) {
	if !c.eb.Contains(addr) {
		log.Panicf("directory %s received an eviction ack for 0x%x, "+
			"which is not being evicted", c.Name(), addr)
	}

	if c.eb.CompleteInvalidate(addr) {
		c.releaseEvicted(addr)
	}
}

func (c *Comp) releaseEvicted(addr uint64) {
	c.eb.Remove(addr)
	c.maf.WakeAfterEvict(addr)
	c.maf.WakeAll(maf.WaitRevoke)
}
