package directory

import (
	"log"

	"github.com/sarchlab/akita/v4/tracing"
	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/coherence/sharing"
	"github.com/sarchlab/cohsim/mem/directory/internal/dirstore"
	"github.com/sarchlab/cohsim/mem/directory/internal/maf"
)

// start looks the block up and decides what the transaction does. It may
// park the transaction if the block cannot be installed yet.
func (c *Comp) start(t *transaction) {
	e := t.entry
	blk := e.Addr()

	if c.eb.Contains(blk) {
		delete(c.active, blk)
		c.maf.SetState(e, maf.WaitEvict)
		tracing.AddTaskStep(t.id, c, "wait_evict")

		return
	}

	c.maf.SetState(e, maf.InPipeline)

	if e.StaleEvict() {
		t.reqType = t.req.Type
		c.respond(t, coherence.EvictAck)

		return
	}

	res := c.store.Lookup(blk)
	t.res = res

	if t.req.Type.IsEviction() && !res.Found() {
		t.reqType = t.req.Type
		c.respond(t, coherence.EvictAck)

		return
	}

	state := res.State()

	t.reqType = t.req.Type
	if t.reqType == coherence.UpgradeReq && !state.IsSharer(t.requester()) {
		t.reqType = coherence.WriteReq
	}

	t.category = coherence.CategoryOf(state)
	t.action = c.table.Lookup(state, t.reqType, blk)
	c.maf.SetSnapshot(e, state.Clone())

	if !res.Found() {
		if !c.allocate(t) {
			return
		}
	}

	c.store.SetProtected(blk, true)
	t.protected = true

	candidates := state.OtherSharers(t.requester())
	if !t.action.NeedsSnoop() || len(candidates) == 0 {
		c.complete(t)
		return
	}

	t.targets = c.topo.OrderSnoops(
		candidates,
		c.node,
		t.action.Forward && c.optimize3hop,
		t.requester(),
		t.action.Multicast,
	)

	t.allowed = 1
	if t.action.Multicast {
		t.allowed = len(t.targets)
	}

	t.phase = phaseSnoop
	c.maf.SetState(e, maf.WaitAck)
	c.snooping = append(c.snooping, t)

	tracing.AddTaskStep(t.id, c, t.action.Snoop.String())
}

// allocate installs the missed block. It returns false if the transaction
// had to be parked.
func (c *Comp) allocate(t *transaction) bool {
	e := t.entry

	if t.reqType.IsEviction() || !c.store.CanAllocate() {
		return true
	}

	if !c.store.HasVictim(t.res) {
		c.stats.SetStalls++
		c.maf.SetState(e, maf.WaitSet)
		tracing.AddTaskStep(t.id, c, "wait_set")

		return false
	}

	cost := c.store.EvictionCost(t.res)
	if cost > 0 {
		if !c.eb.CanReserve(cost) {
			c.stats.EBStalls++
			c.maf.SetState(e, maf.WaitRevoke)
			tracing.AddTaskStep(t.id, c, "wait_revoke")

			return false
		}

		c.eb.Reserve(cost)
		c.maf.SetCacheEBReserved(e, cost)
	}

	evicted, err := c.store.Allocate(t.res, e.Addr(), t.res.State())
	if err != nil {
		log.Panicf("directory %s cannot allocate 0x%x: %v",
			c.Name(), e.Addr(), err)
	}

	c.insertEvicted(e, evicted)

	return true
}

func (c *Comp) insertEvicted(e *maf.Entry, evicted []dirstore.Evicted) {
	reserved := e.CacheEBReserved()
	if len(evicted) > reserved {
		log.Panicf("allocation of 0x%x evicted %d entries with %d reserved",
			e.Addr(), len(evicted), reserved)
	}

	for _, ev := range evicted {
		c.eb.Unreserve(1)
		c.eb.Insert(ev.Addr, ev.State)
		c.stats.Evictions++

		if c.eb.Done(ev.Addr) {
			c.eb.Remove(ev.Addr)
		}
	}

	c.eb.Unreserve(reserved - len(evicted))
	c.maf.SetCacheEBReserved(e, 0)
}

func (c *Comp) sendSnoops() bool {
	madeProgress := false

	remaining := c.snooping[:0]

	for _, t := range c.snooping {
		for t.hasUnsentSnoops() && c.out.Available() {
			c.sendSnoop(t, t.targets[t.sent])
			t.sent++
			madeProgress = true
		}

		if t.phase == phaseSnoop && t.sent < len(t.targets) {
			remaining = append(remaining, t)
		}
	}

	for i := len(remaining); i < len(c.snooping); i++ {
		c.snooping[i] = nil
	}

	c.snooping = remaining

	return c.sendInvalidations() || madeProgress
}

func (c *Comp) sendSnoop(t *transaction, target int) {
	b := coherence.MakeMsgBuilder().
		WithType(t.action.Snoop).
		WithSrc(c.node).
		WithDst(target).
		WithAddr(t.addr()).
		WithRequester(t.requester()).
		WithTxnID(t.req.TxnID)

	if t.action.Forward {
		b = b.WithForward(t.requester(), t.action.Response[1])
	}

	c.out.Enqueue(b.Build())
	c.stats.SnoopsSent++
}

func (c *Comp) processSnoopReplies() bool {
	madeProgress := false

	for {
		item := c.rspBuf.Pop()
		if item == nil {
			break
		}

		msg := item.(*coherence.Msg)
		c.processSnoopReply(msg)

		madeProgress = true
	}

	return madeProgress
}

func (c *Comp) processSnoopReply(msg *coherence.Msg) {
	if !msg.Type.IsSnoopReply() {
		log.Panicf("directory %s received %s on the reply buffer",
			c.Name(), msg)
	}

	blk := c.blockAddr(msg.Addr)

	if msg.EvictInFlight {
		c.markStaleEvict(blk, msg.Src)
	}

	if msg.ForEvict {
		c.completeInvalidation(blk)
		return
	}

	t, ok := c.active[blk]
	if !ok || t.phase != phaseSnoop || t.req.TxnID != msg.TxnID {
		log.Panicf("directory %s received %s without a snooping transaction",
			c.Name(), msg)
	}

	t.replies++

	switch {
	case msg.Type == coherence.SnoopNAck && !t.action.Multicast:
		t.nacked = append(t.nacked, msg.Src)
	case t.action.IsTerminal(msg.Type):
		if msg.Type.SuppliesData() {
			t.supplier = msg.Src
		}
	default:
		log.Panicf("directory %s received unexpected %s for %s",
			c.Name(), msg, t.action.Snoop)
	}

	if t.replies < len(t.targets) && (t.action.Multicast || t.supplier < 0) {
		if !t.action.Multicast {
			t.allowed++
		}

		return
	}

	t.phase = phaseDone

	if t.action.Forward && t.supplier >= 0 {
		c.completeForwarded(t)
		return
	}

	c.maf.Wake(t.entry)
}

// completeForwarded ends a transaction whose supplier has already sent the
// block to the requester.
func (c *Comp) completeForwarded(t *transaction) {
	c.updateSharers(t)

	removed := c.maf.RemoveFirst(t.addr(), t.requester())
	if removed != t.entry {
		log.Panicf("directory %s removed the wrong entry for 0x%x",
			c.Name(), t.addr())
	}

	c.stats.Forwards++
	tracing.AddTaskStep(t.id, c, "forwarded")
	c.retire(t)
}

// complete applies the outcome of the transaction to the sharers and
// prepares the response.
func (c *Comp) complete(t *transaction) {
	t.phase = phaseDone
	c.updateSharers(t)

	idx := t.responseIndex()
	c.respond(t, t.action.Response[idx])

	if idx == 0 && t.category == coherence.ZeroSharers &&
		t.rsp.Type.CarriesData() {
		t.rsp.ExtraDelay = c.memLatency
	}
}

func (c *Comp) respond(t *transaction, rspType coherence.MsgType) {
	t.phase = phaseDone
	t.rsp = coherence.MakeMsgBuilder().
		WithType(rspType).
		WithSrc(c.node).
		WithDst(t.requester()).
		WithAddr(t.addr()).
		WithRequester(t.requester()).
		WithTxnID(t.req.TxnID).
		Build()

	c.maf.SetState(t.entry, maf.Finishing)
	c.finishing = append(c.finishing, t)
}

func (c *Comp) updateSharers(t *transaction) {
	req := t.requester()
	res := t.res

	switch t.reqType {
	case coherence.ReadReq, coherence.FetchReq:
		if t.category == coherence.ZeroSharers {
			if t.reqType == coherence.ReadReq {
				res.SetSharer(req)
			} else {
				res.AddSharer(req)
			}

			return
		}

		for _, core := range t.nacked {
			c.removeSharer(t, core)
		}

		res.AddSharer(req)
		res.State().SetExclusive(false)
	case coherence.WriteReq, coherence.UpgradeReq:
		res.SetSharer(req)
	default:
		c.removeSharer(t, req)
	}
}

func (c *Comp) removeSharer(t *transaction, core int) {
	st := t.res.State()

	if c.store.Precise() && !st.IsSharer(core) {
		log.Panicf("directory %s removes core %d from 0x%x, sharers %s",
			c.Name(), core, t.addr(), sharing.String(st))
	}

	if c.store.Kind() == dirstore.KindRegion &&
		c.maf.OtherRegionRequesters(t.addr(), core) {
		return
	}

	t.res.RemoveSharer(core)
}

func (c *Comp) finishTransactions() bool {
	madeProgress := false

	for len(c.finishing) > 0 && c.out.Available() {
		t := c.finishing[0]
		c.finishing[0] = nil
		c.finishing = c.finishing[1:]

		c.out.Enqueue(t.rsp)
		c.maf.Remove(t.entry)
		c.retire(t)

		madeProgress = true
	}

	return madeProgress
}

// retire releases the block of a transaction whose MAF entry is gone and
// wakes the requests that wait for the block.
func (c *Comp) retire(t *transaction) {
	blk := t.addr()

	if t.protected {
		c.store.SetProtected(blk, false)
		t.protected = false
	}

	delete(c.active, blk)
	delete(c.txns, t.entry.Handle())

	c.maf.WakeAfterEvict(blk)
	c.maf.WakeAll(maf.WaitSet)

	c.stats.Completed++
	c.stats.TotalLatency += c.now() - t.admittedAt

	tracing.EndTask(t.id, c)
}
