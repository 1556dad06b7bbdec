package directory

import (
	"log"

	"github.com/sarchlab/akita/v4/tracing"
	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/directory/internal/maf"
)

func (c *Comp) admitRequests() bool {
	madeProgress := false

	for i := 0; i < c.numReqPerCycle; i++ {
		item := c.reqBuf.Peek()
		if item == nil {
			break
		}

		if c.maf.Full() {
			c.stats.MAFStalls++
			break
		}

		c.reqBuf.Pop()
		c.admit(item.(*coherence.Msg))

		madeProgress = true
	}

	return madeProgress
}

func (c *Comp) admit(req *coherence.Msg) {
	if !req.Type.IsRequest() {
		log.Panicf("directory %s received %s on the request buffer",
			c.Name(), req)
	}

	if req.Dst != c.node {
		log.Panicf("directory %s (node %d) received %s", c.Name(), c.node, req)
	}

	blk := c.blockAddr(req.Addr)
	c.stats.Requests[req.Type]++

	var state maf.State

	switch {
	case c.maf.HasAddr(blk):
		state = maf.WaitRequest
	case c.eb.Contains(blk):
		state = maf.WaitEvict
	default:
		state = maf.InPipeline
	}

	e := c.maf.Insert(req, blk, state, nil)
	t := &transaction{
		id:         "dir-txn-" + req.ID,
		entry:      e,
		req:        req,
		supplier:   -1,
		admittedAt: c.now(),
	}
	c.txns[e.Handle()] = t

	tracing.StartTask(t.id, req.TxnID, c, "dir_txn", req.Type.String(), req)

	c.applyStaleEvict(e)

	if state != maf.InPipeline {
		tracing.AddTaskStep(t.id, c, state.String())
		return
	}

	c.active[blk] = t

	if c.lookupLatency == 0 {
		c.start(t)
		return
	}

	c.pipeline = append(c.pipeline, pipelineItem{
		txn:   t,
		ready: c.now() + uint64(c.lookupLatency),
	})
}

func (c *Comp) applyStaleEvict(e *maf.Entry) {
	if !e.Txn().Type.IsEviction() {
		return
	}

	key := staleKey{addr: e.Addr(), core: e.Requester()}
	if !c.staleEvicts[key] {
		return
	}

	delete(c.staleEvicts, key)
	c.maf.MarkStaleEvict(e)
}

// markStaleEvict records that a core answered a snoop while its eviction of
// the block was still on the way. The eviction must not change the sharers
// when it is processed.
func (c *Comp) markStaleEvict(addr uint64, core int) {
	c.stats.StaleEvicts++

	for _, e := range c.maf.Find(addr) {
		if e.Requester() != core || !e.Txn().Type.IsEviction() ||
			e.StaleEvict() {
			continue
		}

		if t := c.txns[e.Handle()]; t != nil && t.phase != phaseLookup {
			continue
		}

		c.maf.MarkStaleEvict(e)

		return
	}

	c.staleEvicts[staleKey{addr: addr, core: core}] = true
}

func (c *Comp) advancePipeline() bool {
	if len(c.pipeline) == 0 {
		return false
	}

	now := c.now()

	for len(c.pipeline) > 0 && c.pipeline[0].ready <= now {
		t := c.pipeline[0].txn
		c.pipeline[0] = pipelineItem{}
		c.pipeline = c.pipeline[1:]

		c.start(t)
	}

	return true
}

// dispatchWaking takes the oldest woken entry. An entry whose transaction
// owns its block continues. Other entries start if nothing blocks them.
func (c *Comp) dispatchWaking() bool {
	e, ok := c.maf.GetWakingMAF()
	if !ok {
		return false
	}

	t := c.txns[e.Handle()]
	blk := e.Addr()

	if owner, ok := c.active[blk]; ok {
		if owner != t {
			c.maf.SetState(e, maf.WaitRequest)
			return true
		}

		if t.phase == phaseDone {
			c.complete(t)
		} else {
			c.start(t)
		}

		return true
	}

	if c.eb.Contains(blk) {
		c.maf.SetState(e, maf.WaitEvict)
		return true
	}

	c.active[blk] = t
	c.start(t)

	return true
}
