package privatecache

import (
	"log"

	"github.com/sarchlab/akita/v4/tracing"
	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/privatecache/internal/mshr"
	"github.com/sarchlab/cohsim/mem/privatecache/internal/tagging"
)

// issue serves the next access of the workload, either from the cache or
// by sending a request to the directory. Accesses are served in order, so a
// blocked access stalls the core.
func (c *Comp) issue() bool {
	if c.workload == nil {
		return false
	}

	access, ok := c.workload.Peek()
	if !ok {
		return false
	}

	blk := c.blockAddr(access.Addr)

	if c.evicting[blk] {
		return false
	}

	if _, pending := c.mshr.Lookup(blk); pending {
		return false
	}

	block, hit := c.tags.Lookup(blk)
	if hit && canServe(block.State, access.Op) {
		c.hit(block, access)
		return true
	}

	_, setID := c.tags.GetSet(blk)
	if c.mshr.IsFull() || c.mshr.CountInSet(setID) >= c.numWays {
		return false
	}

	if hit {
		c.upgrade(block, access)
	} else {
		c.miss(blk, setID, access)
	}

	return true
}

func canServe(state tagging.LineState, op Op) bool {
	if op == OpWrite {
		return state.Writable()
	}

	return state != tagging.Invalid
}

func (c *Comp) count(op Op) {
	switch op {
	case OpRead:
		c.stats.Reads++
	case OpWrite:
		c.stats.Writes++
	case OpFetch:
		c.stats.Fetches++
	}
}

func (c *Comp) hit(block tagging.Block, access Access) {
	if access.Op == OpWrite {
		block.State = tagging.Modified
		c.tags.Update(block)
	}

	c.tags.Visit(block)
	c.workload.Pop()
	c.count(access.Op)
	c.stats.Hits++
}

// upgrade asks for write permission on a shared block. The way stays locked
// so that the block is not chosen as a victim while the request is out.
func (c *Comp) upgrade(block tagging.Block, access Access) {
	c.tags.Lock(block.SetID, block.WayID)

	req := c.request(coherence.UpgradeReq, block.Tag)
	c.addMSHREntry(&mshr.Entry{
		Addr:     block.Tag,
		SetID:    block.SetID,
		Write:    true,
		Req:      req,
		IssuedAt: c.now(),
		WayID:    block.WayID,
	})

	c.workload.Pop()
	c.count(access.Op)
	c.stats.Upgrades++
}

func (c *Comp) miss(blk uint64, setID int, access Access) {
	var reqType coherence.MsgType

	switch access.Op {
	case OpRead:
		reqType = coherence.ReadReq
	case OpWrite:
		reqType = coherence.WriteReq
	case OpFetch:
		reqType = coherence.FetchReq
	}

	req := c.request(reqType, blk)
	c.addMSHREntry(&mshr.Entry{
		Addr:     blk,
		SetID:    setID,
		Write:    access.Op == OpWrite,
		Req:      req,
		IssuedAt: c.now(),
		WayID:    -1,
	})

	c.workload.Pop()
	c.count(access.Op)
	c.stats.Misses++
}

func (c *Comp) request(t coherence.MsgType, blk uint64) *coherence.Msg {
	req := coherence.MakeMsgBuilder().
		WithType(t).
		WithSrc(c.core).
		WithDst(c.home(blk)).
		WithAddr(blk).
		WithRequester(c.core).
		Build()
	c.send(req)

	return req
}

func (c *Comp) addMSHREntry(e *mshr.Entry) {
	if err := c.mshr.AddEntry(e); err != nil {
		log.Panicf("cache %s: %v", c.Name(), err)
	}

	tracing.StartTask(e.Req.ID, "", c, "cache_miss", e.Req.Type.String(), e.Req)
}

// evict drops the victim block and tells the directory if the protocol
// expects it to know.
func (c *Comp) evict(victim tagging.Block) {
	if !victim.IsValid() {
		return
	}

	var t coherence.MsgType

	switch victim.State {
	case tagging.Modified:
		t = coherence.EvictDirty
	case tagging.Exclusive:
		t = coherence.EvictWritable
	default:
		t = coherence.EvictClean
	}

	if t != coherence.EvictDirty && !c.propagateCEs {
		c.stats.SilentDrops++
		return
	}

	c.evicting[victim.Tag] = true
	c.request(t, victim.Tag)
	c.stats.Evictions++
}
