package privatecache

import (
	"log"

	"github.com/sarchlab/akita/v4/tracing"
	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/privatecache/internal/mshr"
	"github.com/sarchlab/cohsim/mem/privatecache/internal/tagging"
)

// processIncoming handles every message delivered to the cache. Snoops are
// always taken, so the directory never waits on a cache that is stalled.
func (c *Comp) processIncoming() bool {
	madeProgress := false

	for {
		item := c.inBuf.Pop()
		if item == nil {
			break
		}

		msg := item.(*coherence.Msg)

		switch {
		case msg.Type.IsSnoop():
			c.handleSnoop(msg)
		case msg.Type == coherence.EvictAck:
			c.handleEvictAck(msg)
		case msg.Type.IsResponse():
			c.handleFill(msg)
		default:
			log.Panicf("cache %s cannot handle %s", c.Name(), msg)
		}

		madeProgress = true
	}

	return madeProgress
}

func (c *Comp) handleEvictAck(msg *coherence.Msg) {
	blk := c.blockAddr(msg.Addr)

	if !c.evicting[blk] {
		log.Panicf("cache %s received %s without an eviction", c.Name(), msg)
	}

	delete(c.evicting, blk)
}

func (c *Comp) handleFill(msg *coherence.Msg) {
	blk := c.blockAddr(msg.Addr)

	e, err := c.mshr.RemoveEntry(blk)
	if err != nil {
		log.Panicf("cache %s received %s: %v", c.Name(), msg, err)
	}

	if e.WayID >= 0 {
		c.tags.Unlock(e.SetID, e.WayID)
	}

	block, found := c.tags.Lookup(blk)
	if !found {
		victim, ok := c.victimFinder.FindVictim(c.tags, blk)
		if !ok {
			log.Panicf("cache %s has no way for 0x%x", c.Name(), blk)
		}

		c.evict(victim)

		block = victim
		block.Tag = blk
	}

	block.State = c.fillState(e, msg)
	block.IsLocked = false
	c.tags.Update(block)
	c.tags.Visit(block)

	c.stats.TotalMissLatency += c.now() - e.IssuedAt
	tracing.EndTask(e.Req.ID, c)
}

func (c *Comp) fillState(e *mshr.Entry, rsp *coherence.Msg) LineState {
	writable := rsp.Type.Writable()

	switch {
	case e.Write && !writable:
		log.Panicf("cache %s wrote 0x%x but received %s",
			c.Name(), e.Addr, rsp)
	case writable && (e.Write || rsp.Type != coherence.MissReplyWritable):
		return tagging.Modified
	case rsp.Type == coherence.MissReplyWritable:
		return tagging.Exclusive
	}

	return tagging.Shared
}

func (c *Comp) handleSnoop(msg *coherence.Msg) {
	blk := c.blockAddr(msg.Addr)
	block, found := c.tags.Lookup(blk)

	c.stats.Snoops++

	var rspType coherence.MsgType

	switch msg.Type {
	case coherence.Invalidate:
		rspType = coherence.InvalidateAck

		if found {
			c.drop(block)
		}
	case coherence.ReturnInvalidate:
		rspType = coherence.InvalidateAck

		if found {
			if block.State.Writable() {
				rspType = coherence.InvUpdateAck
			}

			c.drop(block)
		}
	case coherence.ReturnReq:
		rspType = coherence.SnoopNAck

		if found {
			rspType = coherence.ReturnReply
			if block.State == tagging.Modified {
				rspType = coherence.ReturnReplyDirty
			}

			block.State = tagging.Shared
			c.tags.Update(block)

			if msg.FwdTo >= 0 {
				c.forward(msg, blk)
			}
		}
	}

	b := coherence.MakeMsgBuilder().
		WithType(rspType).
		WithSrc(c.core).
		WithDst(msg.Src).
		WithAddr(blk).
		WithRequester(msg.Requester).
		WithTxnID(msg.TxnID)

	if msg.ForEvict {
		b = b.ForEvict()
	}

	rsp := b.Build()
	rsp.EvictInFlight = c.evicting[blk]
	c.send(rsp)
}

// drop invalidates a block. A way locked by an upgrade stays locked until
// the response arrives.
func (c *Comp) drop(block tagging.Block) {
	block.State = tagging.Invalid
	c.tags.Update(block)
}

// forward sends the block to the requester on behalf of the directory. It
// is queued before the snoop reply.
func (c *Comp) forward(snoop *coherence.Msg, blk uint64) {
	fwd := coherence.MakeMsgBuilder().
		WithType(snoop.FwdType).
		WithSrc(c.core).
		WithDst(snoop.FwdTo).
		WithAddr(blk).
		WithRequester(snoop.Requester).
		WithTxnID(snoop.TxnID).
		Build()
	c.send(fwd)

	c.stats.ForwardsSent++
}
