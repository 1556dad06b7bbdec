// Package privatecache provides the private cache of a core. The cache runs
// a workload, asks the directory for the blocks it misses, and answers the
// snoops of the directory.
package privatecache

import (
	"log"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/mem"
	"github.com/sarchlab/cohsim/mem/privatecache/internal/mshr"
	"github.com/sarchlab/cohsim/mem/privatecache/internal/tagging"
)

// LineState is the coherence state of a cached block.
type LineState = tagging.LineState

// The line states.
const (
	Invalid   = tagging.Invalid
	Shared    = tagging.Shared
	Exclusive = tagging.Exclusive
	Modified  = tagging.Modified
)

// OutQueue is where the cache sends messages of one network channel.
type OutQueue interface {
	Available() bool
	Enqueue(msg *coherence.Msg)
}

// Line is a block held by a cache.
type Line struct {
	Addr  uint64
	State LineState
}

// Stats counts what a cache did.
type Stats struct {
	Reads   uint64
	Writes  uint64
	Fetches uint64

	Hits     uint64
	Misses   uint64
	Upgrades uint64

	Evictions   uint64
	SilentDrops uint64

	Snoops       uint64
	ForwardsSent uint64

	TotalMissLatency uint64
}

// Accesses returns the number of accesses the cache served.
func (s Stats) Accesses() uint64 {
	return s.Reads + s.Writes + s.Fetches
}

// Comp is a private cache.
type Comp struct {
	*sim.TickingComponent

	core         int
	numCores     int
	blockSize    uint64
	numWays      int
	propagateCEs bool
	mapper       mem.AddressToBankMapper

	tags         tagging.TagArray
	victimFinder tagging.VictimFinder
	mshr         mshr.MSHR

	inBuf     sim.Buffer
	reqOut    OutQueue
	rspOut    OutQueue
	reqOutbox []*coherence.Msg
	rspOutbox []*coherence.Msg

	workload Workload
	evicting map[uint64]bool

	stats Stats
}

// Core returns the index of the core, which is also its network node.
func (c *Comp) Core() int {
	return c.core
}

// InBuffer returns the buffer that snoops and responses are pushed into.
func (c *Comp) InBuffer() sim.Buffer {
	return c.inBuf
}

// SetOutQueues sets where requests and snoop replies are sent.
func (c *Comp) SetOutQueues(req, rsp OutQueue) {
	c.reqOut = req
	c.rspOut = rsp
}

// SetWorkload sets the accesses that the cache runs.
func (c *Comp) SetWorkload(w Workload) {
	c.workload = w
}

// Stats returns the counters of the cache.
func (c *Comp) Stats() Stats {
	return c.stats
}

// Done tells if the workload is finished and nothing is in flight.
func (c *Comp) Done() bool {
	if c.workload != nil {
		if _, more := c.workload.Peek(); more {
			return false
		}
	}

	return len(c.mshr.Entries()) == 0 && len(c.evicting) == 0 &&
		len(c.reqOutbox) == 0 && len(c.rspOutbox) == 0 &&
		c.inBuf.Size() == 0
}

// Lines returns the valid blocks of the cache.
func (c *Comp) Lines() []Line {
	var lines []Line

	c.tags.ForEachValid(func(b tagging.Block) {
		lines = append(lines, Line{Addr: b.Tag, State: b.State})
	})

	return lines
}

// LineState returns the state of the block that holds the address.
func (c *Comp) LineState(addr uint64) LineState {
	block, found := c.tags.Lookup(c.blockAddr(addr))
	if !found {
		return Invalid
	}

	return block.State
}

// holds tells if a valid block or a pending miss matches.
func (c *Comp) holds(match func(blockAddr uint64) bool) bool {
	found := false

	c.tags.ForEachValid(func(b tagging.Block) {
		if !found && match(b.Tag) {
			found = true
		}
	})

	if found {
		return true
	}

	for _, e := range c.mshr.Entries() {
		if match(e.Addr) {
			return true
		}
	}

	return false
}

func (c *Comp) blockAddr(addr uint64) uint64 {
	return addr &^ (c.blockSize - 1)
}

func (c *Comp) home(addr uint64) int {
	return c.numCores + c.mapper.Find(addr)
}

func (c *Comp) now() uint64 {
	return c.Freq.Cycle(c.CurrentTime())
}

// Tick runs one cycle of the cache.
func (c *Comp) Tick() bool {
	if c.reqOut == nil || c.rspOut == nil {
		log.Panicf("cache %s has no out queue", c.Name())
	}

	madeProgress := false

	madeProgress = c.processIncoming() || madeProgress
	madeProgress = c.issue() || madeProgress
	madeProgress = c.sendOutbox() || madeProgress

	return madeProgress
}

func (c *Comp) send(msg *coherence.Msg) {
	if msg.Type.IsRequest() {
		c.reqOutbox = append(c.reqOutbox, msg)
		return
	}

	c.rspOutbox = append(c.rspOutbox, msg)
}

func (c *Comp) sendOutbox() bool {
	madeProgress := false

	for len(c.rspOutbox) > 0 && c.rspOut.Available() {
		c.rspOut.Enqueue(c.rspOutbox[0])
		c.rspOutbox[0] = nil
		c.rspOutbox = c.rspOutbox[1:]
		madeProgress = true
	}

	for len(c.reqOutbox) > 0 && c.reqOut.Available() {
		c.reqOut.Enqueue(c.reqOutbox[0])
		c.reqOutbox[0] = nil
		c.reqOutbox = c.reqOutbox[1:]
		madeProgress = true
	}

	return madeProgress
}
