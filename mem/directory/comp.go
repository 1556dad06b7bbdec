// Package directory provides the directory controller, which keeps the
// private caches of a multi-core system coherent.
package directory

import (
	"errors"
	"io"
	"log"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/coherence/sharing"
	"github.com/sarchlab/cohsim/mem/directory/internal/dirstore"
	"github.com/sarchlab/cohsim/mem/directory/internal/evictbuf"
	"github.com/sarchlab/cohsim/mem/directory/internal/maf"
	"github.com/sarchlab/cohsim/noc/topology"
)

// Comp is a directory bank. It receives requests from the private caches,
// snoops the sharers that the protocol table asks for, and replies to the
// requesters.
type Comp struct {
	*sim.TickingComponent

	bank      int
	node      int
	numCores  int
	blockSize uint64

	reqBuf sim.Buffer
	rspBuf sim.Buffer
	out    OutQueue

	topo  topology.Topology
	store dirstore.Store
	maf   *maf.MAF
	eb    *evictbuf.Buffer
	table *coherence.Table

	numReqPerCycle int
	lookupLatency  int
	memLatency     int
	optimize3hop   bool

	txns         map[maf.Handle]*transaction
	active       map[uint64]*transaction
	pipeline     []pipelineItem
	snooping     []*transaction
	finishing    []*transaction
	invalidating []*invalidation
	staleEvicts  map[staleKey]bool

	stats Stats
}

// Bank returns the index of the bank.
func (c *Comp) Bank() int {
	return c.bank
}

// Node returns the network node of the bank.
func (c *Comp) Node() int {
	return c.node
}

// RequestBuffer returns the buffer that incoming requests are pushed into.
func (c *Comp) RequestBuffer() sim.Buffer {
	return c.reqBuf
}

// ReplyBuffer returns the buffer that incoming snoop replies are pushed
// into.
func (c *Comp) ReplyBuffer() sim.Buffer {
	return c.rspBuf
}

// SetOutQueue sets where the bank sends snoops and responses.
func (c *Comp) SetOutQueue(q OutQueue) {
	c.out = q
}

// Stats returns a copy of the counters.
func (c *Comp) Stats() Stats {
	return c.stats.clone()
}

// StoreKind returns the variant of the directory store.
func (c *Comp) StoreKind() string {
	return c.store.Kind().String()
}

// Occupancy returns the number of directory entries that have sharers.
func (c *Comp) Occupancy() int {
	return c.store.Occupancy()
}

// Sharers returns a copy of the sharing state of a block. The lookup counts
// as a use of the entry.
func (c *Comp) Sharers(addr uint64) (sharing.State, bool) {
	res := c.store.Lookup(addr)
	if !res.Found() {
		return nil, false
	}

	return res.State().Clone(), true
}

// Idle tells if the bank has no request in flight and no eviction to drain.
func (c *Comp) Idle() bool {
	return c.maf.Empty() && c.eb.Empty() &&
		c.reqBuf.Size() == 0 && c.rspBuf.Size() == 0
}

// ErrBusy is returned when a checkpoint is taken while transactions are in
// flight.
var ErrBusy = errors.New("directory bank has transactions in flight")

// SaveState writes the directory entries of the bank.
func (c *Comp) SaveState(w io.Writer) error {
	if !c.Idle() {
		return ErrBusy
	}

	return c.store.SaveState(w)
}

// LoadState restores the directory entries of the bank.
func (c *Comp) LoadState(r io.Reader) error {
	if !c.Idle() {
		return ErrBusy
	}

	return c.store.LoadState(r)
}

func (c *Comp) now() uint64 {
	return c.Freq.Cycle(c.CurrentTime())
}

func (c *Comp) blockAddr(addr uint64) uint64 {
	return addr &^ (c.blockSize - 1)
}

// Tick runs one cycle of the bank.
func (c *Comp) Tick() bool {
	if c.out == nil {
		log.Panicf("directory %s has no out queue", c.Name())
	}

	madeProgress := false

	madeProgress = c.finishTransactions() || madeProgress
	madeProgress = c.sendSnoops() || madeProgress
	madeProgress = c.processSnoopReplies() || madeProgress
	madeProgress = c.startEvictionInvalidate() || madeProgress
	madeProgress = c.dispatchWaking() || madeProgress
	madeProgress = c.advancePipeline() || madeProgress
	madeProgress = c.admitRequests() || madeProgress

	return madeProgress
}
