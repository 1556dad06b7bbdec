package dirstore

import (
	"io"
	"log"

	"github.com/sarchlab/cohsim/mem/coherence/sharing"
)

// Infinite is a directory that never evicts.
type Infinite struct {
	blockSize uint64
	factory   sharing.Factory
	entries   map[uint64]*Way
}

// NewInfinite creates an infinite directory.
func NewInfinite(blockSize uint64, factory sharing.Factory) *Infinite {
	mustBePowerOfTwo("block size", blockSize)

	return &Infinite{
		blockSize: blockSize,
		factory:   factory,
		entries:   make(map[uint64]*Way),
	}
}

// Kind returns KindInfinite.
func (s *Infinite) Kind() Kind {
	return KindInfinite
}

type infiniteResult struct {
	store *Infinite
	addr  uint64
	way   *Way
	empty sharing.State
}

func (r *infiniteResult) Found() bool { return r.way != nil }

func (r *infiniteResult) State() sharing.State {
	if r.way == nil {
		return r.empty
	}

	return r.way.State
}

func (r *infiniteResult) mustBeFound() {
	if r.way == nil {
		log.Panicf("block 0x%x is not in the directory", r.addr)
	}
}

func (r *infiniteResult) AddSharer(core int) {
	r.mustBeFound()
	r.way.State.AddSharer(core)
}

func (r *infiniteResult) RemoveSharer(core int) {
	r.mustBeFound()
	r.way.State.RemoveSharer(core)
}

func (r *infiniteResult) SetSharer(core int) {
	r.mustBeFound()
	r.way.State.SetSharer(core)
}

func (r *infiniteResult) SetState(st sharing.State) {
	r.mustBeFound()
	r.way.State = st
}

func (r *infiniteResult) BlockAddress() uint64 { return r.addr }

// Lookup finds the entry of a block.
func (s *Infinite) Lookup(addr uint64) LookupResult {
	blk := addr &^ (s.blockSize - 1)
	res := &infiniteResult{store: s, addr: blk, way: s.entries[blk]}

	if res.way == nil {
		res.empty = s.factory.NewState()
	}

	return res
}

// CanAllocate returns true.
func (s *Infinite) CanAllocate() bool { return true }

// HasVictim returns true.
func (s *Infinite) HasVictim(res LookupResult) bool { return true }

// EvictionCost returns 0.
func (s *Infinite) EvictionCost(res LookupResult) int { return 0 }

// Allocate adds an entry for the block.
func (s *Infinite) Allocate(
	res LookupResult,
	addr uint64,
	state sharing.State,
) ([]Evicted, error) {
	r, ok := res.(*infiniteResult)
	if !ok || r.store != s {
		panic("lookup result does not belong to this directory")
	}

	if r.way != nil {
		log.Panicf("allocating block 0x%x that is already present", r.addr)
	}

	r.way = &Way{Valid: true, Tag: r.addr, State: state}
	r.empty = nil
	s.entries[r.addr] = r.way

	return nil, nil
}

// SetProtected does nothing. Entries are never evicted.
func (s *Infinite) SetProtected(addr uint64, protected bool) {}

// Precise tells if the sharing states are exact.
func (s *Infinite) Precise() bool {
	_, exact := s.factory.(sharing.ExactFactory)
	return exact
}

// Occupancy returns the number of entries with sharers.
func (s *Infinite) Occupancy() int {
	n := 0

	for _, w := range s.entries {
		if !w.Empty() {
			n++
		}
	}

	return n
}

// SaveState is not supported.
func (s *Infinite) SaveState(w io.Writer) error {
	return ErrCheckpointUnsupported
}

// LoadState is not supported.
func (s *Infinite) LoadState(r io.Reader) error {
	return ErrCheckpointUnsupported
}
