// Package evictbuf provides the eviction buffer, which holds the directory
// entries that were evicted while their sharers still hold the block.
package evictbuf

import (
	"log"

	"github.com/sarchlab/cohsim/mem/coherence/sharing"
)

// Entry is a copy of an eviction buffer entry.
type Entry struct {
	Addr                uint64
	State               sharing.State
	Pending             int
	InvalidatesRequired bool
}

type slot struct {
	valid    bool
	addr     uint64
	state    sharing.State
	pending  int
	required bool
}

// Buffer is an eviction buffer with a fixed capacity. Entries live in a
// dense arena and are ordered by insertion.
type Buffer struct {
	capacity    int
	reserved    int
	invalidates int

	arena  []slot
	free   []int
	order  []int
	byAddr map[uint64]int
}

// New creates an eviction buffer that holds up to capacity entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic("eviction buffer capacity must be positive")
	}

	b := &Buffer{
		capacity: capacity,
		arena:    make([]slot, capacity),
		free:     make([]int, 0, capacity),
		byAddr:   make(map[uint64]int),
	}

	for i := capacity - 1; i >= 0; i-- {
		b.free = append(b.free, i)
	}

	return b
}

// Capacity returns the number of slots.
func (b *Buffer) Capacity() int { return b.capacity }

// Used returns the number of entries.
func (b *Buffer) Used() int { return len(b.order) }

// Reserved returns the number of reserved slots.
func (b *Buffer) Reserved() int { return b.reserved }

// Invalidates returns the number of entries that wait for invalidation
// acknowledgments.
func (b *Buffer) Invalidates() int { return b.invalidates }

// Full tells if no slot is free for insertion or reservation.
func (b *Buffer) Full() bool {
	return b.Used()+b.reserved >= b.capacity
}

// Empty tells if there are no entries.
func (b *Buffer) Empty() bool {
	return b.Used() == 0
}

// CanReserve tells if n more slots can be reserved.
func (b *Buffer) CanReserve(n int) bool {
	return b.Used()+b.reserved+n <= b.capacity
}

// Reserve holds n slots for later insertions.
func (b *Buffer) Reserve(n int) {
	if !b.CanReserve(n) {
		log.Panicf("eviction buffer reserve %d past capacity: "+
			"used %d, reserved %d, capacity %d",
			n, b.Used(), b.reserved, b.capacity)
	}

	b.reserved += n
}

// Unreserve releases n slots held by Reserve.
func (b *Buffer) Unreserve(n int) {
	if n > b.reserved {
		log.Panicf("eviction buffer unreserve %d with %d reserved",
			n, b.reserved)
	}

	b.reserved -= n
}

// Insert adds an evicted entry. The state is owned by the buffer afterwards.
func (b *Buffer) Insert(addr uint64, state sharing.State) {
	if b.Full() {
		log.Panicf("eviction buffer insert 0x%x past capacity", addr)
	}

	if _, ok := b.byAddr[addr]; ok {
		log.Panicf("eviction buffer already holds 0x%x", addr)
	}

	i := b.free[len(b.free)-1]
	b.free = b.free[:len(b.free)-1]

	b.arena[i] = slot{
		valid:    true,
		addr:     addr,
		state:    state,
		required: !state.NoSharers(),
	}
	b.order = append(b.order, i)
	b.byAddr[addr] = i
}

func (b *Buffer) mustFind(addr uint64) *slot {
	i, ok := b.byAddr[addr]
	if !ok {
		log.Panicf("eviction buffer does not hold 0x%x", addr)
	}

	return &b.arena[i]
}

func (s *slot) entry() Entry {
	return Entry{
		Addr:                s.addr,
		State:               s.state,
		Pending:             s.pending,
		InvalidatesRequired: s.required,
	}
}

// Find returns the entry of the address.
func (b *Buffer) Find(addr uint64) (Entry, bool) {
	i, ok := b.byAddr[addr]
	if !ok {
		return Entry{}, false
	}

	return b.arena[i].entry(), true
}

// Contains tells if the buffer holds the address.
func (b *Buffer) Contains(addr uint64) bool {
	_, ok := b.byAddr[addr]
	return ok
}

// Remove deletes the entry of the address.
func (b *Buffer) Remove(addr uint64) {
	s := b.mustFind(addr)
	i := b.byAddr[addr]

	if s.pending > 0 {
		b.invalidates--
	}

	*s = slot{}
	delete(b.byAddr, addr)
	b.free = append(b.free, i)

	for k, idx := range b.order {
		if idx == i {
			b.order = append(b.order[:k], b.order[k+1:]...)
			break
		}
	}
}

// SetInvalidatesPending records that n invalidations were sent for the
// entry. The entry no longer requires invalidations to be started.
func (b *Buffer) SetInvalidatesPending(addr uint64, n int) {
	s := b.mustFind(addr)

	if n < 0 {
		log.Panicf("negative pending invalidations for 0x%x", addr)
	}

	if s.pending > 0 {
		log.Panicf("invalidations of 0x%x already pending", addr)
	}

	s.required = false
	s.pending = n

	if n > 0 {
		b.invalidates++
	}
}

// SetInvalidatesRequired marks whether the entry still needs invalidations
// to be started.
func (b *Buffer) SetInvalidatesRequired(addr uint64, required bool) {
	b.mustFind(addr).required = required
}

// CompleteInvalidate records one invalidation acknowledgment. It returns
// true when the entry has no more pending invalidations.
func (b *Buffer) CompleteInvalidate(addr uint64) bool {
	s := b.mustFind(addr)

	if s.pending == 0 {
		log.Panicf("unexpected invalidation ack for 0x%x", addr)
	}

	s.pending--
	if s.pending > 0 {
		return false
	}

	b.invalidates--

	return true
}

// Done tells if the entry needs no more invalidations.
func (b *Buffer) Done(addr uint64) bool {
	s := b.mustFind(addr)
	return !s.required && s.pending == 0
}

// OldestRequiringInvalidates returns the oldest entry whose invalidations
// have not been started.
func (b *Buffer) OldestRequiringInvalidates() (Entry, bool) {
	for _, i := range b.order {
		s := &b.arena[i]
		if s.required && s.pending == 0 {
			return s.entry(), true
		}
	}

	return Entry{}, false
}

// FreeSlotsPending tells if a slot is free or will be freed once pending
// invalidations complete.
func (b *Buffer) FreeSlotsPending() bool {
	return b.invalidates > 0 || b.Used()+b.reserved < b.capacity
}

// Entries returns copies of all entries in insertion order.
func (b *Buffer) Entries() []Entry {
	out := make([]Entry, 0, len(b.order))
	for _, i := range b.order {
		out = append(out, b.arena[i].entry())
	}

	return out
}
