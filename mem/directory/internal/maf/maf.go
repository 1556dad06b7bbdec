// Package maf provides the Miss-Address-File, which tracks the transactions
// that a directory bank is working on or has parked.
package maf

import (
	"fmt"
	"log"
	"sort"

	"github.com/google/btree"
	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/coherence/sharing"
)

// State is the state of a MAF entry.
type State int

// All the states of a MAF entry.
const (
	WaitSet State = iota
	WaitRequest
	WaitEvict
	WaitAck
	Waking
	InPipeline
	WaitRevoke
	Finishing
)

func (s State) String() string {
	switch s {
	case WaitSet:
		return "WaitSet"
	case WaitRequest:
		return "WaitRequest"
	case WaitEvict:
		return "WaitEvict"
	case WaitAck:
		return "WaitAck"
	case Waking:
		return "Waking"
	case InPipeline:
		return "InPipeline"
	case WaitRevoke:
		return "WaitRevoke"
	case Finishing:
		return "Finishing"
	}

	return fmt.Sprintf("State(%d)", int(s))
}

// Handle identifies a MAF entry. Handles increase in insertion order and are
// never reused.
type Handle uint64

// Entry is a transaction tracked by the MAF. Its fields can only be changed
// through the MAF.
type Entry struct {
	handle     Handle
	addr       uint64
	state      State
	txn        *coherence.Msg
	snapshot   sharing.State
	ebReserved int
	staleEvict bool
}

// Handle returns the handle of the entry.
func (e *Entry) Handle() Handle { return e.handle }

// Addr returns the block address of the entry.
func (e *Entry) Addr() uint64 { return e.addr }

// State returns the current state of the entry.
func (e *Entry) State() State { return e.state }

// Txn returns the request that created the entry.
func (e *Entry) Txn() *coherence.Msg { return e.txn }

// Requester returns the core that sent the request.
func (e *Entry) Requester() int { return e.txn.Requester }

// Snapshot returns the sharing state recorded when the entry was inserted.
// It may be nil.
func (e *Entry) Snapshot() sharing.State { return e.snapshot }

// CacheEBReserved returns the number of eviction-buffer slots that the entry
// holds.
func (e *Entry) CacheEBReserved() int { return e.ebReserved }

// StaleEvict tells if the entry is an eviction that a racing invalidation
// has already applied.
func (e *Entry) StaleEvict() bool { return e.staleEvict }

type addrKey struct {
	addr  uint64
	state State
	h     Handle
}

func addrLess(a, b addrKey) bool {
	if a.addr != b.addr {
		return a.addr < b.addr
	}

	if a.state != b.state {
		return a.state < b.state
	}

	return a.h < b.h
}

type stateKey struct {
	state State
	h     Handle
}

func stateLess(a, b stateKey) bool {
	if a.state != b.state {
		return a.state < b.state
	}

	return a.h < b.h
}

func handleLess(a, b Handle) bool {
	return a < b
}

// MAF is a Miss-Address-File with a fixed number of entries.
type MAF struct {
	size     int
	reserved int
	nextID   Handle

	entries    map[Handle]*Entry
	byAddr     *btree.BTreeG[addrKey]
	byState    *btree.BTreeG[stateKey]
	byArrival  *btree.BTreeG[Handle]
	regionOf   func(addr uint64) uint64
	regionReqs map[uint64]map[int]int
}

// New creates a MAF that can hold size entries.
func New(size int) *MAF {
	if size <= 0 {
		panic("MAF size must be positive")
	}

	return &MAF{
		size:       size,
		nextID:     1,
		entries:    make(map[Handle]*Entry),
		byAddr:     btree.NewG(16, addrLess),
		byState:    btree.NewG(16, stateLess),
		byArrival:  btree.NewG(16, handleLess),
		regionOf:   func(addr uint64) uint64 { return addr },
		regionReqs: make(map[uint64]map[int]int),
	}
}

// WithRegionMapper sets the function that maps an address to its region.
// It must be set before any entry is inserted.
func (m *MAF) WithRegionMapper(f func(addr uint64) uint64) *MAF {
	if len(m.entries) > 0 {
		panic("cannot change the region mapper of a non-empty MAF")
	}

	m.regionOf = f

	return m
}

// Size returns the capacity.
func (m *MAF) Size() int { return m.size }

// Used returns the number of entries.
func (m *MAF) Used() int { return len(m.entries) }

// Reserved returns the number of reserved slots.
func (m *MAF) Reserved() int { return m.reserved }

// Full tells if no slot can be inserted or reserved.
func (m *MAF) Full() bool {
	return m.Used()+m.reserved >= m.size
}

// Empty tells if there are no entries and no reservations.
func (m *MAF) Empty() bool {
	return m.Used()+m.reserved == 0
}

// Reserve holds a slot for a later insertion.
func (m *MAF) Reserve() {
	if m.Full() {
		log.Panicf("MAF reserve past capacity: used %d, reserved %d, size %d",
			m.Used(), m.reserved, m.size)
	}

	m.reserved++
}

// Unreserve releases a slot held by Reserve.
func (m *MAF) Unreserve() {
	if m.reserved == 0 {
		panic("MAF unreserve without reservation")
	}

	m.reserved--
}

// Insert adds an entry for a request.
func (m *MAF) Insert(
	txn *coherence.Msg,
	addr uint64,
	state State,
	snapshot sharing.State,
) *Entry {
	if txn == nil {
		panic("MAF entry without a transaction")
	}

	if m.Full() {
		log.Panicf("MAF insert past capacity: used %d, reserved %d, size %d",
			m.Used(), m.reserved, m.size)
	}

	e := &Entry{
		handle:   m.nextID,
		addr:     addr,
		state:    state,
		txn:      txn,
		snapshot: snapshot,
	}
	m.nextID++

	m.entries[e.handle] = e
	m.index(e)
	m.countRegion(addr, txn.Requester, 1)

	return e
}

func (m *MAF) index(e *Entry) {
	m.byAddr.ReplaceOrInsert(addrKey{e.addr, e.state, e.handle})
	m.byState.ReplaceOrInsert(stateKey{e.state, e.handle})
	m.byArrival.ReplaceOrInsert(e.handle)
}

func (m *MAF) unindex(e *Entry) {
	m.byAddr.Delete(addrKey{e.addr, e.state, e.handle})
	m.byState.Delete(stateKey{e.state, e.handle})
	m.byArrival.Delete(e.handle)
}

func (m *MAF) countRegion(addr uint64, requester int, delta int) {
	region := m.regionOf(addr)

	reqs, ok := m.regionReqs[region]
	if !ok {
		reqs = make(map[int]int)
		m.regionReqs[region] = reqs
	}

	reqs[requester] += delta

	switch {
	case reqs[requester] < 0:
		log.Panicf("negative request count for requester %d in region 0x%x",
			requester, region)
	case reqs[requester] == 0:
		delete(reqs, requester)
	}

	if len(reqs) == 0 {
		delete(m.regionReqs, region)
	}
}

func (m *MAF) mustOwn(e *Entry) {
	if e == nil || m.entries[e.handle] != e {
		panic("entry is not in the MAF")
	}
}

// SetState moves an entry to a new state.
func (m *MAF) SetState(e *Entry, state State) {
	m.mustOwn(e)

	if e.state == state {
		return
	}

	m.byAddr.Delete(addrKey{e.addr, e.state, e.handle})
	m.byState.Delete(stateKey{e.state, e.handle})

	e.state = state

	m.byAddr.ReplaceOrInsert(addrKey{e.addr, e.state, e.handle})
	m.byState.ReplaceOrInsert(stateKey{e.state, e.handle})
}

// SetSnapshot replaces the recorded sharing state of an entry.
func (m *MAF) SetSnapshot(e *Entry, snapshot sharing.State) {
	m.mustOwn(e)
	e.snapshot = snapshot
}

// SetCacheEBReserved records how many eviction-buffer slots the entry holds.
func (m *MAF) SetCacheEBReserved(e *Entry, n int) {
	m.mustOwn(e)

	if n < 0 {
		panic("negative eviction buffer reservation")
	}

	e.ebReserved = n
}

// MarkStaleEvict marks an eviction entry as already applied.
func (m *MAF) MarkStaleEvict(e *Entry) {
	m.mustOwn(e)

	if !e.txn.Type.IsEviction() {
		log.Panicf("marking %s as a stale eviction", e.txn.Type)
	}

	e.staleEvict = true
}

// Wake moves an entry to Waking.
func (m *MAF) Wake(e *Entry) {
	m.SetState(e, Waking)
}

// WakeAfterEvict wakes every entry of the address that waits for an
// eviction or for another request.
func (m *MAF) WakeAfterEvict(addr uint64) int {
	n := 0

	for _, e := range m.FindAll(addr, WaitEvict) {
		m.Wake(e)
		n++
	}

	for _, e := range m.FindAll(addr, WaitRequest) {
		m.Wake(e)
		n++
	}

	return n
}

// WakeAll wakes every entry in the given state.
func (m *MAF) WakeAll(state State) int {
	var waking []*Entry

	m.byState.AscendRange(
		stateKey{state, 0},
		stateKey{state + 1, 0},
		func(k stateKey) bool {
			waking = append(waking, m.entries[k.h])
			return true
		})

	for _, e := range waking {
		m.Wake(e)
	}

	return len(waking)
}

// GetWakingMAF returns the oldest entry in Waking.
func (m *MAF) GetWakingMAF() (*Entry, bool) {
	var found *Entry

	m.byState.AscendRange(
		stateKey{Waking, 0},
		stateKey{Waking + 1, 0},
		func(k stateKey) bool {
			found = m.entries[k.h]
			return false
		})

	return found, found != nil
}

// Find returns all the entries of an address in insertion order.
func (m *MAF) Find(addr uint64) []*Entry {
	var out []*Entry

	m.byAddr.AscendGreaterOrEqual(
		addrKey{addr, 0, 0},
		func(k addrKey) bool {
			if k.addr != addr {
				return false
			}

			out = append(out, m.entries[k.h])

			return true
		})

	sort.Slice(out, func(i, j int) bool {
		return out[i].handle < out[j].handle
	})

	return out
}

// HasAddr tells if any entry exists for the address.
func (m *MAF) HasAddr(addr uint64) bool {
	found := false

	m.byAddr.AscendGreaterOrEqual(
		addrKey{addr, 0, 0},
		func(k addrKey) bool {
			found = k.addr == addr
			return false
		})

	return found
}

// FindFirst returns the oldest entry of the address in the state.
func (m *MAF) FindFirst(addr uint64, state State) (*Entry, bool) {
	var found *Entry

	m.byAddr.AscendGreaterOrEqual(
		addrKey{addr, state, 0},
		func(k addrKey) bool {
			if k.addr == addr && k.state == state {
				found = m.entries[k.h]
			}

			return false
		})

	return found, found != nil
}

// FindAll returns all the entries of the address in the state, oldest first.
func (m *MAF) FindAll(addr uint64, state State) []*Entry {
	var out []*Entry

	m.byAddr.AscendGreaterOrEqual(
		addrKey{addr, state, 0},
		func(k addrKey) bool {
			if k.addr != addr || k.state != state {
				return false
			}

			out = append(out, m.entries[k.h])

			return true
		})

	return out
}

// Exists tells if any entry of the address is in the state.
func (m *MAF) Exists(addr uint64, state State) bool {
	_, found := m.FindFirst(addr, state)
	return found
}

// CountState returns the number of entries in the state.
func (m *MAF) CountState(state State) int {
	n := 0

	m.byState.AscendRange(
		stateKey{state, 0},
		stateKey{state + 1, 0},
		func(stateKey) bool {
			n++
			return true
		})

	return n
}

// Remove deletes an entry.
func (m *MAF) Remove(e *Entry) {
	m.mustOwn(e)

	if e.txn == nil {
		log.Panicf("MAF entry 0x%x has no transaction", e.addr)
	}

	if e.ebReserved != 0 {
		log.Panicf("removing MAF entry 0x%x that still holds %d EB slots",
			e.addr, e.ebReserved)
	}

	m.unindex(e)
	delete(m.entries, e.handle)
	m.countRegion(e.addr, e.txn.Requester, -1)
}

// RemoveFirst removes the entry of the address waiting for acknowledgments
// on behalf of the requester.
func (m *MAF) RemoveFirst(addr uint64, requester int) *Entry {
	for _, e := range m.FindAll(addr, WaitAck) {
		if e.txn.Requester == requester {
			m.Remove(e)
			return e
		}
	}

	log.Panicf("no MAF entry waits for acks on 0x%x for requester %d",
		addr, requester)

	return nil
}

// OtherRegionRequesters tells if requesters other than the given one have
// entries in the region of the address.
func (m *MAF) OtherRegionRequesters(addr uint64, requester int) bool {
	for r := range m.regionReqs[m.regionOf(addr)] {
		if r != requester {
			return true
		}
	}

	return false
}

// ForEach visits every entry in insertion order until f returns false.
func (m *MAF) ForEach(f func(e *Entry) bool) {
	m.byArrival.Ascend(func(h Handle) bool {
		return f(m.entries[h])
	})
}
