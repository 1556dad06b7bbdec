// Package mshr records the misses that a private cache has sent to the
// directory.
package mshr

import (
	"fmt"

	"github.com/sarchlab/cohsim/mem/coherence"
)

// MSHR records cache's request to the directory.
type MSHR interface {
	Lookup(addr uint64) (*Entry, bool)
	AddEntry(entry *Entry) error
	RemoveEntry(addr uint64) (*Entry, error)
	CountInSet(setID int) int
	Entries() []*Entry
	IsFull() bool
	Reset()
}

// NewMSHR creates a new MSHR.
func NewMSHR(capacity int) MSHR {
	return &mshrImpl{
		capacity: capacity,
		entries:  make([]*Entry, 0),
	}
}

// Entry is a miss in flight.
type Entry struct {
	Addr     uint64
	SetID    int
	Write    bool
	Req      *coherence.Msg
	IssuedAt uint64

	// WayID is the way that an upgrade keeps locked, or -1.
	WayID int
}

type mshrImpl struct {
	capacity int
	entries []*Entry
}

func (m *mshrImpl) Lookup(addr uint64) (*Entry, bool) {
	for _, e := range m.entries {
		if e.Addr == addr {
			return e, true
		}
	}

	return nil, false
}

func (m *mshrImpl) AddEntry(entry *Entry) error {
	if _, found := m.Lookup(entry.Addr); found {
		return fmt.Errorf("trying to add an address that is already in MSHR")
	}

	if m.IsFull() {
		return fmt.Errorf("trying to add to a full MSHR")
	}

	m.entries = append(m.entries, entry)

	return nil
}

func (m *mshrImpl) RemoveEntry(addr uint64) (*Entry, error) {
	for i, e := range m.entries {
		if e.Addr == addr {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return e, nil
		}
	}

	return nil, fmt.Errorf("trying to remove an non-exist entry 0x%x", addr)
}

func (m *mshrImpl) CountInSet(setID int) int {
	n := 0

	for _, e := range m.entries {
		if e.SetID == setID {
			n++
		}
	}

	return n
}

func (m *mshrImpl) Entries() []*Entry {
	return m.entries
}

func (m *mshrImpl) IsFull() bool {
	return len(m.entries) >= m.capacity
}

func (m *mshrImpl) Reset() {
	m.entries = nil
}
