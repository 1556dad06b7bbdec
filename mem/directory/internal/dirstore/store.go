// Package dirstore provides the storage of directory entries. A directory
// entry maps a block to the sharing state of the block.
package dirstore

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/sarchlab/cohsim/mem/coherence/sharing"
)

// Kind names a directory store variant.
type Kind int

// All the store variants.
const (
	KindStandard Kind = iota
	KindRegion
	KindTagless
	KindInfinite
)

func (k Kind) String() string {
	switch k {
	case KindStandard:
		return "standard"
	case KindRegion:
		return "region"
	case KindTagless:
		return "tagless"
	case KindInfinite:
		return "infinite"
	}

	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind converts a variant name to a Kind.
func ParseKind(name string) (Kind, error) {
	for k := KindStandard; k <= KindInfinite; k++ {
		if k.String() == name {
			return k, nil
		}
	}

	return 0, fmt.Errorf("unknown directory type %q", name)
}

// ErrAllocateUnsupported is returned by stores that never install entries.
var ErrAllocateUnsupported = errors.New("directory store does not allocate")

// ErrCheckpointUnsupported is returned by stores that cannot be saved.
var ErrCheckpointUnsupported = errors.New(
	"directory store does not support checkpoints")

// Evicted is an entry displaced by an allocation. It still has sharers that
// must be invalidated.
type Evicted struct {
	Addr  uint64
	State sharing.State
}

// LookupResult is the outcome of a lookup. The mutators change the entry in
// the store.
type LookupResult interface {
	Found() bool
	State() sharing.State
	AddSharer(core int)
	RemoveSharer(core int)
	SetSharer(core int)
	SetState(s sharing.State)
	BlockAddress() uint64
}

// Store keeps the directory entries of one bank.
type Store interface {
	Kind() Kind

	// Lookup finds the entry of the block that holds the address.
	Lookup(addr uint64) LookupResult

	// CanAllocate tells if the store installs entries at all.
	CanAllocate() bool

	// HasVictim tells if a lookup miss can be allocated now, i.e., some way
	// of its set is not protected.
	HasVictim(res LookupResult) bool

	// EvictionCost returns the number of evicted entries that allocating for
	// the missed lookup would produce.
	EvictionCost(res LookupResult) int

	// Allocate installs an entry for a missed lookup. The result is bound to
	// the new entry afterwards.
	Allocate(
		res LookupResult,
		addr uint64,
		state sharing.State,
	) ([]Evicted, error)

	// SetProtected marks the entry of the address as part of an in-flight
	// transaction, so that it is not chosen as a victim.
	SetProtected(addr uint64, protected bool)

	// Precise tells if the sharing states never report extra sharers.
	Precise() bool

	// Occupancy returns the number of entries with sharers.
	Occupancy() int

	SaveState(w io.Writer) error
	LoadState(r io.Reader) error
}

// RegionProbe asks whether a core still holds any block of a region.
type RegionProbe interface {
	IsRegionPresent(core int, regionAddr uint64) bool
}

// ResidencyProbe asks whether a core still holds any block that matches.
type ResidencyProbe interface {
	IsBucketPresent(core int, match func(blockAddr uint64) bool) bool
}

func mustBePowerOfTwo(name string, v uint64) uint {
	if v == 0 || v&(v-1) != 0 {
		log.Panicf("%s must be a power of two, got %d", name, v)
	}

	bits := uint(0)
	for v > 1 {
		v >>= 1
		bits++
	}

	return bits
}
