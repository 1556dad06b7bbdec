package dirstore

import (
	"encoding/binary"
	"io"
	"log"

	"github.com/cespare/xxhash/v2"
	"github.com/sarchlab/cohsim/mem/coherence/sharing"
)

// TaglessConfig configures a tagless directory.
type TaglessConfig struct {
	NumCores   int
	BlockSize  uint64
	NumBuckets int
	NumHashes  int

	// Partitioned gives each hash function its own bucket array. Otherwise
	// all the hash functions index the same array.
	Partitioned bool

	Probe ResidencyProbe
}

// Tagless is a directory without tags. Every block maps to one bucket per
// hash function, and the state of a block is the AND of its buckets.
type Tagless struct {
	cfg     TaglessConfig
	buckets [][]*sharing.Exact
	seeds   []uint64
}

// NewTagless creates a tagless directory.
func NewTagless(cfg TaglessConfig) *Tagless {
	mustBePowerOfTwo("block size", cfg.BlockSize)

	if cfg.NumBuckets <= 0 || cfg.NumHashes <= 0 {
		log.Panicf("tagless directory needs buckets and hashes, got %d and %d",
			cfg.NumBuckets, cfg.NumHashes)
	}

	s := &Tagless{cfg: cfg}

	numArrays := 1
	if cfg.Partitioned {
		numArrays = cfg.NumHashes
	}

	s.buckets = make([][]*sharing.Exact, numArrays)
	for i := range s.buckets {
		s.buckets[i] = make([]*sharing.Exact, cfg.NumBuckets)
		for j := range s.buckets[i] {
			s.buckets[i][j] = sharing.NewExact(cfg.NumCores)
		}
	}

	for i := 0; i < cfg.NumHashes; i++ {
		s.seeds = append(s.seeds, 0x9e3779b97f4a7c15*uint64(i+1))
	}

	return s
}

// Kind returns KindTagless.
func (s *Tagless) Kind() Kind {
	return KindTagless
}

func (s *Tagless) blockAddr(addr uint64) uint64 {
	return addr &^ (s.cfg.BlockSize - 1)
}

// Bucket returns the bucket index that hash function i picks for a block.
func (s *Tagless) Bucket(i int, addr uint64) int {
	var buf [16]byte

	binary.LittleEndian.PutUint64(buf[:8], s.blockAddr(addr))
	binary.LittleEndian.PutUint64(buf[8:], s.seeds[i])

	return int(xxhash.Sum64(buf[:]) % uint64(s.cfg.NumBuckets))
}

func (s *Tagless) array(i int) []*sharing.Exact {
	if s.cfg.Partitioned {
		return s.buckets[i]
	}

	return s.buckets[0]
}

type taglessResult struct {
	store   *Tagless
	addr    uint64
	indexes []int
	view    *sharing.Hashed
}

func (r *taglessResult) Found() bool {
	return true
}

func (r *taglessResult) State() sharing.State {
	return r.view
}

func (r *taglessResult) AddSharer(core int) {
	r.view.AddSharer(core)
}

// RemoveSharer clears the bit of the core in each bucket where the core no
// longer holds any other block.
func (r *taglessResult) RemoveSharer(core int) {
	probe := r.store.cfg.Probe
	if probe == nil {
		return
	}

	for i, idx := range r.indexes {
		bucket := r.store.array(i)[idx]
		if !bucket.IsSharer(core) {
			continue
		}

		if !probe.IsBucketPresent(core, r.store.bucketMatcher(i, idx)) {
			bucket.RemoveSharer(core)
		}
	}
}

// bucketMatcher tells if a block lands in bucket idx of the array that hash
// function i uses. A shared array is reached through every hash function.
func (s *Tagless) bucketMatcher(i, idx int) func(uint64) bool {
	if s.cfg.Partitioned {
		return func(blockAddr uint64) bool {
			return s.Bucket(i, blockAddr) == idx
		}
	}

	return func(blockAddr uint64) bool {
		for j := 0; j < s.cfg.NumHashes; j++ {
			if s.Bucket(j, blockAddr) == idx {
				return true
			}
		}

		return false
	}
}

// SetSharer removes the other sharers where the probe allows it and makes
// the core the exclusive sharer.
func (r *taglessResult) SetSharer(core int) {
	for _, other := range r.view.OtherSharers(core) {
		r.RemoveSharer(other)
	}

	r.view.SetSharer(core)
}

func (r *taglessResult) SetState(st sharing.State) {
	for _, c := range st.Sharers() {
		r.view.AddSharer(c)
	}

	r.view.SetExclusive(st.Exclusive())
}

func (r *taglessResult) BlockAddress() uint64 {
	return r.addr
}

// Lookup returns the combined view of the buckets of the block.
func (s *Tagless) Lookup(addr uint64) LookupResult {
	blk := s.blockAddr(addr)
	res := &taglessResult{store: s, addr: blk}

	buckets := make([]*sharing.Exact, 0, s.cfg.NumHashes)
	for i := 0; i < s.cfg.NumHashes; i++ {
		idx := s.Bucket(i, blk)
		res.indexes = append(res.indexes, idx)
		buckets = append(buckets, s.array(i)[idx])
	}

	res.view = sharing.NewHashed(buckets...)

	return res
}

// CanAllocate returns false.
func (s *Tagless) CanAllocate() bool {
	return false
}

// HasVictim returns true, since lookups always hit.
func (s *Tagless) HasVictim(res LookupResult) bool {
	return true
}

// EvictionCost returns 0.
func (s *Tagless) EvictionCost(res LookupResult) int {
	return 0
}

// Allocate is not supported.
func (s *Tagless) Allocate(
	res LookupResult,
	addr uint64,
	state sharing.State,
) ([]Evicted, error) {
	return nil, ErrAllocateUnsupported
}

// SetProtected does nothing. Buckets are never evicted.
func (s *Tagless) SetProtected(addr uint64, protected bool) {}

// Precise returns false.
func (s *Tagless) Precise() bool {
	return false
}

// Occupancy returns the number of buckets with sharers.
func (s *Tagless) Occupancy() int {
	n := 0

	for _, array := range s.buckets {
		for _, b := range array {
			if !b.NoSharers() {
				n++
			}
		}
	}

	return n
}

// SaveState is not supported.
func (s *Tagless) SaveState(w io.Writer) error {
	return ErrCheckpointUnsupported
}

// LoadState is not supported.
func (s *Tagless) LoadState(r io.Reader) error {
	return ErrCheckpointUnsupported
}
