package dirstore

import (
	"io"
	"log"

	"github.com/sarchlab/cohsim/mem/coherence/sharing"
	"github.com/sarchlab/cohsim/mem/mem"
)

// StandardConfig configures a set-associative directory.
type StandardConfig struct {
	Bank      int
	NumCores  int
	BlockSize uint64
	NumSets   int
	NumWays   int

	// Skew XOR-folds the upper tag bits into the set index.
	Skew bool

	Mapper       mem.AddressToBankMapper
	Factory      sharing.Factory
	VictimFinder VictimFinder
}

// Standard is a set-associative directory with one entry per block.
type Standard struct {
	cfg       StandardConfig
	blockBits uint
	setBits   uint
	sets      []Set
}

// NewStandard creates a set-associative directory.
func NewStandard(cfg StandardConfig) *Standard {
	s := &Standard{
		cfg:       cfg,
		blockBits: mustBePowerOfTwo("block size", cfg.BlockSize),
		setBits:   mustBePowerOfTwo("number of sets", uint64(cfg.NumSets)),
	}

	if cfg.NumWays <= 0 {
		log.Panicf("associativity must be positive, got %d", cfg.NumWays)
	}

	if s.cfg.Mapper == nil {
		s.cfg.Mapper = mem.SingleBankMapper{}
	}

	if s.cfg.Factory == nil {
		s.cfg.Factory = sharing.ExactFactory{NumCores: cfg.NumCores}
	}

	if s.cfg.VictimFinder == nil {
		s.cfg.VictimFinder = NewLRUVictimFinder()
	}

	s.sets = newSets(cfg.NumSets, cfg.NumWays)

	return s
}

// Kind returns KindStandard.
func (s *Standard) Kind() Kind {
	return KindStandard
}

func (s *Standard) blockAddr(addr uint64) uint64 {
	return addr &^ (s.cfg.BlockSize - 1)
}

// SetIndex returns the set that a block maps to.
func (s *Standard) SetIndex(addr uint64) int {
	local := s.cfg.Mapper.Local(s.blockAddr(addr)) >> s.blockBits
	mask := uint64(s.cfg.NumSets - 1)

	if !s.cfg.Skew || s.setBits == 0 {
		return int(local & mask)
	}

	folded := local
	for upper := local >> s.setBits; upper > 0; upper >>= s.setBits {
		folded ^= upper
	}

	return int(folded & mask)
}

type standardResult struct {
	store *Standard
	addr  uint64
	setID int
	way   *Way
	empty sharing.State
}

func (r *standardResult) Found() bool {
	return r.way != nil
}

func (r *standardResult) State() sharing.State {
	if r.way == nil {
		return r.empty
	}

	return r.way.State
}

func (r *standardResult) mustBeFound() {
	if r.way == nil {
		log.Panicf("block 0x%x is not in the directory", r.addr)
	}
}

func (r *standardResult) AddSharer(core int) {
	r.mustBeFound()
	r.way.State.AddSharer(core)
}

func (r *standardResult) RemoveSharer(core int) {
	r.mustBeFound()
	r.way.State.RemoveSharer(core)
}

func (r *standardResult) SetSharer(core int) {
	r.mustBeFound()
	r.way.State.SetSharer(core)
}

func (r *standardResult) SetState(st sharing.State) {
	r.mustBeFound()
	r.way.State = st
}

func (r *standardResult) BlockAddress() uint64 {
	return r.addr
}

// Lookup finds the entry of a block. A hit makes the entry the most recently
// used one.
func (s *Standard) Lookup(addr uint64) LookupResult {
	blk := s.blockAddr(addr)
	setID := s.SetIndex(blk)
	set := &s.sets[setID]

	res := &standardResult{store: s, addr: blk, setID: setID}

	if w := set.find(blk); w != nil {
		set.visit(w.WayID)
		res.way = w
	} else {
		res.empty = s.cfg.Factory.NewState()
	}

	return res
}

// CanAllocate returns true.
func (s *Standard) CanAllocate() bool {
	return true
}

func (s *Standard) result(res LookupResult) *standardResult {
	r, ok := res.(*standardResult)
	if !ok || r.store != s {
		panic("lookup result does not belong to this directory")
	}

	return r
}

// HasVictim tells if some way of the set can be replaced.
func (s *Standard) HasVictim(res LookupResult) bool {
	r := s.result(res)
	if r.Found() {
		return true
	}

	_, ok := s.cfg.VictimFinder.FindVictim(&s.sets[r.setID])

	return ok
}

// EvictionCost returns 1 if the victim of the set still has sharers.
func (s *Standard) EvictionCost(res LookupResult) int {
	r := s.result(res)
	if r.Found() {
		return 0
	}

	victim, ok := s.cfg.VictimFinder.FindVictim(&s.sets[r.setID])
	if !ok || victim.Empty() {
		return 0
	}

	return 1
}

// Allocate installs the block, replacing a victim way.
func (s *Standard) Allocate(
	res LookupResult,
	addr uint64,
	state sharing.State,
) ([]Evicted, error) {
	r := s.result(res)
	if r.Found() {
		log.Panicf("allocating block 0x%x that is already present", r.addr)
	}

	set := &s.sets[r.setID]

	victim, ok := s.cfg.VictimFinder.FindVictim(set)
	if !ok {
		log.Panicf("no victim for block 0x%x: every way of set %d is protected",
			r.addr, r.setID)
	}

	var evicted []Evicted
	if !victim.Empty() {
		evicted = append(evicted, Evicted{
			Addr:  victim.Tag,
			State: victim.State.Clone(),
		})
	}

	victim.Valid = true
	victim.Tag = r.addr
	victim.State = state
	victim.Protected = 0
	set.visit(victim.WayID)

	r.way = victim
	r.empty = nil

	return evicted, nil
}

// SetProtected marks or unmarks the entry of the address.
func (s *Standard) SetProtected(addr uint64, protected bool) {
	blk := s.blockAddr(addr)

	w := s.sets[s.SetIndex(blk)].find(blk)
	if w == nil {
		return
	}

	w.protect(protected)
}

// Precise tells if the sharing states are exact.
func (s *Standard) Precise() bool {
	_, exact := s.cfg.Factory.(sharing.ExactFactory)
	return exact
}

// Occupancy returns the number of entries with sharers.
func (s *Standard) Occupancy() int {
	n := 0

	for i := range s.sets {
		for j := range s.sets[i].Ways {
			if !s.sets[i].Ways[j].Empty() {
				n++
			}
		}
	}

	return n
}

// Sets exposes the sets for inspection.
func (s *Standard) Sets() []Set {
	return s.sets
}

// SaveState writes the entries of the bank to a checkpoint.
func (s *Standard) SaveState(w io.Writer) error {
	return writeCheckpoint(w, s)
}

// LoadState restores the entries of the bank from a checkpoint.
func (s *Standard) LoadState(r io.Reader) error {
	return readCheckpoint(r, s)
}
