package dirstore

import (
	"io"
	"log"

	"github.com/bits-and-blooms/bitset"
	"github.com/sarchlab/cohsim/mem/coherence/sharing"
	"github.com/sarchlab/cohsim/mem/mem"
)

// RegionConfig configures a region directory.
type RegionConfig struct {
	Bank       int
	NumCores   int
	BlockSize  uint64
	RegionSize uint64
	NumSets    int
	NumWays    int

	// TrackShared records, per block, whether the block has been shared
	// since it was granted exclusively.
	TrackShared bool

	Mapper       mem.AddressToBankMapper
	Factory      sharing.Factory
	VictimFinder VictimFinder
	Probe        RegionProbe
}

type regionBits struct {
	present   *bitset.BitSet
	exclusive *bitset.BitSet
	shared    *bitset.BitSet
}

func newRegionBits(numBlocks int) *regionBits {
	return &regionBits{
		present:   bitset.New(uint(numBlocks)),
		exclusive: bitset.New(uint(numBlocks)),
		shared:    bitset.New(uint(numBlocks)),
	}
}

func (b *regionBits) clear() {
	b.present.ClearAll()
	b.exclusive.ClearAll()
	b.shared.ClearAll()
}

// Region is a directory with one entry per region. All the blocks of a
// region share one sharer vector, which holds every core that has any block
// of the region.
type Region struct {
	cfg        RegionConfig
	blockBits  uint
	regionBits uint
	numBlocks  int
	sets       []Set
}

// NewRegion creates a region directory.
func NewRegion(cfg RegionConfig) *Region {
	s := &Region{
		cfg:        cfg,
		blockBits:  mustBePowerOfTwo("block size", cfg.BlockSize),
		regionBits: mustBePowerOfTwo("region size", cfg.RegionSize),
	}

	mustBePowerOfTwo("number of sets", uint64(cfg.NumSets))

	if cfg.RegionSize < cfg.BlockSize {
		log.Panicf("region size %d is smaller than block size %d",
			cfg.RegionSize, cfg.BlockSize)
	}

	if cfg.NumWays <= 0 {
		log.Panicf("associativity must be positive, got %d", cfg.NumWays)
	}

	s.numBlocks = int(cfg.RegionSize / cfg.BlockSize)

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
	for i := range s.sets {
		for j := range s.sets[i].Ways {
			s.sets[i].Ways[j].region = newRegionBits(s.numBlocks)
		}
	}

	return s
}

// Kind returns KindRegion.
func (s *Region) Kind() Kind {
	return KindRegion
}

// BlocksPerRegion returns the number of blocks in a region.
func (s *Region) BlocksPerRegion() int {
	return s.numBlocks
}

// RegionOf returns the region address of an address.
func (s *Region) RegionOf(addr uint64) uint64 {
	return addr &^ (s.cfg.RegionSize - 1)
}

func (s *Region) blockAddr(addr uint64) uint64 {
	return addr &^ (s.cfg.BlockSize - 1)
}

func (s *Region) offset(addr uint64) uint {
	return uint((addr - s.RegionOf(addr)) >> s.blockBits)
}

func (s *Region) setIndex(region uint64) int {
	local := s.cfg.Mapper.Local(region) >> s.regionBits
	return int(local % uint64(s.cfg.NumSets))
}

type regionResult struct {
	store *Region
	addr  uint64
	off   uint
	setID int
	way   *Way
	view  *regionView
	empty sharing.State
}

func (r *regionResult) Found() bool {
	return r.way != nil && r.way.region.present.Test(r.off)
}

func (r *regionResult) State() sharing.State {
	if !r.Found() {
		return r.empty
	}

	return r.view
}

func (r *regionResult) mustBeFound() {
	if !r.Found() {
		log.Panicf("block 0x%x is not in the directory", r.addr)
	}
}

func (r *regionResult) AddSharer(core int) {
	r.mustBeFound()
	r.view.AddSharer(core)
}

// RemoveSharer drops the core from the region only if the core no longer
// holds any block of the region.
func (r *regionResult) RemoveSharer(core int) {
	r.mustBeFound()
	r.view.RemoveSharer(core)
}

func (r *regionResult) SetSharer(core int) {
	r.mustBeFound()
	r.view.SetSharer(core)
}

func (r *regionResult) SetState(st sharing.State) {
	r.mustBeFound()

	for _, c := range st.Sharers() {
		r.way.State.AddSharer(c)
	}

	bits := r.way.region
	bits.shared.Clear(r.off)

	if st.Exclusive() {
		bits.exclusive.Set(r.off)
	} else {
		bits.exclusive.Clear(r.off)
	}
}

func (r *regionResult) BlockAddress() uint64 {
	return r.addr
}

// Lookup finds the entry of the region of the address and checks if the
// block is present in it.
func (s *Region) Lookup(addr uint64) LookupResult {
	blk := s.blockAddr(addr)
	region := s.RegionOf(blk)
	setID := s.setIndex(region)
	set := &s.sets[setID]

	res := &regionResult{
		store: s,
		addr:  blk,
		off:   s.offset(blk),
		setID: setID,
	}

	if w := set.find(region); w != nil {
		set.visit(w.WayID)
		res.bind(w)
	}

	if !res.Found() {
		res.empty = s.cfg.Factory.NewState()
	}

	return res
}

func (r *regionResult) bind(w *Way) {
	r.way = w
	r.view = &regionView{store: r.store, way: w, off: r.off}
}

// CanAllocate returns true.
func (s *Region) CanAllocate() bool {
	return true
}

func (s *Region) result(res LookupResult) *regionResult {
	r, ok := res.(*regionResult)
	if !ok || r.store != s {
		panic("lookup result does not belong to this directory")
	}

	return r
}

// HasVictim tells if the block can be installed now.
func (s *Region) HasVictim(res LookupResult) bool {
	r := s.result(res)
	if r.way != nil {
		return true
	}

	_, ok := s.cfg.VictimFinder.FindVictim(&s.sets[r.setID])

	return ok
}

// EvictionCost returns the number of blocks of the victim region that still
// have sharers.
func (s *Region) EvictionCost(res LookupResult) int {
	r := s.result(res)
	if r.way != nil {
		return 0
	}

	victim, ok := s.cfg.VictimFinder.FindVictim(&s.sets[r.setID])
	if !ok || victim.Empty() {
		return 0
	}

	return int(victim.region.present.Count())
}

// Allocate marks the block present, installing its region first if needed.
func (s *Region) Allocate(
	res LookupResult,
	addr uint64,
	state sharing.State,
) ([]Evicted, error) {
	r := s.result(res)
	if r.Found() {
		log.Panicf("allocating block 0x%x that is already present", r.addr)
	}

	var evicted []Evicted

	if r.way == nil {
		evicted = s.replaceRegion(r)
	}

	r.way.region.present.Set(r.off)
	r.empty = nil
	r.SetState(state)

	return evicted, nil
}

func (s *Region) replaceRegion(r *regionResult) []Evicted {
	set := &s.sets[r.setID]

	victim, ok := s.cfg.VictimFinder.FindVictim(set)
	if !ok {
		log.Panicf("no victim for block 0x%x: every way of set %d is protected",
			r.addr, r.setID)
	}

	var evicted []Evicted

	if !victim.Empty() {
		bits := victim.region
		for off, ok := bits.present.NextSet(0); ok; off, ok = bits.present.NextSet(off + 1) {
			st := victim.State.Clone()
			st.SetExclusive(bits.exclusive.Test(off) && !bits.shared.Test(off))

			evicted = append(evicted, Evicted{
				Addr:  victim.Tag + uint64(off)<<s.blockBits,
				State: st,
			})
		}
	}

	victim.Valid = true
	victim.Tag = s.RegionOf(r.addr)
	victim.State = s.cfg.Factory.NewState()
	victim.Protected = 0
	victim.region.clear()
	set.visit(victim.WayID)

	r.bind(victim)

	return evicted
}

// SetProtected marks or unmarks the region of the address.
func (s *Region) SetProtected(addr uint64, protected bool) {
	region := s.RegionOf(s.blockAddr(addr))

	w := s.sets[s.setIndex(region)].find(region)
	if w == nil {
		return
	}

	w.protect(protected)
}

// Precise returns false. The region vector reports every core that holds
// any block of the region.
func (s *Region) Precise() bool {
	return false
}

// Occupancy returns the number of regions with sharers.
func (s *Region) Occupancy() int {
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

// SaveState is not supported.
func (s *Region) SaveState(w io.Writer) error {
	return ErrCheckpointUnsupported
}

// LoadState is not supported.
func (s *Region) LoadState(r io.Reader) error {
	return ErrCheckpointUnsupported
}

// regionView presents one block of a region entry as a sharing state. The
// sharers are the region sharers. The exclusivity comes from the block.
type regionView struct {
	store *Region
	way   *Way
	off   uint
}

func (v *regionView) bits() *regionBits { return v.way.region }

func (v *regionView) AddSharer(core int) {
	v.way.State.AddSharer(core)

	if v.store.cfg.TrackShared && v.bits().exclusive.Test(v.off) {
		v.bits().shared.Set(v.off)
	}
}

func (v *regionView) RemoveSharer(core int) {
	probe := v.store.cfg.Probe
	if probe == nil || probe.IsRegionPresent(core, v.way.Tag) {
		return
	}

	v.way.State.RemoveSharer(core)

	if v.way.State.NoSharers() {
		v.bits().clear()
	}
}

func (v *regionView) SetSharer(core int) {
	v.way.State.AddSharer(core)
	v.bits().exclusive.Set(v.off)
	v.bits().shared.Clear(v.off)
}

func (v *regionView) IsSharer(core int) bool { return v.way.State.IsSharer(core) }
func (v *regionView) CountSharers() int      { return v.way.State.CountSharers() }
func (v *regionView) NoSharers() bool        { return v.way.State.NoSharers() }
func (v *regionView) OneSharer() bool        { return v.way.State.OneSharer() }
func (v *regionView) ManySharers() bool      { return v.way.State.ManySharers() }

func (v *regionView) FirstSharer() (int, bool) {
	return v.way.State.FirstSharer()
}

func (v *regionView) OtherSharers(exclude int) []int {
	return v.way.State.OtherSharers(exclude)
}

func (v *regionView) Sharers() []int { return v.way.State.Sharers() }

func (v *regionView) Exclusive() bool {
	if v.way.State.NoSharers() || !v.bits().exclusive.Test(v.off) {
		return false
	}

	return !v.bits().shared.Test(v.off)
}

func (v *regionView) SetExclusive(exclusive bool) {
	switch {
	case exclusive:
		v.bits().exclusive.Set(v.off)
		v.bits().shared.Clear(v.off)
	case v.store.cfg.TrackShared:
		v.bits().shared.Set(v.off)
	default:
		v.bits().exclusive.Clear(v.off)
	}
}

func (v *regionView) Precise() bool { return false }
func (v *regionView) NumCores() int { return v.way.State.NumCores() }

func (v *regionView) Clone() sharing.State {
	st := v.way.State.Clone()
	st.SetExclusive(v.Exclusive())

	return st
}

func (v *regionView) Clear() {
	v.bits().exclusive.Clear(v.off)
	v.bits().shared.Clear(v.off)
}

// SharedBlocks returns the number of blocks that were shared after being
// granted exclusively.
func (s *Region) SharedBlocks() int {
	n := 0

	for i := range s.sets {
		for j := range s.sets[i].Ways {
			w := &s.sets[i].Ways[j]
			if w.Valid {
				n += int(w.region.shared.Count())
			}
		}
	}

	return n
}
