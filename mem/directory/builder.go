package directory

import (
	"fmt"
	"log"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/coherence/sharing"
	"github.com/sarchlab/cohsim/mem/directory/internal/dirstore"
	"github.com/sarchlab/cohsim/mem/directory/internal/evictbuf"
	"github.com/sarchlab/cohsim/mem/directory/internal/maf"
	"github.com/sarchlab/cohsim/mem/mem"
	"github.com/sarchlab/cohsim/noc/topology"
)

// Builder can build directory banks.
type Builder struct {
	engine sim.Engine
	freq   sim.Freq

	bank      int
	numCores  int
	blockSize uint64
	mapper    mem.AddressToBankMapper
	topo      topology.Topology

	storeType   string
	numSets     int
	numWays     int
	skew        bool
	policy      string
	regionSize  uint64
	trackShared bool
	numBuckets  int
	numHashes   int
	partitioned bool
	factory     sharing.Factory

	regionProbe    RegionProbe
	residencyProbe ResidencyProbe

	propagateCEs   bool
	mafSize        int
	ebSize         int
	bufferSize     int
	numReqPerCycle int
	lookupLatency  int
	memLatency     int
	optimize3hop   bool
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		freq:           1 * sim.GHz,
		numCores:       4,
		blockSize:      64,
		storeType:      "standard",
		numSets:        1024,
		numWays:        8,
		policy:         "lru",
		regionSize:     1024,
		numBuckets:     1024,
		numHashes:      2,
		propagateCEs:   true,
		mafSize:        32,
		ebSize:         16,
		bufferSize:     16,
		numReqPerCycle: 1,
		memLatency:     100,
	}
}

// WithEngine sets the engine of the bank.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the frequency of the bank.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithBank sets the index of the bank.
func (b Builder) WithBank(bank int) Builder {
	b.bank = bank
	return b
}

// WithNumCores sets the number of cores that the bank tracks.
func (b Builder) WithNumCores(n int) Builder {
	b.numCores = n
	return b
}

// WithBlockSize sets the block size in bytes.
func (b Builder) WithBlockSize(size uint64) Builder {
	b.blockSize = size
	return b
}

// WithAddressMapper sets how addresses are spread over the banks.
func (b Builder) WithAddressMapper(m mem.AddressToBankMapper) Builder {
	b.mapper = m
	return b
}

// WithTopology sets the topology used to order snoops.
func (b Builder) WithTopology(topo topology.Topology) Builder {
	b.topo = topo
	return b
}

// WithStoreType sets the directory store variant, which can be standard,
// region, tagless, or infinite.
func (b Builder) WithStoreType(name string) Builder {
	b.storeType = name
	return b
}

// WithNumSets sets the number of sets of a standard or region store.
func (b Builder) WithNumSets(n int) Builder {
	b.numSets = n
	return b
}

// WithNumWays sets the associativity of a standard or region store.
func (b Builder) WithNumWays(n int) Builder {
	b.numWays = n
	return b
}

// WithSkew folds the upper tag bits into the set index.
func (b Builder) WithSkew(skew bool) Builder {
	b.skew = skew
	return b
}

// WithReplacementPolicy sets the victim policy, lru or minsharers.
func (b Builder) WithReplacementPolicy(policy string) Builder {
	b.policy = policy
	return b
}

// WithRegionSize sets the region size of a region store in bytes.
func (b Builder) WithRegionSize(size uint64) Builder {
	b.regionSize = size
	return b
}

// WithTrackShared makes a region store remember which blocks were shared
// after an exclusive grant.
func (b Builder) WithTrackShared(track bool) Builder {
	b.trackShared = track
	return b
}

// WithNumBuckets sets the number of buckets of a tagless store.
func (b Builder) WithNumBuckets(n int) Builder {
	b.numBuckets = n
	return b
}

// WithNumHashes sets the number of hash functions of a tagless store.
func (b Builder) WithNumHashes(n int) Builder {
	b.numHashes = n
	return b
}

// WithPartitioned gives each hash function of a tagless store its own
// buckets.
func (b Builder) WithPartitioned(partitioned bool) Builder {
	b.partitioned = partitioned
	return b
}

// WithSharingFactory sets how the sharers of an entry are represented.
func (b Builder) WithSharingFactory(f sharing.Factory) Builder {
	b.factory = f
	return b
}

// WithRegionProbe sets the probe of a region store.
func (b Builder) WithRegionProbe(p RegionProbe) Builder {
	b.regionProbe = p
	return b
}

// WithResidencyProbe sets the probe of a tagless store.
func (b Builder) WithResidencyProbe(p ResidencyProbe) Builder {
	b.residencyProbe = p
	return b
}

// WithPropagateCEs sets whether caches report clean evictions.
func (b Builder) WithPropagateCEs(propagate bool) Builder {
	b.propagateCEs = propagate
	return b
}

// WithMAFSize sets the number of transactions the bank can track.
func (b Builder) WithMAFSize(n int) Builder {
	b.mafSize = n
	return b
}

// WithEBSize sets the number of evicted entries the bank can hold.
func (b Builder) WithEBSize(n int) Builder {
	b.ebSize = n
	return b
}

// WithBufferSize sets the capacity of the incoming buffers.
func (b Builder) WithBufferSize(n int) Builder {
	b.bufferSize = n
	return b
}

// WithNumReqPerCycle sets how many requests the bank admits per cycle.
func (b Builder) WithNumReqPerCycle(n int) Builder {
	b.numReqPerCycle = n
	return b
}

// WithLookupLatency sets the number of cycles between admission and lookup.
func (b Builder) WithLookupLatency(cycles int) Builder {
	b.lookupLatency = cycles
	return b
}

// WithMemLatency sets the cycles added to replies that come from memory.
func (b Builder) WithMemLatency(cycles int) Builder {
	b.memLatency = cycles
	return b
}

// WithOptimize3Hop orders forwarded snoops by the total distance to the
// requester.
func (b Builder) WithOptimize3Hop(optimize bool) Builder {
	b.optimize3hop = optimize
	return b
}

// Build creates a directory bank.
func (b Builder) Build(name string) *Comp {
	b.mustBeValid()

	c := &Comp{
		bank:           b.bank,
		node:           b.numCores + b.bank,
		numCores:       b.numCores,
		blockSize:      b.blockSize,
		topo:           b.topo,
		numReqPerCycle: b.numReqPerCycle,
		lookupLatency:  b.lookupLatency,
		memLatency:     b.memLatency,
		optimize3hop:   b.optimize3hop,
		txns:           make(map[maf.Handle]*transaction),
		active:         make(map[uint64]*transaction),
		staleEvicts:    make(map[staleKey]bool),
		stats:          newStats(),
	}
	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, c)

	c.reqBuf = sim.NewBuffer(name+".RequestBuf", b.bufferSize)
	c.rspBuf = sim.NewBuffer(name+".ReplyBuf", b.bufferSize)

	c.store = b.buildStore()
	c.table = coherence.NewTable(b.propagateCEs, !c.store.Precise())
	c.maf = maf.New(b.mafSize)
	c.eb = evictbuf.New(b.ebSize)

	if region, ok := c.store.(*dirstore.Region); ok {
		c.maf.WithRegionMapper(region.RegionOf)
	}

	return c
}

func (b Builder) mustBeValid() {
	if b.engine == nil {
		panic("directory needs an engine")
	}

	if b.topo == nil {
		panic("directory needs a topology")
	}

	if b.numCores <= 0 {
		log.Panicf("number of cores must be positive, got %d", b.numCores)
	}

	if b.topo.NumNodes() < b.numCores+b.bank+1 {
		log.Panicf("topology has %d nodes, bank %d needs node %d",
			b.topo.NumNodes(), b.bank, b.numCores+b.bank)
	}

	if b.numReqPerCycle <= 0 || b.bufferSize <= 0 {
		panic("request width and buffer size must be positive")
	}

	if b.lookupLatency < 0 || b.memLatency < 0 {
		panic("latency cannot be negative")
	}

	if b.storeType == "region" && uint64(b.ebSize)*b.blockSize < b.regionSize {
		log.Panicf("eviction buffer of %d cannot hold the %d blocks of a region",
			b.ebSize, b.regionSize/b.blockSize)
	}
}

func (b Builder) sharingFactory() sharing.Factory {
	if b.factory != nil {
		return b.factory
	}

	return sharing.ExactFactory{NumCores: b.numCores}
}

func (b Builder) bankMapper() mem.AddressToBankMapper {
	if b.mapper != nil {
		return b.mapper
	}

	return mem.SingleBankMapper{}
}

func (b Builder) buildStore() dirstore.Store {
	kind, err := dirstore.ParseKind(b.storeType)
	if err != nil {
		panic(err)
	}

	switch kind {
	case dirstore.KindStandard:
		return dirstore.NewStandard(dirstore.StandardConfig{
			Bank:         b.bank,
			NumCores:     b.numCores,
			BlockSize:    b.blockSize,
			NumSets:      b.numSets,
			NumWays:      b.numWays,
			Skew:         b.skew,
			Mapper:       b.bankMapper(),
			Factory:      b.sharingFactory(),
			VictimFinder: dirstore.NewVictimFinder(b.policy),
		})
	case dirstore.KindRegion:
		return dirstore.NewRegion(dirstore.RegionConfig{
			Bank:         b.bank,
			NumCores:     b.numCores,
			BlockSize:    b.blockSize,
			RegionSize:   b.regionSize,
			NumSets:      b.numSets,
			NumWays:      b.numWays,
			TrackShared:  b.trackShared,
			Mapper:       b.bankMapper(),
			Factory:      b.sharingFactory(),
			VictimFinder: dirstore.NewVictimFinder(b.policy),
			Probe:        b.regionProbe,
		})
	case dirstore.KindTagless:
		return dirstore.NewTagless(dirstore.TaglessConfig{
			NumCores:    b.numCores,
			BlockSize:   b.blockSize,
			NumBuckets:  b.numBuckets,
			NumHashes:   b.numHashes,
			Partitioned: b.partitioned,
			Probe:       b.residencyProbe,
		})
	case dirstore.KindInfinite:
		return dirstore.NewInfinite(b.blockSize, b.sharingFactory())
	}

	panic(fmt.Sprintf("unsupported directory type %s", kind))
}
