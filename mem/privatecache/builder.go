package privatecache

import (
	"log"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/cohsim/mem/mem"
	"github.com/sarchlab/cohsim/mem/privatecache/internal/mshr"
	"github.com/sarchlab/cohsim/mem/privatecache/internal/tagging"
)

// Builder can build private caches.
type Builder struct {
	engine       sim.Engine
	freq         sim.Freq
	core         int
	numCores     int
	blockSize    uint64
	numSets      int
	numWays      int
	mshrSize     int
	bufferSize   int
	propagateCEs bool
	mapper       mem.AddressToBankMapper
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		freq:         1 * sim.GHz,
		numCores:     4,
		blockSize:    64,
		numSets:      64,
		numWays:      4,
		mshrSize:     8,
		bufferSize:   16,
		propagateCEs: true,
	}
}

// WithEngine sets the engine of the cache.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the frequency of the cache.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithCore sets the core that owns the cache.
func (b Builder) WithCore(core int) Builder {
	b.core = core
	return b
}

// WithNumCores sets the number of cores, which is where the directory
// nodes start.
func (b Builder) WithNumCores(n int) Builder {
	b.numCores = n
	return b
}

// WithBlockSize sets the block size in bytes.
func (b Builder) WithBlockSize(size uint64) Builder {
	b.blockSize = size
	return b
}

// WithNumSets sets the number of sets.
func (b Builder) WithNumSets(n int) Builder {
	b.numSets = n
	return b
}

// WithNumWays sets the associativity.
func (b Builder) WithNumWays(n int) Builder {
	b.numWays = n
	return b
}

// WithMSHRSize sets the number of misses that can be in flight.
func (b Builder) WithMSHRSize(n int) Builder {
	b.mshrSize = n
	return b
}

// WithBufferSize sets the capacity of the incoming buffer.
func (b Builder) WithBufferSize(n int) Builder {
	b.bufferSize = n
	return b
}

// WithPropagateCEs sets whether clean evictions are reported.
func (b Builder) WithPropagateCEs(propagate bool) Builder {
	b.propagateCEs = propagate
	return b
}

// WithAddressMapper sets how addresses are spread over the directory
// banks.
func (b Builder) WithAddressMapper(m mem.AddressToBankMapper) Builder {
	b.mapper = m
	return b
}

// Build creates a private cache.
func (b Builder) Build(name string) *Comp {
	if b.engine == nil {
		panic("cache needs an engine")
	}

	if b.core < 0 || b.core >= b.numCores {
		log.Panicf("core %d is out of range [0, %d)", b.core, b.numCores)
	}

	if b.numSets <= 0 || b.numWays <= 0 || b.mshrSize <= 0 {
		panic("sets, ways and MSHR size must be positive")
	}

	if b.blockSize == 0 || b.blockSize&(b.blockSize-1) != 0 {
		log.Panicf("block size %d is not a power of two", b.blockSize)
	}

	mapper := b.mapper
	if mapper == nil {
		mapper = mem.SingleBankMapper{}
	}

	c := &Comp{
		core:         b.core,
		numCores:     b.numCores,
		blockSize:    b.blockSize,
		numWays:      b.numWays,
		propagateCEs: b.propagateCEs,
		mapper:       mapper,
		tags:         tagging.NewTagArray(b.numSets, b.numWays, b.blockSize),
		victimFinder: tagging.NewLRUVictimFinder(),
		mshr:         mshr.NewMSHR(b.mshrSize),
		evicting:     make(map[uint64]bool),
	}
	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, c)
	c.inBuf = sim.NewBuffer(name+".InBuf", b.bufferSize)

	return c
}
