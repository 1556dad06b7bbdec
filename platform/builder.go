package platform

import (
	"fmt"
	"log"
	"os"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/cohsim/datarecording"
	"github.com/sarchlab/cohsim/mem/coherence/sharing"
	"github.com/sarchlab/cohsim/mem/directory"
	"github.com/sarchlab/cohsim/mem/mem"
	"github.com/sarchlab/cohsim/mem/privatecache"
	"github.com/sarchlab/cohsim/monitoring"
	"github.com/sarchlab/cohsim/noc/network"
	"github.com/sarchlab/cohsim/noc/topology"
)

// Builder can build platforms.
type Builder struct {
	engine    sim.Engine
	freq      sim.Freq
	cfg       Config
	workloads []privatecache.Workload
	txnLogger *log.Logger
	recorder  datarecording.DataRecorder
	monitor   *monitoring.Monitor
}

// MakeBuilder creates a builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{
		freq: 1 * sim.GHz,
		cfg:  DefaultConfig(),
	}
}

// WithEngine sets the engine. A serial engine is created if none is given.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the frequency of all the components.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithConfig sets the configuration.
func (b Builder) WithConfig(cfg Config) Builder {
	b.cfg = cfg
	return b
}

// WithWorkloads sets what each core runs, replacing the workload of the
// configuration.
func (b Builder) WithWorkloads(w ...privatecache.Workload) Builder {
	b.workloads = w
	return b
}

// WithTransactionLogger prints the directory transactions into the logger.
func (b Builder) WithTransactionLogger(logger *log.Logger) Builder {
	b.txnLogger = logger
	return b
}

// WithRecorder records the transactions of the directories and the caches.
func (b Builder) WithRecorder(recorder datarecording.DataRecorder) Builder {
	b.recorder = recorder
	return b
}

// WithMonitor registers the engine and the components to a monitor.
func (b Builder) WithMonitor(m *monitoring.Monitor) Builder {
	b.monitor = m
	return b
}

// Build creates the platform.
func (b Builder) Build() (*Platform, error) {
	cfg := b.cfg

	if err := cfg.Dir.checkRegionEviction(cfg.BlockSize); err != nil {
		return nil, err
	}

	if b.engine == nil {
		b.engine = sim.NewSerialEngine()
	}

	topo, err := topology.MakeBuilder().
		WithKind(cfg.Topology).
		WithWidth(cfg.Width).
		WithNumCores(cfg.NumCores).
		WithNumBanks(cfg.NumBanks).
		WithPlacement(cfg.Dir.Placement).
		Build()
	if err != nil {
		return nil, err
	}

	workloads, err := b.buildWorkloads()
	if err != nil {
		return nil, err
	}

	p := &Platform{
		Engine:   b.engine,
		Topology: topo,
		Mapper:   b.buildMapper(),
		cfg:      cfg,
	}

	p.Network = network.MakeBuilder().
		WithEngine(b.engine).
		WithFreq(b.freq).
		WithTopology(topo).
		WithBaseLatency(cfg.Net.BaseLatency).
		WithHopLatency(cfg.Net.HopLatency).
		WithEndpointCapacity(cfg.Net.Capacity).
		Build("Network")

	b.buildCaches(p, workloads)
	b.buildBanks(p)
	b.attachHooks(p)

	return p, nil
}

func (b Builder) buildMapper() mem.AddressToBankMapper {
	if b.cfg.NumBanks == 1 {
		return mem.SingleBankMapper{}
	}

	return mem.NewInterleavedAddressBankMapper(
		b.cfg.Dir.Interleaving, b.cfg.NumBanks)
}

func (b Builder) buildWorkloads() ([]privatecache.Workload, error) {
	cfg := b.cfg

	if b.workloads != nil {
		if len(b.workloads) != cfg.NumCores {
			return nil, fmt.Errorf("%d workloads given for %d cores",
				len(b.workloads), cfg.NumCores)
		}

		return b.workloads, nil
	}

	workloads := make([]privatecache.Workload, cfg.NumCores)

	if cfg.Workload.Trace != "" {
		f, err := os.Open(cfg.Workload.Trace)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		traces, err := privatecache.ReadTrace(f, cfg.NumCores)
		if err != nil {
			return nil, fmt.Errorf("trace %s: %w", cfg.Workload.Trace, err)
		}

		for i, t := range traces {
			workloads[i] = t
		}

		return workloads, nil
	}

	if cfg.Workload.Footprint < cfg.BlockSize {
		return nil, fmt.Errorf("footprint %d is smaller than a block",
			cfg.Workload.Footprint)
	}

	for i := range workloads {
		workloads[i] = privatecache.NewSynthetic(privatecache.SyntheticConfig{
			NumAccesses: cfg.Workload.NumAccesses,
			BaseAddr:    cfg.Workload.BaseAddr,
			Footprint:   cfg.Workload.Footprint,
			BlockSize:   cfg.BlockSize,
			ReadRatio:   cfg.Workload.ReadRatio,
			WriteRatio:  cfg.Workload.WriteRatio,
			Seed:        cfg.Workload.Seed + int64(i),
		})
	}

	return workloads, nil
}

func (b Builder) buildCaches(p *Platform, workloads []privatecache.Workload) {
	cfg := b.cfg

	builder := privatecache.MakeBuilder().
		WithEngine(b.engine).
		WithFreq(b.freq).
		WithNumCores(cfg.NumCores).
		WithBlockSize(cfg.BlockSize).
		WithNumSets(cfg.Cache.NumSets).
		WithNumWays(cfg.Cache.NumWays).
		WithMSHRSize(cfg.Cache.MSHRSize).
		WithPropagateCEs(cfg.PropagateCEs).
		WithAddressMapper(p.Mapper)

	for i := 0; i < cfg.NumCores; i++ {
		c := builder.WithCore(i).Build(fmt.Sprintf("Cache[%d]", i))

		p.Network.Attach(i, c, nil, c.InBuffer())
		c.SetOutQueues(
			p.Network.Endpoint(i, network.RequestChannel),
			p.Network.Endpoint(i, network.ReplyChannel),
		)
		c.SetWorkload(workloads[i])

		p.Caches = append(p.Caches, c)
	}
}

func (b Builder) sharingFactory() sharing.Factory {
	if b.cfg.Dir.Sharing == "limited" {
		return sharing.LimitedFactory{
			NumCores:    b.cfg.NumCores,
			MaxPointers: b.cfg.Dir.MaxPointers,
			Granularity: b.cfg.Dir.Granularity,
		}
	}

	return sharing.ExactFactory{NumCores: b.cfg.NumCores}
}

func (b Builder) buildBanks(p *Platform) {
	cfg := b.cfg
	probe := privatecache.NewProbe(p.Caches, cfg.Dir.RegionSize)

	builder := directory.MakeBuilder().
		WithEngine(b.engine).
		WithFreq(b.freq).
		WithNumCores(cfg.NumCores).
		WithBlockSize(cfg.BlockSize).
		WithAddressMapper(p.Mapper).
		WithTopology(p.Topology).
		WithStoreType(cfg.Dir.Type).
		WithNumSets(cfg.Dir.NumSets).
		WithNumWays(cfg.Dir.NumWays).
		WithSkew(cfg.Dir.Skew).
		WithReplacementPolicy(cfg.Dir.Policy).
		WithRegionSize(cfg.Dir.RegionSize).
		WithTrackShared(cfg.Dir.TrackShared).
		WithNumBuckets(cfg.Dir.NumBuckets).
		WithNumHashes(cfg.Dir.NumHashes).
		WithPartitioned(cfg.Dir.Partitioned).
		WithSharingFactory(b.sharingFactory()).
		WithRegionProbe(probe).
		WithResidencyProbe(probe).
		WithPropagateCEs(cfg.PropagateCEs).
		WithMAFSize(cfg.Dir.MAFSize).
		WithEBSize(cfg.Dir.EBSize).
		WithBufferSize(cfg.Dir.BufferSize).
		WithNumReqPerCycle(cfg.Dir.Width).
		WithLookupLatency(cfg.Dir.LookupLatency).
		WithMemLatency(cfg.Dir.MemLatency).
		WithOptimize3Hop(cfg.Dir.Optimize3Hop)

	for i := 0; i < cfg.NumBanks; i++ {
		bank := builder.WithBank(i).Build(fmt.Sprintf("Dir[%d]", i))

		p.Network.Attach(bank.Node(), bank,
			bank.RequestBuffer(), bank.ReplyBuffer())
		bank.SetOutQueue(p.Network.Endpoint(bank.Node(), network.ReplyChannel))

		p.Banks = append(p.Banks, bank)
	}
}

func (b Builder) attachHooks(p *Platform) {
	if b.txnLogger != nil {
		logger := directory.NewTransactionLogger(b.txnLogger, b.engine)
		for _, bank := range p.Banks {
			bank.AcceptHook(logger)
		}
	}

	if b.recorder != nil {
		p.recorder = b.recorder
		txn := datarecording.NewTxnRecorder(b.recorder, b.engine, b.freq)

		for _, bank := range p.Banks {
			bank.AcceptHook(txn)
		}

		for _, c := range p.Caches {
			c.AcceptHook(txn)
		}
	}

	if b.monitor != nil {
		b.monitor.RegisterEngine(b.engine)
		b.monitor.RegisterComponent(p.Network)

		for _, c := range p.Caches {
			b.monitor.RegisterComponent(c)
		}

		for _, bank := range p.Banks {
			b.monitor.RegisterComponent(bank)
		}
	}
}
