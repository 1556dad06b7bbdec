package platform

import (
	"fmt"
	"strings"

	"github.com/sarchlab/cohsim/config"
	"github.com/sarchlab/cohsim/noc/topology"
)

// DirConfig configures the directory banks.
type DirConfig struct {
	Type string

	NumSets     int
	NumWays     int
	Skew        bool
	Policy      string
	RegionSize  uint64
	TrackShared bool
	NumBuckets  int
	NumHashes   int
	Partitioned bool

	// Sharing is full for a bit vector per entry, or limited for a few
	// pointers that turn into coarse groups when they overflow.
	Sharing     string
	MaxPointers int
	Granularity int

	MAFSize       int
	EBSize        int
	BufferSize    int
	Width         int
	LookupLatency int
	MemLatency    int
	Optimize3Hop  bool

	Placement    topology.Placement
	Interleaving uint64
}

// CacheConfig configures the private caches.
type CacheConfig struct {
	NumSets  int
	NumWays  int
	MSHRSize int
}

// WorkloadConfig configures what the cores run. A trace file, if given,
// replaces the synthetic workload.
type WorkloadConfig struct {
	NumAccesses int
	BaseAddr    uint64
	Footprint   uint64
	ReadRatio   float64
	WriteRatio  float64
	Seed        int64
	Trace       string
}

// NetConfig configures the network.
type NetConfig struct {
	BaseLatency int
	HopLatency  int
	Capacity    int
}

// Config is the whole configuration of a platform.
type Config struct {
	NumCores     int
	NumBanks     int
	BlockSize    uint64
	Topology     topology.Kind
	Width        int
	PropagateCEs bool

	Net      NetConfig
	Dir      DirConfig
	Cache    CacheConfig
	Workload WorkloadConfig
}

// DefaultConfig returns a small 4-core system with one standard directory
// bank.
func DefaultConfig() Config {
	return Config{
		NumCores:     4,
		NumBanks:     1,
		BlockSize:    64,
		Topology:     topology.KindMesh,
		PropagateCEs: true,
		Net: NetConfig{
			BaseLatency: 1,
			HopLatency:  1,
			Capacity:    16,
		},
		Dir: DirConfig{
			Type:          "standard",
			NumSets:       256,
			NumWays:       8,
			Policy:        "lru",
			RegionSize:    1024,
			NumBuckets:    256,
			NumHashes:     2,
			Sharing:       "full",
			MaxPointers:   4,
			Granularity:   2,
			MAFSize:       32,
			EBSize:        16,
			BufferSize:    16,
			Width:         1,
			LookupLatency: 2,
			MemLatency:    100,
			Placement:     topology.Distributed,
			Interleaving:  4096,
		},
		Cache: CacheConfig{
			NumSets:  64,
			NumWays:  4,
			MSHRSize: 8,
		},
		Workload: WorkloadConfig{
			NumAccesses: 1000,
			Footprint:   64 * 1024,
			ReadRatio:   0.6,
			WriteRatio:  0.3,
			Seed:        1,
		},
	}
}

var groups = []string{"net", "dir", "cache", "workload"}

var dirKeys = map[string][]string{
	"standard": {
		"sets", "assoc", "skew", "policy",
		"sharing", "pointers", "granularity",
	},
	"region": {
		"sets", "assoc", "policy", "rsize", "track_shared",
		"sharing", "pointers", "granularity",
	},
	"tagless": {"buckets", "hash", "partitioned"},
	"infinite": {
		"sharing", "pointers", "granularity",
	},
}

var dirCommonKeys = []string{
	"type", "maf", "eb", "buffer", "width", "lookup", "mem_latency",
	"optimize3hop", "loc", "interleaving",
}

// paramReader keeps the first error so that a run of reads needs a single
// check.
type paramReader struct {
	p   config.Params
	err error
}

func (r *paramReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *paramReader) int(key string, def int) int {
	v, err := r.p.Int(key, def)
	if err != nil {
		r.fail(err)
		return def
	}

	return v
}

func (r *paramReader) positive(key string, def int) int {
	v := r.int(key, def)
	if v <= 0 {
		r.fail(fmt.Errorf("config key %s must be positive, got %d", key, v))
	}

	return v
}

func (r *paramReader) pow2(key string, def int) int {
	v, err := r.p.PowerOfTwo(key, def)
	if err != nil {
		r.fail(err)
		return def
	}

	return v
}

func (r *paramReader) uint64(key string, def uint64) uint64 {
	v, err := r.p.Uint64(key, def)
	if err != nil {
		r.fail(err)
		return def
	}

	return v
}

func (r *paramReader) float(key string, def float64) float64 {
	v, err := r.p.Float(key, def)
	if err != nil {
		r.fail(err)
		return def
	}

	return v
}

func (r *paramReader) bool(key string, def bool) bool {
	v, err := r.p.Bool(key, def)
	if err != nil {
		r.fail(err)
		return def
	}

	return v
}

// ConfigFromParams applies the parameters over the default configuration.
// Every directory type accepts only the keys that it uses.
func ConfigFromParams(p config.Params) (Config, error) {
	cfg := DefaultConfig()

	if err := checkGroups(p); err != nil {
		return cfg, err
	}

	if err := readTop(p.Top(), &cfg); err != nil {
		return cfg, err
	}

	if err := readNet(p.Sub("net"), &cfg.Net); err != nil {
		return cfg, err
	}

	if err := readDir(p.Sub("dir"), cfg.BlockSize, &cfg.Dir); err != nil {
		return cfg, err
	}

	if err := readCache(p.Sub("cache"), &cfg.Cache); err != nil {
		return cfg, err
	}

	if err := readWorkload(p.Sub("workload"), &cfg.Workload); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func checkGroups(p config.Params) error {
	for _, k := range p.Keys() {
		prefix, _, found := strings.Cut(k, ".")
		if !found {
			continue
		}

		known := false

		for _, g := range groups {
			if prefix == g {
				known = true
			}
		}

		if !known {
			return fmt.Errorf("unknown config group %s in key %s", prefix, k)
		}
	}

	return nil
}

func readTop(p config.Params, cfg *Config) error {
	err := p.Restrict(
		"cores", "banks", "block", "topology", "width", "propagate_ces")
	if err != nil {
		return err
	}

	r := &paramReader{p: p}
	cfg.NumCores = r.positive("cores", cfg.NumCores)
	cfg.NumBanks = r.positive("banks", cfg.NumBanks)
	cfg.BlockSize = uint64(r.pow2("block", int(cfg.BlockSize)))
	cfg.Topology = topology.Kind(p.String("topology", string(cfg.Topology)))
	cfg.Width = r.int("width", cfg.Width)
	cfg.PropagateCEs = r.bool("propagate_ces", cfg.PropagateCEs)

	switch cfg.Topology {
	case topology.KindMesh, topology.KindTorus, topology.KindCrossbar:
	default:
		r.fail(fmt.Errorf("unknown topology %s", cfg.Topology))
	}

	return r.err
}

func readNet(p config.Params, cfg *NetConfig) error {
	if err := p.Restrict("base", "hop", "capacity"); err != nil {
		return fmt.Errorf("net: %w", err)
	}

	r := &paramReader{p: p}
	cfg.BaseLatency = r.int("base", cfg.BaseLatency)
	cfg.HopLatency = r.int("hop", cfg.HopLatency)
	cfg.Capacity = r.positive("capacity", cfg.Capacity)

	if cfg.BaseLatency < 0 || cfg.HopLatency < 0 {
		r.fail(fmt.Errorf("network latency cannot be negative"))
	}

	return r.err
}

func readDir(p config.Params, blockSize uint64, cfg *DirConfig) error {
	cfg.Type = strings.ToLower(p.String("type", cfg.Type))

	specific, ok := dirKeys[cfg.Type]
	if !ok {
		return fmt.Errorf("unknown directory type %s", cfg.Type)
	}

	allowed := append(append([]string{}, dirCommonKeys...), specific...)
	if err := p.Restrict(allowed...); err != nil {
		return fmt.Errorf("dir.type=%s: %w", cfg.Type, err)
	}

	r := &paramReader{p: p}
	cfg.NumSets = r.pow2("sets", cfg.NumSets)
	cfg.NumWays = r.positive("assoc", cfg.NumWays)
	cfg.Skew = r.bool("skew", cfg.Skew)
	cfg.Policy = strings.ToLower(p.String("policy", cfg.Policy))
	cfg.RegionSize = uint64(r.pow2("rsize", int(cfg.RegionSize)))
	cfg.TrackShared = r.bool("track_shared", cfg.TrackShared)
	cfg.NumBuckets = r.positive("buckets", cfg.NumBuckets)
	cfg.NumHashes = r.positive("hash", cfg.NumHashes)
	cfg.Partitioned = r.bool("partitioned", cfg.Partitioned)
	cfg.Sharing = strings.ToLower(p.String("sharing", cfg.Sharing))
	cfg.MaxPointers = r.positive("pointers", cfg.MaxPointers)
	cfg.Granularity = r.positive("granularity", cfg.Granularity)
	cfg.MAFSize = r.positive("maf", cfg.MAFSize)
	cfg.EBSize = r.positive("eb", cfg.EBSize)
	cfg.BufferSize = r.positive("buffer", cfg.BufferSize)
	cfg.Width = r.positive("width", cfg.Width)
	cfg.LookupLatency = r.int("lookup", cfg.LookupLatency)
	cfg.MemLatency = r.int("mem_latency", cfg.MemLatency)
	cfg.Optimize3Hop = r.bool("optimize3hop", cfg.Optimize3Hop)
	cfg.Placement = topology.Placement(
		strings.ToLower(p.String("loc", string(cfg.Placement))))
	cfg.Interleaving = uint64(r.pow2("interleaving", int(cfg.Interleaving)))

	if cfg.Sharing != "full" && cfg.Sharing != "limited" {
		r.fail(fmt.Errorf("unknown sharing representation %s", cfg.Sharing))
	}

	if cfg.Policy != "lru" && cfg.Policy != "minsharers" {
		r.fail(fmt.Errorf("unknown replacement policy %s", cfg.Policy))
	}

	if cfg.Placement != topology.Distributed && cfg.Placement != topology.Edge {
		r.fail(fmt.Errorf("unknown directory location %s", cfg.Placement))
	}

	if cfg.LookupLatency < 0 || cfg.MemLatency < 0 {
		r.fail(fmt.Errorf("directory latency cannot be negative"))
	}

	r.fail(cfg.checkRegionEviction(blockSize))

	return r.err
}

// checkRegionEviction makes sure that the eviction buffer can take every
// block of an evicted region. A smaller buffer would park the eviction
// forever.
func (cfg DirConfig) checkRegionEviction(blockSize uint64) error {
	if cfg.Type != "region" {
		return nil
	}

	blocks := cfg.RegionSize / blockSize
	if uint64(cfg.EBSize) < blocks {
		return fmt.Errorf(
			"eviction buffer of %d cannot hold the %d blocks of a region",
			cfg.EBSize, blocks)
	}

	return nil
}

func readCache(p config.Params, cfg *CacheConfig) error {
	if err := p.Restrict("sets", "assoc", "mshr"); err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	r := &paramReader{p: p}
	cfg.NumSets = r.pow2("sets", cfg.NumSets)
	cfg.NumWays = r.positive("assoc", cfg.NumWays)
	cfg.MSHRSize = r.positive("mshr", cfg.MSHRSize)

	return r.err
}

func readWorkload(p config.Params, cfg *WorkloadConfig) error {
	err := p.Restrict(
		"accesses", "base", "footprint", "reads", "writes", "seed", "trace")
	if err != nil {
		return fmt.Errorf("workload: %w", err)
	}

	r := &paramReader{p: p}
	cfg.NumAccesses = r.int("accesses", cfg.NumAccesses)
	cfg.BaseAddr = r.uint64("base", cfg.BaseAddr)
	cfg.Footprint = r.uint64("footprint", cfg.Footprint)
	cfg.ReadRatio = r.float("reads", cfg.ReadRatio)
	cfg.WriteRatio = r.float("writes", cfg.WriteRatio)
	cfg.Seed = int64(r.int("seed", int(cfg.Seed)))
	cfg.Trace = p.String("trace", cfg.Trace)

	if cfg.NumAccesses < 0 {
		r.fail(fmt.Errorf("number of accesses cannot be negative"))
	}

	if cfg.ReadRatio < 0 || cfg.WriteRatio < 0 ||
		cfg.ReadRatio+cfg.WriteRatio > 1 {
		r.fail(fmt.Errorf("read and write ratios must add up to at most 1"))
	}

	return r.err
}
