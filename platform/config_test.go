package platform

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cohsim/config"
	"github.com/sarchlab/cohsim/noc/topology"
)

var _ = Describe("Config", func() {
	var p config.Params

	BeforeEach(func() {
		p = config.New()
	})

	It("should use the defaults", func() {
		cfg, err := ConfigFromParams(p)

		Expect(err).ToNot(HaveOccurred())
		Expect(cfg).To(Equal(DefaultConfig()))
	})

	It("should apply the parameters", func() {
		Expect(p.SetAll([]string{
			"cores=16",
			"banks=4",
			"topology=torus",
			"net.hop=2",
			"dir.type=region",
			"dir.rsize=2048",
			"dir.eb=32",
			"dir.track_shared=true",
			"dir.Loc=edge",
			"dir.sharing=limited",
			"dir.pointers=2",
			"cache.assoc=2",
			"workload.reads=0.5",
			"workload.base=0x10000",
		})).To(Succeed())

		cfg, err := ConfigFromParams(p)

		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.NumCores).To(Equal(16))
		Expect(cfg.NumBanks).To(Equal(4))
		Expect(cfg.Topology).To(Equal(topology.KindTorus))
		Expect(cfg.Net.HopLatency).To(Equal(2))
		Expect(cfg.Dir.Type).To(Equal("region"))
		Expect(cfg.Dir.RegionSize).To(Equal(uint64(2048)))
		Expect(cfg.Dir.TrackShared).To(BeTrue())
		Expect(cfg.Dir.Placement).To(Equal(topology.Edge))
		Expect(cfg.Dir.Sharing).To(Equal("limited"))
		Expect(cfg.Dir.MaxPointers).To(Equal(2))
		Expect(cfg.Cache.NumWays).To(Equal(2))
		Expect(cfg.Workload.ReadRatio).To(Equal(0.5))
		Expect(cfg.Workload.BaseAddr).To(Equal(uint64(0x10000)))
	})

	It("should reject keys that the directory type does not use", func() {
		Expect(p.SetAll([]string{"dir.type=tagless", "dir.sets=64"})).
			To(Succeed())

		_, err := ConfigFromParams(p)

		Expect(err).To(MatchError(ContainSubstring("dir.type=tagless")))
		Expect(err).To(MatchError(ContainSubstring("sets")))
	})

	It("should reject an eviction buffer smaller than a region", func() {
		Expect(p.SetAll([]string{
			"dir.type=region",
			"dir.rsize=1024",
			"dir.eb=8",
		})).To(Succeed())

		_, err := ConfigFromParams(p)
		Expect(err).To(MatchError(ContainSubstring("16 blocks of a region")))

		p.Put("dir.eb", "16")
		_, err = ConfigFromParams(p)
		Expect(err).ToNot(HaveOccurred())
	})

	It("should reject unknown keys and groups", func() {
		p.Put("threads", "4")
		_, err := ConfigFromParams(p)
		Expect(err).To(MatchError(ContainSubstring("threads")))

		p = config.New()
		p.Put("gpu.sets", "4")
		_, err = ConfigFromParams(p)
		Expect(err).To(MatchError(ContainSubstring("gpu")))
	})

	It("should reject bad values", func() {
		for _, pair := range []string{
			"block=48",
			"cores=0",
			"topology=ring",
			"dir.type=sparse",
			"dir.policy=random",
			"dir.sets=100",
			"dir.mem_latency=-1",
			"cache.mshr=abc",
			"workload.reads=0.8",
		} {
			p = config.New()
			Expect(p.Set(pair)).To(Succeed())
			if pair == "workload.reads=0.8" {
				p.Put("workload.writes", "0.5")
			}

			_, err := ConfigFromParams(p)
			Expect(err).To(HaveOccurred(), pair)
		}
	})
})
