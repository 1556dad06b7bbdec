package platform

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cohsim/datarecording"
	"github.com/sarchlab/cohsim/mem/privatecache"
	"github.com/sarchlab/cohsim/noc/topology"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Dir.NumSets = 8
	cfg.Dir.NumWays = 2
	cfg.Dir.NumBuckets = 16
	cfg.Dir.MAFSize = 8
	cfg.Dir.EBSize = 2
	cfg.Dir.MemLatency = 20
	cfg.Cache.NumSets = 4
	cfg.Cache.NumWays = 2
	cfg.Cache.MSHRSize = 4
	cfg.Workload.NumAccesses = 300
	cfg.Workload.Footprint = 4096

	return cfg
}

func mustBuild(b Builder) *Platform {
	p, err := b.Build()
	Expect(err).ToNot(HaveOccurred())

	return p
}

func slice(accesses ...privatecache.Access) privatecache.Workload {
	return privatecache.NewSliceWorkload(accesses)
}

var _ = Describe("Platform", func() {
	It("should forward a dirty block to a reader", func() {
		cfg := smallConfig()
		cfg.NumCores = 2

		p := mustBuild(MakeBuilder().
			WithConfig(cfg).
			WithWorkloads(
				slice(privatecache.Access{Op: privatecache.OpWrite, Addr: 0x1000}),
				slice(privatecache.Access{Op: privatecache.OpRead, Addr: 0x1000}),
			))

		Expect(p.Run()).To(Succeed())

		Expect(p.Caches[0].LineState(0x1000)).To(Equal(privatecache.Shared))
		Expect(p.Caches[1].LineState(0x1000)).To(Equal(privatecache.Shared))

		st, found := p.Banks[0].Sharers(0x1000)
		Expect(found).To(BeTrue())
		Expect(st.Sharers()).To(ConsistOf(0, 1))
		Expect(st.Exclusive()).To(BeFalse())

		s := p.Summarize()
		Expect(s.Violations).To(BeEmpty())
		Expect(s.Banks[0].Forwards).To(Equal(uint64(1)))
		Expect(s.Caches[0].ForwardsSent).To(Equal(uint64(1)))
	})

	It("should invalidate the readers of a written block", func() {
		cfg := smallConfig()
		cfg.NumCores = 3
		read := privatecache.Access{Op: privatecache.OpRead, Addr: 0x2040}

		p := mustBuild(MakeBuilder().
			WithConfig(cfg).
			WithWorkloads(
				slice(read, read),
				slice(read),
				slice(read, privatecache.Access{
					Op: privatecache.OpWrite, Addr: 0x2040,
				}),
			))

		Expect(p.Run()).To(Succeed())

		Expect(p.Caches[2].LineState(0x2040)).To(Equal(privatecache.Modified))
		Expect(p.Caches[0].LineState(0x2040)).To(Equal(privatecache.Invalid))
		Expect(p.Caches[1].LineState(0x2040)).To(Equal(privatecache.Invalid))
		Expect(p.Summarize().Violations).To(BeEmpty())
	})

	DescribeTable("should stay coherent under a random workload",
		func(tune func(cfg *Config)) {
			cfg := smallConfig()
			tune(&cfg)

			p := mustBuild(MakeBuilder().WithConfig(cfg))

			Expect(p.Run()).To(Succeed())

			s := p.Summarize()
			Expect(s.Violations).To(BeEmpty())
			Expect(s.Cycles).To(BeNumerically(">", 0))

			for _, c := range s.Caches {
				Expect(c.Accesses).To(Equal(uint64(cfg.Workload.NumAccesses)))
			}

			var completed uint64
			for _, b := range s.Banks {
				completed += b.Completed
			}

			Expect(completed).To(BeNumerically(">", 0))
		},
		Entry("standard", func(*Config) {}),
		Entry("standard with limited pointers", func(cfg *Config) {
			cfg.Dir.Sharing = "limited"
			cfg.Dir.MaxPointers = 1
		}),
		Entry("standard with min-sharers victims", func(cfg *Config) {
			cfg.Dir.Policy = "minsharers"
			cfg.Dir.Skew = true
		}),
		Entry("two banks on a torus", func(cfg *Config) {
			cfg.NumBanks = 2
			cfg.Topology = topology.KindTorus
			cfg.Dir.Interleaving = 256
			cfg.Dir.Optimize3Hop = true
		}),
		Entry("edge banks without clean evictions", func(cfg *Config) {
			cfg.NumBanks = 2
			cfg.Dir.Placement = topology.Edge
			cfg.PropagateCEs = false
		}),
		Entry("region", func(cfg *Config) {
			cfg.Dir.Type = "region"
			cfg.Dir.RegionSize = 512
			cfg.Dir.EBSize = 8
			cfg.Dir.TrackShared = true
		}),
		Entry("region with limited pointers", func(cfg *Config) {
			cfg.Dir.Type = "region"
			cfg.Dir.RegionSize = 512
			cfg.Dir.EBSize = 8
			cfg.Dir.TrackShared = true
			cfg.Dir.Sharing = "limited"
			cfg.Dir.MaxPointers = 1
		}),
		Entry("region evicting whole regions from a small store", func(cfg *Config) {
			cfg.Dir.Type = "region"
			cfg.Dir.RegionSize = 512
			cfg.Dir.EBSize = 8
			cfg.Dir.NumSets = 2
			cfg.Dir.NumWays = 1
		}),
		Entry("tagless", func(cfg *Config) {
			cfg.Dir.Type = "tagless"
			cfg.Dir.Partitioned = true
		}),
		Entry("tagless with a shared array", func(cfg *Config) {
			cfg.Dir.Type = "tagless"
			cfg.Dir.NumBuckets = 8
			cfg.Dir.NumHashes = 2
			cfg.Dir.Partitioned = false
		}),
		Entry("infinite on a crossbar", func(cfg *Config) {
			cfg.Dir.Type = "infinite"
			cfg.Topology = topology.KindCrossbar
			cfg.Dir.LookupLatency = 0
		}),
	)

	It("should read the workload from a trace", func() {
		dir := GinkgoT().TempDir()
		trace := filepath.Join(dir, "trace.txt")
		Expect(os.WriteFile(trace, []byte("0 W 0x40\n1 R 0x40\n1 F 0x80\n"),
			0o644)).To(Succeed())

		cfg := smallConfig()
		cfg.NumCores = 2
		cfg.Workload.Trace = trace

		p := mustBuild(MakeBuilder().WithConfig(cfg))
		Expect(p.Run()).To(Succeed())

		s := p.Summarize()
		Expect(s.Caches[0].Accesses).To(Equal(uint64(1)))
		Expect(s.Caches[1].Accesses).To(Equal(uint64(2)))
	})

	It("should reject a workload per core mismatch", func() {
		cfg := smallConfig()
		cfg.NumCores = 2

		_, err := MakeBuilder().
			WithConfig(cfg).
			WithWorkloads(slice()).
			Build()

		Expect(err).To(HaveOccurred())
	})

	It("should log and record the transactions", func() {
		var buf bytes.Buffer
		path := filepath.Join(GinkgoT().TempDir(), "rec")
		recorder := datarecording.New(path)

		cfg := smallConfig()
		cfg.Workload.NumAccesses = 20

		p := mustBuild(MakeBuilder().
			WithConfig(cfg).
			WithTransactionLogger(log.New(&buf, "", 0)).
			WithRecorder(recorder))

		Expect(p.Run()).To(Succeed())
		p.Record(p.Summarize())
		Expect(recorder.Close()).To(Succeed())

		Expect(buf.String()).To(ContainSubstring("Dir[0], start"))
		Expect(buf.String()).To(ContainSubstring("Dir[0], end"))

		reader := datarecording.NewReader(path + ".sqlite3")
		defer reader.Close()

		reader.MapTable("bank_summary", BankSummary{})
		reader.MapTable("txn", datarecording.TxnEntry{})

		_, banks, err := reader.Query(context.Background(), "bank_summary",
			datarecording.QueryParams{})
		Expect(err).ToNot(HaveOccurred())
		Expect(banks).To(Equal(1))

		_, txns, err := reader.Query(context.Background(), "txn",
			datarecording.QueryParams{Where: "Kind = ?", Args: []any{"dir_txn"}})
		Expect(err).ToNot(HaveOccurred())
		Expect(uint64(txns)).To(Equal(p.Banks[0].Stats().Completed))
	})

	It("should restore a checkpoint into a new platform", func() {
		cfg := smallConfig()
		cfg.NumBanks = 2

		p := mustBuild(MakeBuilder().WithConfig(cfg))
		Expect(p.Run()).To(Succeed())

		var buf bytes.Buffer
		Expect(p.SaveCheckpoint(&buf)).To(Succeed())

		q := mustBuild(MakeBuilder().WithConfig(cfg))
		Expect(q.LoadCheckpoint(buf.Bytes())).To(Succeed())

		for i := range p.Banks {
			Expect(q.Banks[i].Occupancy()).To(Equal(p.Banks[i].Occupancy()))
		}

		for _, c := range p.Caches {
			for _, l := range c.Lines() {
				st, found := q.Banks[q.Mapper.Find(l.Addr)].Sharers(l.Addr)
				Expect(found).To(BeTrue())
				Expect(st.IsSharer(c.Core())).To(BeTrue())
			}
		}
	})

	It("should reject an eviction buffer smaller than a region", func() {
		cfg := smallConfig()
		cfg.Dir.Type = "region"
		cfg.Dir.RegionSize = 512

		_, err := MakeBuilder().WithConfig(cfg).Build()
		Expect(err).To(MatchError(ContainSubstring("blocks of a region")))
	})

	It("should refuse to checkpoint a region directory", func() {
		cfg := smallConfig()
		cfg.Dir.Type = "region"
		cfg.Dir.EBSize = 16

		p := mustBuild(MakeBuilder().WithConfig(cfg))

		var buf bytes.Buffer
		Expect(p.SaveCheckpoint(&buf)).ToNot(Succeed())
	})
})
