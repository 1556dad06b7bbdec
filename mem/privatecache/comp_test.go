package privatecache

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/cohsim/mem/coherence"
	"go.uber.org/mock/gomock"
)

const bankNode = 2

func fromDir(t coherence.MsgType, addr uint64) *coherence.Msg {
	return coherence.MakeMsgBuilder().
		WithType(t).
		WithSrc(bankNode).
		WithDst(0).
		WithAddr(addr).
		WithRequester(0).
		Build()
}

func snoop(t coherence.MsgType, addr uint64, requester int) *coherence.Msg {
	return coherence.MakeMsgBuilder().
		WithType(t).
		WithSrc(bankNode).
		WithDst(0).
		WithAddr(addr).
		WithRequester(requester).
		WithTxnID("txn").
		Build()
}

var _ = Describe("Private Cache", func() {
	var (
		mockCtrl *gomock.Controller
		reqOut   *MockOutQueue
		rspOut   *MockOutQueue
		reqs     []*coherence.Msg
		rsps     []*coherence.Msg
		builder  Builder
		cache    *Comp
	)

	run := func(accesses ...Access) {
		cache.SetWorkload(NewSliceWorkload(accesses))
	}

	deliver := func(msgs ...*coherence.Msg) {
		for _, m := range msgs {
			cache.InBuffer().Push(m)
		}

		cache.Tick()
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		reqs = nil
		rsps = nil

		reqOut = NewMockOutQueue(mockCtrl)
		reqOut.EXPECT().Available().Return(true).AnyTimes()
		reqOut.EXPECT().Enqueue(gomock.Any()).
			Do(func(m *coherence.Msg) { reqs = append(reqs, m) }).
			AnyTimes()

		rspOut = NewMockOutQueue(mockCtrl)
		rspOut.EXPECT().Available().Return(true).AnyTimes()
		rspOut.EXPECT().Enqueue(gomock.Any()).
			Do(func(m *coherence.Msg) { rsps = append(rsps, m) }).
			AnyTimes()

		builder = MakeBuilder().
			WithEngine(sim.NewSerialEngine()).
			WithCore(0).
			WithNumCores(2).
			WithNumSets(4).
			WithNumWays(2).
			WithMSHRSize(4)
	})

	JustBeforeEach(func() {
		cache = builder.Build("Cache")
		cache.SetOutQueues(reqOut, rspOut)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should fill an exclusive block and write it silently", func() {
		run(Access{Op: OpRead, Addr: 0x100}, Access{Op: OpWrite, Addr: 0x104})

		cache.Tick()
		Expect(reqs).To(HaveLen(1))
		Expect(reqs[0].Type).To(Equal(coherence.ReadReq))
		Expect(reqs[0].Dst).To(Equal(bankNode))
		Expect(reqs[0].Addr).To(Equal(uint64(0x100)))

		Expect(cache.Tick()).To(BeFalse())

		deliver(fromDir(coherence.MissReplyWritable, 0x100))

		Expect(reqs).To(HaveLen(1))
		Expect(cache.LineState(0x100)).To(Equal(Modified))
		Expect(cache.Stats().Hits).To(Equal(uint64(1)))
		Expect(cache.Stats().Misses).To(Equal(uint64(1)))
		Expect(cache.Done()).To(BeTrue())
	})

	It("should upgrade a shared block", func() {
		run(Access{Op: OpFetch, Addr: 0x100}, Access{Op: OpWrite, Addr: 0x100})

		cache.Tick()
		Expect(reqs[0].Type).To(Equal(coherence.FetchReq))

		deliver(fromDir(coherence.MissReply, 0x100))
		Expect(reqs).To(HaveLen(2))
		Expect(reqs[1].Type).To(Equal(coherence.UpgradeReq))
		Expect(cache.LineState(0x100)).To(Equal(Shared))

		deliver(fromDir(coherence.UpgradeReply, 0x100))
		Expect(cache.LineState(0x100)).To(Equal(Modified))
		Expect(cache.Stats().Upgrades).To(Equal(uint64(1)))
	})

	It("should take the block again if an upgrade loses the race", func() {
		run(Access{Op: OpRead, Addr: 0x100}, Access{Op: OpWrite, Addr: 0x100})

		cache.Tick()
		deliver(fromDir(coherence.MissReply, 0x100))
		Expect(reqs[1].Type).To(Equal(coherence.UpgradeReq))

		deliver(snoop(coherence.Invalidate, 0x100, 1))
		Expect(rsps).To(HaveLen(1))
		Expect(rsps[0].Type).To(Equal(coherence.InvalidateAck))
		Expect(rsps[0].Dst).To(Equal(bankNode))
		Expect(rsps[0].TxnID).To(Equal("txn"))
		Expect(cache.LineState(0x100)).To(Equal(Invalid))

		deliver(fromDir(coherence.MissReplyDirty, 0x100))
		Expect(cache.LineState(0x100)).To(Equal(Modified))
		Expect(cache.Done()).To(BeTrue())
	})

	It("should forward an owned block", func() {
		run(Access{Op: OpWrite, Addr: 0x100})

		cache.Tick()
		deliver(fromDir(coherence.MissReplyDirty, 0x100))
		Expect(cache.LineState(0x100)).To(Equal(Modified))

		s := snoop(coherence.ReturnReq, 0x100, 1)
		s.FwdTo = 1
		s.FwdType = coherence.FwdReplyOwned
		deliver(s)

		Expect(rsps).To(HaveLen(2))
		Expect(rsps[0].Type).To(Equal(coherence.FwdReplyOwned))
		Expect(rsps[0].Dst).To(Equal(1))
		Expect(rsps[0].TxnID).To(Equal("txn"))
		Expect(rsps[1].Type).To(Equal(coherence.ReturnReplyDirty))
		Expect(rsps[1].Dst).To(Equal(bankNode))
		Expect(cache.LineState(0x100)).To(Equal(Shared))
	})

	It("should recall an exclusive block", func() {
		run(Access{Op: OpRead, Addr: 0x100})

		cache.Tick()
		deliver(fromDir(coherence.MissReplyWritable, 0x100))

		s := snoop(coherence.ReturnInvalidate, 0x100, 1)
		s.ForEvict = true
		deliver(s)

		Expect(rsps).To(HaveLen(1))
		Expect(rsps[0].Type).To(Equal(coherence.InvUpdateAck))
		Expect(rsps[0].ForEvict).To(BeTrue())
		Expect(cache.LineState(0x100)).To(Equal(Invalid))
	})

	It("should evict and wait for the acknowledgment", func() {
		run(
			Access{Op: OpRead, Addr: 0x000},
			Access{Op: OpRead, Addr: 0x100},
			Access{Op: OpRead, Addr: 0x200},
			Access{Op: OpRead, Addr: 0x000},
		)

		cache.Tick()
		cache.Tick()
		Expect(cache.Tick()).To(BeFalse())
		Expect(reqs).To(HaveLen(2))

		deliver(
			fromDir(coherence.MissReplyWritable, 0x000),
			fromDir(coherence.MissReply, 0x100),
		)
		Expect(reqs).To(HaveLen(3))
		Expect(reqs[2].Addr).To(Equal(uint64(0x200)))

		deliver(fromDir(coherence.MissReply, 0x200))
		Expect(reqs).To(HaveLen(4))
		Expect(reqs[3].Type).To(Equal(coherence.EvictWritable))
		Expect(reqs[3].Addr).To(Equal(uint64(0x000)))
		Expect(cache.LineState(0x000)).To(Equal(Invalid))

		deliver(snoop(coherence.ReturnReq, 0x000, 1))
		Expect(rsps).To(HaveLen(1))
		Expect(rsps[0].Type).To(Equal(coherence.SnoopNAck))
		Expect(rsps[0].EvictInFlight).To(BeTrue())

		Expect(cache.Tick()).To(BeFalse())
		Expect(reqs).To(HaveLen(4))

		deliver(fromDir(coherence.EvictAck, 0x000))
		Expect(reqs).To(HaveLen(5))
		Expect(reqs[4].Type).To(Equal(coherence.ReadReq))
		Expect(reqs[4].Addr).To(Equal(uint64(0x000)))
	})

	It("should hold messages until the network takes them", func() {
		busy := NewMockOutQueue(mockCtrl)
		busy.EXPECT().Available().Return(false).Times(1)
		cache.SetOutQueues(busy, rspOut)

		run(Access{Op: OpRead, Addr: 0x100})
		cache.Tick()
		Expect(cache.Done()).To(BeFalse())

		cache.SetOutQueues(reqOut, rspOut)
		cache.Tick()
		Expect(reqs).To(HaveLen(1))
	})

	Context("when clean evictions are not propagated", func() {
		BeforeEach(func() {
			builder = builder.WithPropagateCEs(false).WithNumSets(1).WithNumWays(1)
		})

		It("should drop clean blocks silently", func() {
			run(
				Access{Op: OpRead, Addr: 0x000},
				Access{Op: OpRead, Addr: 0x040},
				Access{Op: OpWrite, Addr: 0x080},
				Access{Op: OpRead, Addr: 0x0c0},
			)

			cache.Tick()
			deliver(fromDir(coherence.MissReply, 0x000))
			deliver(fromDir(coherence.MissReplyWritable, 0x040))
			deliver(fromDir(coherence.MissReplyDirty, 0x080))
			deliver(fromDir(coherence.MissReply, 0x0c0))

			Expect(cache.Stats().SilentDrops).To(Equal(uint64(2)))
			Expect(reqs).To(HaveLen(5))
			Expect(reqs[4].Type).To(Equal(coherence.EvictDirty))
			Expect(reqs[4].Addr).To(Equal(uint64(0x080)))
		})
	})

	It("should answer the probe with held and pending blocks", func() {
		run(Access{Op: OpRead, Addr: 0x100}, Access{Op: OpRead, Addr: 0x840})

		cache.Tick()
		deliver(fromDir(coherence.MissReply, 0x100))

		probe := NewProbe([]*Comp{cache}, 1024)

		Expect(probe.IsRegionPresent(0, 0x000)).To(BeTrue())
		Expect(probe.IsRegionPresent(0, 0x800)).To(BeTrue())
		Expect(probe.IsRegionPresent(0, 0x400)).To(BeFalse())
		Expect(probe.IsBucketPresent(0, func(a uint64) bool {
			return a == 0x100
		})).To(BeTrue())
		Expect(probe.IsBucketPresent(0, func(a uint64) bool {
			return a == 0x140
		})).To(BeFalse())

		Expect(cache.Lines()).To(ConsistOf(Line{Addr: 0x100, State: Shared}))
	})
})
