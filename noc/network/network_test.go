package network_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/noc/network"
	"github.com/sarchlab/cohsim/noc/topology"
)

type countingNotifier struct {
	ticks int
}

func (n *countingNotifier) TickLater() {
	n.ticks++
}

type arrival struct {
	msg   *coherence.Msg
	cycle uint64
}

type arrivalRecorder struct {
	engine   sim.Engine
	arrivals []arrival
}

func (r *arrivalRecorder) Func(ctx sim.HookCtx) {
	if ctx.Pos != network.HookPosDeliver {
		return
	}

	r.arrivals = append(r.arrivals, arrival{
		msg:   ctx.Item.(*coherence.Msg),
		cycle: (1 * sim.GHz).Cycle(r.engine.CurrentTime()),
	})
}

var _ = Describe("Network", func() {
	var (
		engine    sim.Engine
		net       *network.Comp
		bufs      []sim.Buffer
		replyBufs []sim.Buffer
		notifiers []*countingNotifier
		requests  []*network.Endpoint
		replies   []*network.Endpoint
		recorder  *arrivalRecorder
	)

	build := func(bufCap, epCap int) {
		topo, err := topology.MakeBuilder().
			WithKind(topology.KindMesh).
			WithWidth(2).
			WithNumCores(4).
			WithNumBanks(1).
			WithPlacement(topology.Edge).
			Build()
		Expect(err).NotTo(HaveOccurred())

		engine = sim.NewSerialEngine()
		net = network.MakeBuilder().
			WithEngine(engine).
			WithTopology(topo).
			WithBaseLatency(2).
			WithHopLatency(3).
			WithEndpointCapacity(epCap).
			Build("Net")

		recorder = &arrivalRecorder{engine: engine}
		net.AcceptHook(recorder)

		bufs = nil
		replyBufs = nil
		notifiers = nil
		requests = nil
		replies = nil

		for i := 0; i < topo.NumNodes(); i++ {
			buf := sim.NewBuffer("Net.Node.ReqBuf", bufCap)
			replyBuf := sim.NewBuffer("Net.Node.ReplyBuf", bufCap)
			n := &countingNotifier{}
			net.Attach(i, n, buf, replyBuf)

			bufs = append(bufs, buf)
			replyBufs = append(replyBufs, replyBuf)
			notifiers = append(notifiers, n)
			requests = append(requests, net.Endpoint(i, network.RequestChannel))
			replies = append(replies, net.Endpoint(i, network.ReplyChannel))
		}
	}

	reply := func(src, dst int) *coherence.Msg {
		return coherence.MakeMsgBuilder().
			WithType(coherence.InvalidateAck).
			WithSrc(src).
			WithDst(dst).
			WithAddr(0x40).
			Build()
	}

	msg := func(src, dst int, extra int) *coherence.Msg {
		return coherence.MakeMsgBuilder().
			WithType(coherence.ReadReq).
			WithSrc(src).
			WithDst(dst).
			WithAddr(0x40).
			WithExtraDelay(extra).
			Build()
	}

	It("should deliver after base plus per-hop latency", func() {
		build(4, 4)

		m := msg(2, 4, 0)
		requests[2].Enqueue(m)

		Expect(engine.Run()).To(Succeed())

		Expect(net.Latency(2, 4)).To(Equal(2 + 3*2))
		Expect(recorder.arrivals).To(HaveLen(1))
		Expect(recorder.arrivals[0].cycle).To(Equal(uint64(8)))
		Expect(bufs[4].Pop()).To(BeIdenticalTo(m))
		Expect(notifiers[4].ticks).To(BeNumerically(">", 0))
		Expect(net.Stats().Msgs).To(Equal(uint64(1)))
		Expect(net.Stats().Hops).To(Equal(uint64(2)))
	})

	It("should add the extra delay", func() {
		build(4, 4)

		requests[0].Enqueue(msg(0, 1, 10))

		Expect(engine.Run()).To(Succeed())

		Expect(recorder.arrivals[0].cycle).To(Equal(uint64(2 + 3 + 10)))
	})

	It("should keep messages between two nodes in order", func() {
		build(4, 4)

		slow := msg(0, 1, 20)
		fast := msg(0, 1, 0)
		other := msg(2, 1, 0)
		requests[0].Enqueue(slow)
		requests[0].Enqueue(fast)
		requests[2].Enqueue(other)

		Expect(engine.Run()).To(Succeed())

		Expect(recorder.arrivals).To(HaveLen(3))
		Expect(recorder.arrivals[0].msg).To(BeIdenticalTo(other))
		Expect(recorder.arrivals[1].msg).To(BeIdenticalTo(slow))
		Expect(recorder.arrivals[2].msg).To(BeIdenticalTo(fast))
	})

	It("should hold messages while the destination buffer is full", func() {
		build(1, 4)

		first := msg(0, 1, 0)
		second := msg(0, 1, 0)
		requests[0].Enqueue(first)
		requests[0].Enqueue(second)

		Expect(engine.Run()).To(Succeed())

		Expect(bufs[1].Size()).To(Equal(1))
		Expect(net.InFlight()).To(Equal(1))
		Expect(requests[0].Available()).To(BeTrue())

		Expect(bufs[1].Pop()).To(BeIdenticalTo(first))
		net.TickLater()
		Expect(engine.Run()).To(Succeed())

		Expect(net.InFlight()).To(Equal(0))
		Expect(bufs[1].Pop()).To(BeIdenticalTo(second))
	})

	It("should bound the undelivered messages per node", func() {
		build(4, 1)

		requests[0].Enqueue(msg(0, 1, 0))
		Expect(requests[0].Available()).To(BeFalse())
		Expect(func() { requests[0].Enqueue(msg(0, 1, 0)) }).To(Panic())

		Expect(engine.Run()).To(Succeed())

		Expect(requests[0].Available()).To(BeTrue())
		Expect(notifiers[0].ticks).To(Equal(1))
	})

	It("should reject a message with a foreign source", func() {
		build(4, 4)

		Expect(func() { requests[0].Enqueue(msg(1, 2, 0)) }).To(Panic())
	})

	It("should reject a message on the wrong channel", func() {
		build(4, 4)

		Expect(func() { replies[0].Enqueue(msg(0, 1, 0)) }).To(Panic())
		Expect(func() { requests[0].Enqueue(reply(0, 1)) }).To(Panic())
	})

	It("should deliver replies while requests are blocked", func() {
		build(1, 4)

		first := msg(0, 4, 0)
		blocked := msg(0, 4, 0)
		ack := reply(0, 4)
		requests[0].Enqueue(first)
		requests[0].Enqueue(blocked)
		replies[0].Enqueue(ack)

		Expect(engine.Run()).To(Succeed())

		Expect(bufs[4].Size()).To(Equal(1))
		Expect(replyBufs[4].Pop()).To(BeIdenticalTo(ack))
		Expect(net.InFlight()).To(Equal(1))
	})
})
