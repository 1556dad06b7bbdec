// Package network provides an interconnect that delivers coherence messages
// after a latency that depends on the distance between the nodes.
package network

import (
	"log"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/noc/topology"
)

// HookPosDeliver marks when a message is delivered to its destination.
var HookPosDeliver = &sim.HookPos{Name: "Network Deliver"}

// Channel is a virtual network. Requests travel on their own channel, so a
// directory bank that stops taking requests still receives snoop replies.
type Channel int

// The virtual channels.
const (
	RequestChannel Channel = iota
	ReplyChannel

	NumChannels
)

func (ch Channel) String() string {
	if ch == RequestChannel {
		return "Request"
	}

	return "Reply"
}

// ChannelOf returns the channel that a message type travels on.
func ChannelOf(t coherence.MsgType) Channel {
	if t.IsRequest() {
		return RequestChannel
	}

	return ReplyChannel
}

// A Notifier is woken up when the network delivers a message to it or when
// it can send again.
type Notifier interface {
	TickLater()
}

type node struct {
	attached  bool
	bufs      [NumChannels]sim.Buffer
	notifier  Notifier
	endpoints [NumChannels]*Endpoint
}

type transfer struct {
	msg   *coherence.Msg
	ch    Channel
	ready uint64
}

type lane struct {
	src, dst int
	ch       Channel
}

type inbox struct {
	dst int
	ch  Channel
}

// Stats counts the traffic that went through the network.
type Stats struct {
	Msgs uint64
	Hops uint64
}

// Comp is the network. A message sent at cycle t from src to dst can be
// delivered at cycle t + base + hop*distance + extra delay, but never
// before a message sent earlier from src to dst on the same channel.
type Comp struct {
	*sim.TickingComponent

	topo        topology.Topology
	baseLatency int
	hopLatency  int
	capacity    int

	nodes     []node
	inFlight  []transfer
	lastReady map[lane]uint64

	stats Stats
}

// Attach connects a node to the network. Messages to the node are pushed
// into the buffer of their channel and the notifier is told to tick. A node
// that never receives on a channel may pass a nil buffer for it.
func (c *Comp) Attach(
	id int,
	notifier Notifier,
	requestBuf, replyBuf sim.Buffer,
) {
	if id < 0 || id >= len(c.nodes) {
		log.Panicf("node %d is not part of network %s", id, c.Name())
	}

	if c.nodes[id].attached {
		log.Panicf("node %d is already attached to network %s", id, c.Name())
	}

	n := node{
		attached: true,
		bufs:     [NumChannels]sim.Buffer{requestBuf, replyBuf},
		notifier: notifier,
	}

	for ch := Channel(0); ch < NumChannels; ch++ {
		n.endpoints[ch] = &Endpoint{
			net:      c,
			node:     id,
			channel:  ch,
			capacity: c.capacity,
		}

		if n.bufs[ch] != nil {
			n.bufs[ch].AcceptHook(&popWatcher{net: c})
		}
	}

	c.nodes[id] = n
}

// popWatcher restarts the network when a receiver takes a message out of a
// buffer that may have been full.
type popWatcher struct {
	net *Comp
}

func (w *popWatcher) Func(ctx sim.HookCtx) {
	if ctx.Pos != sim.HookPosBufPop && ctx.Pos != sim.HookPosBufPush {
		return
	}

	if len(w.net.inFlight) > 0 {
		w.net.TickLater()
	}
}

// Endpoint returns where an attached node sends messages on a channel.
func (c *Comp) Endpoint(id int, ch Channel) *Endpoint {
	if !c.nodes[id].attached {
		log.Panicf("node %d is not attached to network %s", id, c.Name())
	}

	return c.nodes[id].endpoints[ch]
}

// Stats returns the traffic counters.
func (c *Comp) Stats() Stats {
	return c.stats
}

// InFlight returns the number of messages that are not delivered yet.
func (c *Comp) InFlight() int {
	return len(c.inFlight)
}

// Latency returns the number of cycles a message takes between two nodes
// without extra delay.
func (c *Comp) Latency(src, dst int) int {
	return c.baseLatency + c.hopLatency*c.topo.Distance(src, dst)
}

func (c *Comp) now() uint64 {
	return c.Freq.Cycle(c.CurrentTime())
}

func (c *Comp) send(msg *coherence.Msg, ch Channel) {
	if msg.Dst < 0 || msg.Dst >= len(c.nodes) ||
		c.nodes[msg.Dst].bufs[ch] == nil {
		log.Panicf("message %s sent to node %d, which does not receive on "+
			"the %s channel", msg, msg.Dst, ch)
	}

	l := lane{src: msg.Src, dst: msg.Dst, ch: ch}
	ready := c.now() + uint64(c.Latency(msg.Src, msg.Dst)+msg.ExtraDelay)

	if last, ok := c.lastReady[l]; ok && last > ready {
		ready = last
	}

	c.lastReady[l] = ready
	c.inFlight = append(c.inFlight, transfer{msg: msg, ch: ch, ready: ready})

	c.stats.Msgs++
	c.stats.Hops += uint64(c.topo.Distance(msg.Src, msg.Dst))

	c.TickLater()
}

// Tick delivers the messages that have arrived. Messages that wait only for
// a full destination buffer do not keep the network ticking, since the
// receiver popping the buffer wakes the network up.
func (c *Comp) Tick() bool {
	if len(c.inFlight) == 0 {
		return false
	}

	now := c.now()
	madeProgress := false
	waiting := false
	blockedLane := make(map[lane]bool)
	blockedInbox := make(map[inbox]bool)
	remaining := c.inFlight[:0]

	for _, t := range c.inFlight {
		l := lane{src: t.msg.Src, dst: t.msg.Dst, ch: t.ch}
		in := inbox{dst: t.msg.Dst, ch: t.ch}

		if t.ready > now {
			waiting = true
		}

		if blockedInbox[in] || blockedLane[l] || t.ready > now {
			blockedLane[l] = true
			remaining = append(remaining, t)

			continue
		}

		dst := c.nodes[l.dst]
		if !dst.bufs[t.ch].CanPush() {
			blockedInbox[in] = true
			remaining = append(remaining, t)

			continue
		}

		c.deliver(t, dst)
		madeProgress = true
	}

	for i := len(remaining); i < len(c.inFlight); i++ {
		c.inFlight[i] = transfer{}
	}

	c.inFlight = remaining

	return madeProgress || waiting
}

func (c *Comp) deliver(t transfer, dst node) {
	dst.bufs[t.ch].Push(t.msg)
	dst.notifier.TickLater()

	if c.NumHooks() > 0 {
		c.InvokeHook(sim.HookCtx{
			Domain: c,
			Pos:    HookPosDeliver,
			Item:   t.msg,
		})
	}

	src := c.nodes[t.msg.Src]
	ep := src.endpoints[t.ch]
	ep.pending--

	if ep.pending == ep.capacity-1 {
		src.notifier.TickLater()
	}
}

// Endpoint is where a node hands its outgoing messages of one channel to
// the network.
type Endpoint struct {
	net      *Comp
	node     int
	channel  Channel
	capacity int
	pending  int
}

// Node returns the id of the node that owns the endpoint.
func (e *Endpoint) Node() int {
	return e.node
}

// Available tells if the endpoint can take one more message.
func (e *Endpoint) Available() bool {
	return e.pending < e.capacity
}

// Enqueue sends a message. The message must come from the node of the
// endpoint, belong to its channel, and the endpoint must be available.
func (e *Endpoint) Enqueue(msg *coherence.Msg) {
	if !e.Available() {
		log.Panicf("%s endpoint of node %d is full", e.channel, e.node)
	}

	if msg.Src != e.node {
		log.Panicf("node %d sends message %s with a different source",
			e.node, msg)
	}

	if ChannelOf(msg.Type) != e.channel {
		log.Panicf("message %s sent on the %s channel", msg, e.channel)
	}

	e.pending++
	e.net.send(msg, e.channel)
}
