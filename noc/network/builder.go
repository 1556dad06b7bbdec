package network

import (
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/cohsim/noc/topology"
)

// Builder can build networks.
type Builder struct {
	engine      sim.Engine
	freq        sim.Freq
	topo        topology.Topology
	baseLatency int
	hopLatency  int
	capacity    int
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		freq:        1 * sim.GHz,
		baseLatency: 1,
		hopLatency:  1,
		capacity:    16,
	}
}

// WithEngine sets the engine that the network uses.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the frequency of the network.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithTopology sets the topology that decides the hop counts.
func (b Builder) WithTopology(topo topology.Topology) Builder {
	b.topo = topo
	return b
}

// WithBaseLatency sets the number of cycles any message takes.
func (b Builder) WithBaseLatency(cycles int) Builder {
	b.baseLatency = cycles
	return b
}

// WithHopLatency sets the number of cycles added per hop.
func (b Builder) WithHopLatency(cycles int) Builder {
	b.hopLatency = cycles
	return b
}

// WithEndpointCapacity sets how many undelivered messages a node may have.
func (b Builder) WithEndpointCapacity(n int) Builder {
	b.capacity = n
	return b
}

// Build creates the network.
func (b Builder) Build(name string) *Comp {
	if b.topo == nil {
		panic("network needs a topology")
	}

	if b.capacity <= 0 {
		panic("endpoint capacity must be positive")
	}

	if b.baseLatency < 0 || b.hopLatency < 0 {
		panic("latency cannot be negative")
	}

	c := &Comp{
		topo:        b.topo,
		baseLatency: b.baseLatency,
		hopLatency:  b.hopLatency,
		capacity:    b.capacity,
		nodes:       make([]node, b.topo.NumNodes()),
		lastReady:   make(map[lane]uint64),
	}
	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, c)

	return c
}
