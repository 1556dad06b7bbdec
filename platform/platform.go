// Package platform wires the private caches, the network and the directory
// banks into a system that runs a workload to completion.
package platform

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/cohsim/datarecording"
	"github.com/sarchlab/cohsim/mem/directory"
	"github.com/sarchlab/cohsim/mem/mem"
	"github.com/sarchlab/cohsim/mem/privatecache"
	"github.com/sarchlab/cohsim/noc/network"
	"github.com/sarchlab/cohsim/noc/topology"
)

// Platform is a built system. Core i is network node i and bank j is node
// NumCores+j.
type Platform struct {
	Engine   sim.Engine
	Topology topology.Topology
	Mapper   mem.AddressToBankMapper
	Network  *network.Comp
	Caches   []*privatecache.Comp
	Banks    []*directory.Comp

	cfg      Config
	recorder datarecording.DataRecorder
}

// Config returns the configuration that the platform was built with.
func (p *Platform) Config() Config {
	return p.cfg
}

// ErrDeadlock is returned when the engine runs out of events before every
// core finishes its workload.
var ErrDeadlock = errors.New("simulation stopped with work left")

// Run starts the cores and runs the engine until nothing is left to do.
func (p *Platform) Run() error {
	for _, c := range p.Caches {
		c.TickLater()
	}

	if err := p.Engine.Run(); err != nil {
		return err
	}

	for _, c := range p.Caches {
		if !c.Done() {
			return fmt.Errorf("%w: %s has not finished", ErrDeadlock, c.Name())
		}
	}

	for _, b := range p.Banks {
		if !b.Idle() {
			return fmt.Errorf("%w: %s is not idle", ErrDeadlock, b.Name())
		}
	}

	if p.Network.InFlight() > 0 {
		return fmt.Errorf("%w: %d messages in flight",
			ErrDeadlock, p.Network.InFlight())
	}

	return nil
}

// Cycles returns the number of cycles simulated so far.
func (p *Platform) Cycles() uint64 {
	return p.Network.Freq.Cycle(p.Engine.CurrentTime())
}

// SaveCheckpoint writes the directory entries of every bank.
func (p *Platform) SaveCheckpoint(w io.Writer) error {
	for _, b := range p.Banks {
		if err := b.SaveState(w); err != nil {
			return fmt.Errorf("%s: %w", b.Name(), err)
		}
	}

	return nil
}

// LoadCheckpoint restores the directory entries of every bank. Each bank
// finds its own section in the checkpoint.
func (p *Platform) LoadCheckpoint(data []byte) error {
	for _, b := range p.Banks {
		if err := b.LoadState(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%s: %w", b.Name(), err)
		}
	}

	return nil
}
