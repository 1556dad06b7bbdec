package directory

import (
	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/directory/internal/dirstore"
	"github.com/sarchlab/cohsim/mem/directory/internal/maf"
)

type phase int

const (
	phaseLookup phase = iota
	phaseSnoop
	phaseDone
)

type transaction struct {
	id    string
	entry *maf.Entry
	req   *coherence.Msg

	// reqType is the request as looked up in the protocol table. An upgrade
	// from a core that lost its copy is looked up as a write.
	reqType  coherence.MsgType
	category coherence.Category
	action   coherence.Action
	res      dirstore.LookupResult

	phase     phase
	protected bool

	targets  []int
	sent     int
	allowed  int
	replies  int
	supplier int
	nacked   []int

	rsp        *coherence.Msg
	admittedAt uint64
}

func (t *transaction) addr() uint64 {
	return t.entry.Addr()
}

func (t *transaction) requester() int {
	return t.req.Requester
}

func (t *transaction) hasUnsentSnoops() bool {
	return t.phase == phaseSnoop && t.sent < t.allowed
}

// responseIndex selects the response of the action. Index 1 is used when a
// snooped core supplied the block.
func (t *transaction) responseIndex() int {
	if t.supplier >= 0 {
		return 1
	}

	return 0
}

type invalidation struct {
	addr    uint64
	snoop   coherence.MsgType
	targets []int
	next    int
}

type pipelineItem struct {
	txn   *transaction
	ready uint64
}

type staleKey struct {
	addr uint64
	core int
}
