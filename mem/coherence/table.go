package coherence

import (
	"fmt"
	"log"

	"github.com/sarchlab/cohsim/mem/coherence/sharing"
)

// Category groups sharing states that the protocol treats the same way.
type Category int

// All the categories.
const (
	ZeroSharers Category = iota
	OneSharer
	ExclSharer
	ManySharers

	numCategories
)

func (c Category) String() string {
	switch c {
	case ZeroSharers:
		return "ZeroSharers"
	case OneSharer:
		return "OneSharer"
	case ExclSharer:
		return "ExclSharer"
	case ManySharers:
		return "ManySharers"
	}

	return fmt.Sprintf("Category(%d)", int(c))
}

// CategoryOf returns the category of a sharing state. A state with the
// exclusivity marker is an owner state even if an imprecise representation
// reports extra sharers.
func CategoryOf(s sharing.State) Category {
	switch {
	case s.NoSharers():
		return ZeroSharers
	case s.Exclusive():
		return ExclSharer
	case s.OneSharer():
		return OneSharer
	default:
		return ManySharers
	}
}

// Action is what the directory does for a request in a given state.
//
// Terminal[i] is the snoop reply that completes the snoop phase and
// Response[i] is the reply the requester receives after it. Index 0 is used
// when no snooped core supplies the block, so the directory replies on its
// own. Index 1 is used when a snooped core supplies the block. If Forward is
// set, the supplier sends Response[1] to the requester directly.
type Action struct {
	Snoop         MsgType
	Terminal      [2]MsgType
	Response      [2]MsgType
	Forward       bool
	Multicast     bool
	SnoopOrdering bool
	Poison        bool
}

// NeedsSnoop tells if the action sends snoops.
func (a Action) NeedsSnoop() bool {
	return a.Snoop != NoSnoop
}

// IsTerminal tells if a snoop reply completes the snoop phase.
func (a Action) IsTerminal(t MsgType) bool {
	return t == a.Terminal[0] || t == a.Terminal[1]
}

var poison = Action{
	Snoop:    NoSnoop,
	Terminal: [2]MsgType{NoResponse, NoResponse},
	Response: [2]MsgType{NoResponse, NoResponse},
	Poison:   true,
}

func reply(rsp MsgType) Action {
	return Action{
		Snoop:    NoSnoop,
		Terminal: [2]MsgType{NoResponse, NoResponse},
		Response: [2]MsgType{rsp, rsp},
	}
}

func invalidateOthers(rsp MsgType) Action {
	return Action{
		Snoop:     Invalidate,
		Terminal:  [2]MsgType{InvalidateAck, InvalidateAck},
		Response:  [2]MsgType{rsp, rsp},
		Multicast: true,
	}
}

// Table maps each sharing category and request type to an action.
type Table struct {
	propagateCEs bool
	imprecise    bool
	actions      [numCategories][numRequestTypes]Action
}

// NewTable builds the protocol table. If propagateCEs is false, caches drop
// clean blocks silently and clean evictions are never expected. If
// imprecise is set, the directory may hold stale sharers, so evictions can
// reach a block the directory believes to be unshared.
func NewTable(propagateCEs, imprecise bool) *Table {
	t := &Table{
		propagateCEs: propagateCEs,
		imprecise:    imprecise,
	}

	for c := range t.actions {
		for r := range t.actions[c] {
			t.actions[c][r] = poison
		}
	}

	t.fillZeroSharers()
	t.fillOneSharer()
	t.fillExclSharer()
	t.fillManySharers()

	return t
}

func (t *Table) set(c Category, r MsgType, a Action) {
	t.actions[c][r] = a
}

func (t *Table) fillEvictions(c Category) {
	if t.propagateCEs {
		t.set(c, EvictClean, reply(EvictAck))
		t.set(c, EvictWritable, reply(EvictAck))
	}

	t.set(c, EvictDirty, reply(EvictAck))
}

func (t *Table) fillZeroSharers() {
	t.set(ZeroSharers, ReadReq, reply(MissReplyWritable))
	t.set(ZeroSharers, FetchReq, reply(MissReply))
	t.set(ZeroSharers, WriteReq, reply(MissReplyDirty))
	t.set(ZeroSharers, UpgradeReq, reply(MissReplyDirty))

	if t.imprecise {
		t.fillEvictions(ZeroSharers)
	}
}

func (t *Table) fillOneSharer() {
	t.set(OneSharer, ReadReq, reply(MissReply))
	t.set(OneSharer, FetchReq, reply(MissReply))
	t.set(OneSharer, WriteReq, invalidateOthers(MissReplyDirty))
	t.set(OneSharer, UpgradeReq, invalidateOthers(UpgradeReply))
	t.fillEvictions(OneSharer)
}

func (t *Table) fillExclSharer() {
	fwdRead := Action{
		Snoop:         ReturnReq,
		Terminal:      [2]MsgType{ReturnReply, ReturnReplyDirty},
		Response:      [2]MsgType{MissReply, FwdReplyOwned},
		Forward:       true,
		SnoopOrdering: true,
	}
	t.set(ExclSharer, ReadReq, fwdRead)
	t.set(ExclSharer, FetchReq, fwdRead)

	t.set(ExclSharer, WriteReq, Action{
		Snoop:     ReturnInvalidate,
		Terminal:  [2]MsgType{InvalidateAck, InvUpdateAck},
		Response:  [2]MsgType{MissReplyDirty, FwdReplyDirty},
		Multicast: true,
	})
	t.set(ExclSharer, UpgradeReq, Action{
		Snoop:     ReturnInvalidate,
		Terminal:  [2]MsgType{InvalidateAck, InvUpdateAck},
		Response:  [2]MsgType{UpgradeReply, FwdReplyDirty},
		Multicast: true,
	})

	t.fillEvictions(ExclSharer)
}

func (t *Table) fillManySharers() {
	t.set(ManySharers, ReadReq, reply(MissReply))
	t.set(ManySharers, FetchReq, reply(MissReply))
	t.set(ManySharers, WriteReq, invalidateOthers(MissReplyDirty))
	t.set(ManySharers, UpgradeReq, invalidateOthers(UpgradeReply))
	t.fillEvictions(ManySharers)
}

// PropagateCEs tells if clean evictions are sent to the directory.
func (t *Table) PropagateCEs() bool {
	return t.propagateCEs
}

// Imprecise tells if the table tolerates stale sharers.
func (t *Table) Imprecise() bool {
	return t.imprecise
}

// Get returns the action of a category and request without checking for
// poison.
func (t *Table) Get(c Category, req MsgType) Action {
	if !req.IsRequest() {
		log.Panicf("%s is not a request", req)
	}

	return t.actions[c][req]
}

// Lookup returns the action for a request to a block in the given state.
// Reaching a poison action means the protocol is broken and the simulation
// cannot continue.
func (t *Table) Lookup(
	state sharing.State,
	req MsgType,
	addr uint64,
) Action {
	c := CategoryOf(state)
	a := t.Get(c, req)

	if a.Poison {
		log.Panicf("poison action: %s on %s block 0x%x with sharers %s",
			req, c, addr, sharing.String(state))
	}

	return a
}
