package datarecording

import (
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/akita/v4/tracing"
	"github.com/sarchlab/cohsim/mem/coherence"
)

// TxnEntry is a row of the transaction table. Times are in cycles.
type TxnEntry struct {
	ID         string
	ParentID   string
	Kind       string
	What       string
	Location   string
	Addr       uint64
	Requester  int
	StartCycle uint64
	EndCycle   uint64
	Steps      int
}

// TxnRecorder is a hook that writes a row for every traced task once the
// task ends.
type TxnRecorder struct {
	recorder   DataRecorder
	timeTeller sim.TimeTeller
	freq       sim.Freq
	table      string
	pending    map[string]*TxnEntry
}

// NewTxnRecorder creates a TxnRecorder that writes into the txn table.
func NewTxnRecorder(
	recorder DataRecorder,
	timeTeller sim.TimeTeller,
	freq sim.Freq,
) *TxnRecorder {
	r := &TxnRecorder{
		recorder:   recorder,
		timeTeller: timeTeller,
		freq:       freq,
		table:      "txn",
		pending:    make(map[string]*TxnEntry),
	}

	recorder.CreateTable(r.table, TxnEntry{})

	return r
}

// Pending returns the number of tasks that have started but not ended.
func (r *TxnRecorder) Pending() int {
	return len(r.pending)
}

// Func records the task.
func (r *TxnRecorder) Func(ctx sim.HookCtx) {
	task, ok := ctx.Item.(tracing.Task)
	if !ok {
		return
	}

	switch ctx.Pos {
	case tracing.HookPosTaskStart:
		r.start(ctx, task)
	case tracing.HookPosTaskStep:
		if e, found := r.pending[task.ID]; found {
			e.Steps++
		}
	case tracing.HookPosTaskEnd:
		r.end(task)
	}
}

func (r *TxnRecorder) now() uint64 {
	return r.freq.Cycle(r.timeTeller.CurrentTime())
}

func (r *TxnRecorder) start(ctx sim.HookCtx, task tracing.Task) {
	e := &TxnEntry{
		ID:         task.ID,
		ParentID:   task.ParentID,
		Kind:       task.Kind,
		What:       task.What,
		Requester:  -1,
		StartCycle: r.now(),
	}

	if named, ok := ctx.Domain.(sim.Named); ok {
		e.Location = named.Name()
	}

	if msg, ok := task.Detail.(*coherence.Msg); ok {
		e.Addr = msg.Addr
		e.Requester = msg.Requester
	}

	r.pending[task.ID] = e
}

func (r *TxnRecorder) end(task tracing.Task) {
	e, found := r.pending[task.ID]
	if !found {
		return
	}

	delete(r.pending, task.ID)

	e.EndCycle = r.now()
	r.recorder.InsertData(r.table, *e)
}
