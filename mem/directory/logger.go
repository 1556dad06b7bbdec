package directory

import (
	"log"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/akita/v4/tracing"
)

// TransactionLogger is a hook that prints when directory transactions start
// and end.
type TransactionLogger struct {
	sim.LogHookBase

	timeTeller sim.TimeTeller
}

// NewTransactionLogger creates a TransactionLogger that writes to the
// logger.
func NewTransactionLogger(
	logger *log.Logger,
	timeTeller sim.TimeTeller,
) *TransactionLogger {
	h := new(TransactionLogger)
	h.Logger = logger
	h.timeTeller = timeTeller

	return h
}

// Func writes the task information into the logger.
func (h *TransactionLogger) Func(ctx sim.HookCtx) {
	var what string

	switch ctx.Pos {
	case tracing.HookPosTaskStart:
		what = "start"
	case tracing.HookPosTaskStep:
		what = "step"
	case tracing.HookPosTaskEnd:
		what = "end"
	default:
		return
	}

	task, ok := ctx.Item.(tracing.Task)
	if !ok {
		return
	}

	where := ""
	if named, ok := ctx.Domain.(sim.Named); ok {
		where = named.Name()
	}

	detail := task.What
	if what == "step" && len(task.Steps) > 0 {
		detail = task.Steps[0].What
	}

	h.Printf("%.10f, %s, %s, %s, %s",
		h.timeTeller.CurrentTime(), where, what, task.ID, detail)
}
