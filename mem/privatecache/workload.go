package privatecache

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"
)

// Op is the kind of memory access a core makes.
type Op int

// The access kinds. A fetch reads the block without asking for write
// permission.
const (
	OpRead Op = iota
	OpWrite
	OpFetch
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "R"
	case OpWrite:
		return "W"
	case OpFetch:
		return "F"
	}

	return fmt.Sprintf("Op(%d)", int(o))
}

// ParseOp converts R, W, or F (or read, write, fetch) to an Op.
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(s) {
	case "r", "read":
		return OpRead, nil
	case "w", "write":
		return OpWrite, nil
	case "f", "fetch":
		return OpFetch, nil
	}

	return 0, fmt.Errorf("unknown access %q", s)
}

// An Access is one memory access of a core.
type Access struct {
	Op   Op
	Addr uint64
}

// A Workload supplies the accesses of one core in order.
type Workload interface {
	// Peek returns the next access without consuming it.
	Peek() (Access, bool)

	// Pop consumes the access returned by Peek.
	Pop()
}

// SliceWorkload replays a fixed list of accesses.
type SliceWorkload struct {
	accesses []Access
	next     int
}

// NewSliceWorkload creates a workload that replays the accesses.
func NewSliceWorkload(accesses []Access) *SliceWorkload {
	return &SliceWorkload{accesses: accesses}
}

// Peek returns the next access.
func (w *SliceWorkload) Peek() (Access, bool) {
	if w.next >= len(w.accesses) {
		return Access{}, false
	}

	return w.accesses[w.next], true
}

// Pop consumes the next access.
func (w *SliceWorkload) Pop() {
	w.next++
}

// Len returns the number of accesses in the workload.
func (w *SliceWorkload) Len() int {
	return len(w.accesses)
}

// SyntheticConfig describes a random workload. Addresses are spread
// uniformly over the footprint at block granularity. The ratios of reads
// and writes are given and the rest of the accesses are fetches.
type SyntheticConfig struct {
	NumAccesses int
	BaseAddr    uint64
	Footprint   uint64
	BlockSize   uint64
	ReadRatio   float64
	WriteRatio  float64
	Seed        int64
}

// Synthetic generates random accesses.
type Synthetic struct {
	cfg    SyntheticConfig
	rng    *rand.Rand
	left   int
	cur    Access
	hasCur bool
}

// NewSynthetic creates a random workload. The same seed gives the same
// accesses.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.BlockSize == 0 || cfg.Footprint < cfg.BlockSize {
		panic("footprint must hold at least one block")
	}

	if cfg.ReadRatio < 0 || cfg.WriteRatio < 0 ||
		cfg.ReadRatio+cfg.WriteRatio > 1 {
		panic("read and write ratios must be in [0, 1] and sum to at most 1")
	}

	return &Synthetic{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		left: cfg.NumAccesses,
	}
}

// Peek returns the next access.
func (w *Synthetic) Peek() (Access, bool) {
	if w.hasCur {
		return w.cur, true
	}

	if w.left == 0 {
		return Access{}, false
	}

	numBlocks := w.cfg.Footprint / w.cfg.BlockSize
	blk := uint64(w.rng.Int63n(int64(numBlocks)))

	op := OpFetch
	dice := w.rng.Float64()

	switch {
	case dice < w.cfg.ReadRatio:
		op = OpRead
	case dice < w.cfg.ReadRatio+w.cfg.WriteRatio:
		op = OpWrite
	}

	w.cur = Access{Op: op, Addr: w.cfg.BaseAddr + blk*w.cfg.BlockSize}
	w.hasCur = true

	return w.cur, true
}

// Pop consumes the next access.
func (w *Synthetic) Pop() {
	if !w.hasCur {
		w.Peek()
	}

	w.hasCur = false
	w.left--
}

// ReadTrace parses a trace with one access per line in the form
// "core op addr", for example "2 W 0x1c0". Empty lines and lines starting
// with # are skipped. It returns one workload per core.
func ReadTrace(r io.Reader, numCores int) ([]*SliceWorkload, error) {
	accesses := make([][]Access, numCores)
	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: expect core op addr, got %q",
				lineNo, line)
		}

		core, err := strconv.Atoi(fields[0])
		if err != nil || core < 0 || core >= numCores {
			return nil, fmt.Errorf("line %d: invalid core %q", lineNo, fields[0])
		}

		op, err := ParseOp(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		addr, err := strconv.ParseUint(fields[2], 0, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid address %q",
				lineNo, fields[2])
		}

		accesses[core] = append(accesses[core], Access{Op: op, Addr: addr})
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	workloads := make([]*SliceWorkload, numCores)
	for i := range workloads {
		workloads[i] = NewSliceWorkload(accesses[i])
	}

	return workloads, nil
}
