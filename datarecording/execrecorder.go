package datarecording

import (
	"os"
	"strings"
	"time"
)

// ExecInfo is a property of a simulator run.
type ExecInfo struct {
	Property string
	Value    string
}

// ExecRecorder records when and how the simulator was run.
type ExecRecorder struct {
	tablename string
	recorder  DataRecorder
	entries   []ExecInfo
}

// NewExecRecorder creates an ExecRecorder that writes into the exec_info
// table.
func NewExecRecorder(recorder DataRecorder) *ExecRecorder {
	e := &ExecRecorder{
		tablename: "exec_info",
		recorder:  recorder,
	}

	e.recorder.CreateTable(e.tablename, ExecInfo{})

	return e
}

// Start records the start time, the command and the working directory.
func (e *ExecRecorder) Start() {
	startTime := time.Now().Format("2006-01-02 15:04:05.000000000")
	e.Add("Start Time", startTime)
	e.Add("Command", strings.Join(os.Args, " "))

	cwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}

	e.Add("Working Directory", cwd)
}

// Add records a property, such as a configuration value.
func (e *ExecRecorder) Add(property, value string) {
	e.entries = append(e.entries, ExecInfo{Property: property, Value: value})
}

// End writes the properties along with the end time.
func (e *ExecRecorder) End() {
	for _, entry := range e.entries {
		e.recorder.InsertData(e.tablename, entry)
	}

	endTime := time.Now().Format("2006-01-02 15:04:05.000000000")
	e.recorder.InsertData(e.tablename, ExecInfo{"End Time", endTime})

	e.entries = nil

	e.recorder.Flush()
}
