package datarecording

import (
	"os"
	"strings"
	"time"
)

const execTable = "exec_info"

const timeLayout = "2006-01-02 15:04:05.000000000"

// ExecProperty is a row of the exec_info table.
type ExecProperty struct {
	Property string
	Value    string
}

// ExecRecorder records what was run, where, and when.
type ExecRecorder struct {
	recorder DataRecorder
	entries  []ExecProperty
}

// NewExecRecorder creates the exec_info table in recorder.
func NewExecRecorder(recorder DataRecorder) (*ExecRecorder, error) {
	if err := recorder.CreateTable(execTable, ExecProperty{}); err != nil {
		return nil, err
	}

	return &ExecRecorder{recorder: recorder}, nil
}

// Start notes the start time, the command line and the working directory.
func (e *ExecRecorder) Start() {
	e.Set("Start Time", time.Now().Format(timeLayout))
	e.Set("Command", strings.Join(os.Args, " "))

	if cwd, err := os.Getwd(); err == nil {
		e.Set("Working Directory", cwd)
	}
}

// Set adds a property of the run.
func (e *ExecRecorder) Set(property, value string) {
	e.entries = append(e.entries, ExecProperty{property, value})
}

// End writes all properties along with the end time.
func (e *ExecRecorder) End() error {
	e.Set("End Time", time.Now().Format(timeLayout))

	for _, entry := range e.entries {
		if err := e.recorder.InsertData(execTable, entry); err != nil {
			return err
		}
	}

	e.entries = nil

	return e.recorder.Flush()
}
