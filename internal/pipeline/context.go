package pipeline

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/extremecoder-rgb/JeevanSetu/internal/report"
)

// Entry is one succeeded task output.
type Entry struct {
	TaskID string        `json:"task_id"`
	Record report.Record `json:"record"`
}

// RunContext holds a run's inputs and the outputs of every task that has
// succeeded so far. Entries can only be appended.
type RunContext struct {
	mu      sync.RWMutex
	inputs  map[string]string
	entries []Entry
}

// NewRunContext copies inputs into a fresh context.
func NewRunContext(inputs map[string]string) *RunContext {
	return &RunContext{inputs: maps.Clone(inputs)}
}

// Inputs returns a copy of the run inputs.
func (rc *RunContext) Inputs() map[string]string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return maps.Clone(rc.inputs)
}

// Input returns a single input value.
func (rc *RunContext) Input(name string) string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.inputs[name]
}

// Append records a task output. A task id can appear only once.
func (rc *RunContext) Append(taskID string, rec report.Record) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	for _, e := range rc.entries {
		if e.TaskID == taskID {
			return fmt.Errorf("task %s already has an output", taskID)
		}
	}
	rc.entries = append(rc.entries, Entry{TaskID: taskID, Record: rec})
	return nil
}

// Entries returns a snapshot of the outputs in completion order.
func (rc *RunContext) Entries() []Entry {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make([]Entry, len(rc.entries))
	copy(out, rc.entries)
	return out
}

func (rc *RunContext) Len() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.entries)
}

// Record looks up the output of a task.
func (rc *RunContext) Record(taskID string) (report.Record, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	for _, e := range rc.entries {
		if e.TaskID == taskID {
			return e.Record, true
		}
	}
	return report.Record{}, false
}

// Last returns the most recent output.
func (rc *RunContext) Last() (Entry, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if len(rc.entries) == 0 {
		return Entry{}, false
	}
	return rc.entries[len(rc.entries)-1], true
}

// Render formats prior outputs for inclusion in a prompt.
func (rc *RunContext) Render() string {
	entries := rc.Entries()
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	for _, e := range entries {
		data, err := json.MarshalIndent(e.Record.Payload(), "", "  ")
		if err != nil {
			data = []byte(e.Record.Summary())
		}
		fmt.Fprintf(&b, "### %s (%s)\n%s\n\n", e.TaskID, e.Record.Kind, data)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
