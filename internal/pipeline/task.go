// Package pipeline runs the fixed chain of surge-planning tasks.
package pipeline

import (
	"fmt"

	"github.com/extremecoder-rgb/JeevanSetu/internal/catalog"
	"github.com/extremecoder-rgb/JeevanSetu/internal/core"
	"github.com/extremecoder-rgb/JeevanSetu/internal/report"
)

// TaskSpec is one step of the chain, bound to an agent role and an
// output schema.
type TaskSpec struct {
	ID             string
	Description    string
	ExpectedOutput string
	Schema         report.Kind
	AgentRole      string
	Position       int
	SearchQuery    string
	OutputFile     string
	Source         catalog.Source

	// Fallback is the embedded definition of the same task. It runs with
	// the agent's embedded configuration.
	Fallback *TaskSpec
}

// BuildTasks resolves every task in catalog.TaskOrder.
func BuildTasks(cat *catalog.Catalog) ([]TaskSpec, error) {
	tasks := make([]TaskSpec, 0, len(catalog.TaskOrder))
	for i, id := range catalog.TaskOrder {
		def, src, ok := cat.Task(id)
		if !ok {
			return nil, &core.ConfigurationError{Message: fmt.Sprintf("no definition for task %q", id)}
		}
		task, err := newTaskSpec(id, i, def, src)
		if err != nil {
			embedded, found := cat.EmbeddedTask(id)
			if !found || src == catalog.SourceEmbedded {
				return nil, err
			}
			// An unusable external binding falls back to the built-in one.
			if task, err = newTaskSpec(id, i, embedded, catalog.SourceEmbedded); err != nil {
				return nil, err
			}
		}
		if embedded, found := cat.EmbeddedTask(id); found {
			if fb, err := newTaskSpec(id, i, embedded, catalog.SourceEmbedded); err == nil {
				task.Fallback = &fb
			}
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func newTaskSpec(id string, pos int, def catalog.TaskDef, src catalog.Source) (TaskSpec, error) {
	kind, err := report.ParseKind(def.Schema)
	if err != nil {
		return TaskSpec{}, &core.ConfigurationError{Message: fmt.Sprintf("task %s", id), Cause: err}
	}
	if def.Agent == "" {
		return TaskSpec{}, &core.ConfigurationError{Message: fmt.Sprintf("task %s has no agent", id)}
	}
	return TaskSpec{
		ID:             id,
		Description:    def.Description,
		ExpectedOutput: def.ExpectedOutput,
		Schema:         kind,
		AgentRole:      def.Agent,
		Position:       pos,
		SearchQuery:    def.SearchQuery,
		OutputFile:     def.OutputFile,
		Source:         src,
	}, nil
}

// IndexOf returns the position of taskID in tasks, or -1.
func IndexOf(tasks []TaskSpec, taskID string) int {
	for i, t := range tasks {
		if t.ID == taskID {
			return i
		}
	}
	return -1
}
