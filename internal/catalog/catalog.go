// Package catalog loads declarative role and task definitions and resolves
// them against the embedded defaults.
package catalog

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.yaml
var defaultsFS embed.FS

const (
	AgentsFile = "agents.yaml"
	TasksFile  = "tasks.yaml"
)

// TaskOrder is the fixed execution order of the pipeline.
var TaskOrder = []string{
	"festival_event_analysis",
	"pollution_health_risk_assessment",
	"epidemic_outbreak_surveillance",
	"staffing_optimization_planning",
	"supply_chain_inventory_management",
	"patient_advisory_preparation",
	"hospital_preparedness_orchestration",
}

type LLMDef struct {
	Temperature *float64      `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

type RoleDef struct {
	Role            string   `yaml:"role"`
	Goal            string   `yaml:"goal"`
	Backstory       string   `yaml:"backstory"`
	Tools           []string `yaml:"tools,omitempty"`
	AllowDelegation *bool    `yaml:"allow_delegation,omitempty"`
	MaxIter         int      `yaml:"max_iter,omitempty"`
	MaxRPM          int      `yaml:"max_rpm,omitempty"`
	LLM             *LLMDef  `yaml:"llm,omitempty"`
}

// Usable reports whether the definition carries the text a role needs.
func (r RoleDef) Usable() bool {
	return r.Role != "" && r.Goal != ""
}

type TaskDef struct {
	Agent          string `yaml:"agent"`
	Schema         string `yaml:"schema"`
	Description    string `yaml:"description"`
	ExpectedOutput string `yaml:"expected_output"`
	SearchQuery    string `yaml:"search_query,omitempty"`
	OutputFile     string `yaml:"output_file,omitempty"`
}

func (t TaskDef) Usable() bool {
	return t.Description != ""
}

// Source records which tier a definition came from.
type Source string

const (
	SourceExternal Source = "external"
	SourceEmbedded Source = "embedded"
)

// Resolve looks id up in external first, then embedded. A missing or
// unusable entry in both tiers yields ok == false.
func Resolve[T interface{ Usable() bool }](id string, external, embedded map[string]T) (T, Source, bool) {
	if v, ok := external[id]; ok && v.Usable() {
		return v, SourceExternal, true
	}
	if v, ok := embedded[id]; ok && v.Usable() {
		return v, SourceEmbedded, true
	}
	var zero T
	return zero, "", false
}

// Catalog holds the external definitions next to the embedded ones.
type Catalog struct {
	Dir string

	roles         map[string]RoleDef
	tasks         map[string]TaskDef
	embeddedRoles map[string]RoleDef
	embeddedTasks map[string]TaskDef

	// Problems collects load failures of the external tier.
	Problems []error
}

// Load reads agents.yaml and tasks.yaml from dir. It never fails: an
// absent directory, missing file or malformed document leaves that tier
// empty and is recorded in Problems.
func Load(dir string) *Catalog {
	c := Embedded()
	c.Dir = dir
	if dir == "" {
		return c
	}
	if err := readYAML(filepath.Join(dir, AgentsFile), &c.roles); err != nil {
		c.Problems = append(c.Problems, err)
	}
	if err := readYAML(filepath.Join(dir, TasksFile), &c.tasks); err != nil {
		c.Problems = append(c.Problems, err)
	}
	return c
}

// Embedded returns a catalog with no external tier.
func Embedded() *Catalog {
	return &Catalog{
		roles:         map[string]RoleDef{},
		tasks:         map[string]TaskDef{},
		embeddedRoles: embeddedRoles,
		embeddedTasks: embeddedTasks,
	}
}

// Role resolves a role definition.
func (c *Catalog) Role(id string) (RoleDef, Source, bool) {
	return Resolve(id, c.roles, c.embeddedRoles)
}

// EmbeddedRole returns the built-in definition only.
func (c *Catalog) EmbeddedRole(id string) (RoleDef, bool) {
	r, ok := c.embeddedRoles[id]
	return r, ok
}

// Task resolves a task definition. Agent and schema bindings missing
// from an external entry are taken from the embedded one.
func (c *Catalog) Task(id string) (TaskDef, Source, bool) {
	t, src, ok := Resolve(id, c.tasks, c.embeddedTasks)
	if !ok || src == SourceEmbedded {
		return t, src, ok
	}
	if e, found := c.embeddedTasks[id]; found {
		if t.Agent == "" {
			t.Agent = e.Agent
		}
		if t.Schema == "" {
			t.Schema = e.Schema
		}
		if t.SearchQuery == "" {
			t.SearchQuery = e.SearchQuery
		}
		if t.OutputFile == "" {
			t.OutputFile = e.OutputFile
		}
	}
	return t, src, true
}

// EmbeddedTask returns the built-in definition only.
func (c *Catalog) EmbeddedTask(id string) (TaskDef, bool) {
	t, ok := c.embeddedTasks[id]
	return t, ok
}

// RoleIDs returns every role id known to either tier.
func (c *Catalog) RoleIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, m := range []map[string]RoleDef{c.embeddedRoles, c.roles} {
		for id := range m {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func readYAML[T any](path string, out *map[string]T) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s not found", path)
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	parsed := make(map[string]T)
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	*out = parsed
	return nil
}

var (
	embeddedRoles = mustParse[RoleDef]("defaults/" + AgentsFile)
	embeddedTasks = mustParse[TaskDef]("defaults/" + TasksFile)
)

func mustParse[T any](name string) map[string]T {
	data, err := defaultsFS.ReadFile(name)
	if err != nil {
		panic(err)
	}
	out := make(map[string]T)
	if err := yaml.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("embedded %s: %v", name, err))
	}
	return out
}
