// Package tools implements the text-in, text-out tools agents may use.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Tool is an opaque callable returning text.
type Tool interface {
	Name() string
	Call(ctx context.Context, args map[string]string) (string, error)
}

// Registry maps tool names to implementations.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry registers tools, skipping nil entries.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		if t != nil {
			r.tools[t.Name()] = t
		}
	}
	return r
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names lists registered tools in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseRef splits an agent tool reference such as "directory_read:plans"
// into the tool name and its bound argument.
func ParseRef(ref string) (name, arg string) {
	name, arg, _ = strings.Cut(ref, ":")
	return strings.TrimSpace(name), strings.TrimSpace(arg)
}

// Observation is the text one tool call contributed to a prompt.
type Observation struct {
	Tool   string
	Detail string
	Text   string
}

func (o Observation) String() string {
	if o.Detail != "" {
		return fmt.Sprintf("[%s %s]\n%s", o.Tool, o.Detail, o.Text)
	}
	return fmt.Sprintf("[%s]\n%s", o.Tool, o.Text)
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "\n...[truncated]"
}
