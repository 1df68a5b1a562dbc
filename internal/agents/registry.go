// Package agents binds role ids to resolved agent specs for a run.
package agents

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/extremecoder-rgb/JeevanSetu/internal/catalog"
	"github.com/extremecoder-rgb/JeevanSetu/internal/core"
	"github.com/extremecoder-rgb/JeevanSetu/internal/models"
)

// DefaultModelConfig applies where neither tier sets a value.
func DefaultModelConfig() models.ModelConfig {
	return models.ModelConfig{
		Temperature:     0.4,
		MaxOutputTokens: 2048,
		Timeout:         60 * time.Second,
		MaxRetries:      3,
	}
}

// Registry resolves roles once per run and hands out equal specs on
// every later lookup.
type Registry struct {
	cat      *catalog.Catalog
	defaults models.ModelConfig

	mu       sync.Mutex
	resolved map[string]models.AgentSpec
	lookups  atomic.Int64
}

// New creates a registry over cat.
func New(cat *catalog.Catalog, defaults models.ModelConfig) *Registry {
	return &Registry{
		cat:      cat,
		defaults: defaults,
		resolved: make(map[string]models.AgentSpec),
	}
}

// Get returns the agent for role, preferring external configuration.
func (r *Registry) Get(role string) (models.AgentSpec, error) {
	r.lookups.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()

	if spec, ok := r.resolved[role]; ok {
		return clone(spec), nil
	}
	def, src, ok := r.cat.Role(role)
	if !ok {
		return models.AgentSpec{}, &core.ConfigurationError{Message: fmt.Sprintf("no configuration for agent role %q", role)}
	}
	embedded, _ := r.cat.EmbeddedRole(role)
	spec := r.build(role, def, embedded, src)
	r.resolved[role] = spec
	return clone(spec), nil
}

// Embedded returns the agent built from built-in defaults only.
func (r *Registry) Embedded(role string) (models.AgentSpec, error) {
	def, ok := r.cat.EmbeddedRole(role)
	if !ok {
		return models.AgentSpec{}, &core.ConfigurationError{Message: fmt.Sprintf("no embedded default for agent role %q", role)}
	}
	return r.build(role, def, def, catalog.SourceEmbedded), nil
}

// Lookups counts Get calls, for instrumentation.
func (r *Registry) Lookups() int64 {
	return r.lookups.Load()
}

func (r *Registry) build(role string, def, embedded catalog.RoleDef, src catalog.Source) models.AgentSpec {
	spec := models.AgentSpec{
		Role:              role,
		Title:             strings.TrimSpace(def.Role),
		Objective:         strings.TrimSpace(def.Goal),
		Persona:           strings.TrimSpace(def.Backstory),
		Tools:             def.Tools,
		MaxIterations:     def.MaxIter,
		MaxCallsPerMinute: def.MaxRPM,
		Model:             r.defaults,
		Source:            string(src),
	}
	if spec.Tools == nil {
		spec.Tools = embedded.Tools
	}
	if spec.MaxIterations == 0 {
		spec.MaxIterations = embedded.MaxIter
	}
	if spec.MaxCallsPerMinute == 0 {
		spec.MaxCallsPerMinute = embedded.MaxRPM
	}
	switch {
	case def.AllowDelegation != nil:
		spec.AllowDelegation = *def.AllowDelegation
	case embedded.AllowDelegation != nil:
		spec.AllowDelegation = *embedded.AllowDelegation
	}
	applyLLM(&spec.Model, embedded.LLM)
	applyLLM(&spec.Model, def.LLM)
	return spec
}

func applyLLM(cfg *models.ModelConfig, l *catalog.LLMDef) {
	if l == nil {
		return
	}
	if l.Temperature != nil {
		cfg.Temperature = *l.Temperature
	}
	if l.MaxTokens > 0 {
		cfg.MaxOutputTokens = l.MaxTokens
	}
	if l.Timeout > 0 {
		cfg.Timeout = l.Timeout
	}
	if l.MaxRetries > 0 {
		cfg.MaxRetries = l.MaxRetries
	}
}

func clone(s models.AgentSpec) models.AgentSpec {
	s.Tools = append([]string(nil), s.Tools...)
	return s
}
