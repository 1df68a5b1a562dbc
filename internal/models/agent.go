package models

import "time"

type ModelConfig struct {
	Temperature     float64       `json:"temperature"`
	MaxOutputTokens int           `json:"max_output_tokens"`
	Timeout         time.Duration `json:"timeout"`
	MaxRetries      int           `json:"max_retries"` // total attempts per call
}

// AgentSpec is an immutable role template resolved for one run.
type AgentSpec struct {
	Role              string      `json:"role"`
	Title             string      `json:"title"`
	Objective         string      `json:"objective"`
	Persona           string      `json:"persona"`
	Tools             []string    `json:"tools"`
	AllowDelegation   bool        `json:"allow_delegation"`
	MaxIterations     int         `json:"max_iterations"`
	MaxCallsPerMinute int         `json:"max_calls_per_minute"`
	Model             ModelConfig `json:"model_config"`
	Source            string      `json:"source"` // external or embedded
}
