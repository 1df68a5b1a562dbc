package models

import (
	"time"

	"github.com/extremecoder-rgb/JeevanSetu/internal/report"
)

type ExecStatus string

const (
	ExecStatusPending   ExecStatus = "pending"
	ExecStatusRunning   ExecStatus = "running"
	ExecStatusSucceeded ExecStatus = "succeeded"
	ExecStatusFailed    ExecStatus = "failed"
)

// Execution is the persisted state of one task within a run.
type Execution struct {
	ID           int64
	RunID        int64
	TaskID       string
	AgentRole    string
	Status       ExecStatus
	Attempts     int
	UsedFallback bool
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Record       *report.Record
	Error        string
	SequenceNum  int
}
