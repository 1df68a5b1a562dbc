package models

import "time"

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

type Run struct {
	ID          int64
	Key         string
	CreatedAt   time.Time
	CompletedAt *time.Time
	Inputs      map[string]string
	Status      RunStatus
	CurrentTask string
	FailedTask  string
	ErrorKind   string
	Error       string
	ReplayOf    *int64
	ResultPath  string
}

// Hospital returns the hospital name input, for listings.
func (r *Run) Hospital() string {
	return r.Inputs["hospital_name"]
}
