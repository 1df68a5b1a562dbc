package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/extremecoder-rgb/JeevanSetu/internal/models"
	"github.com/extremecoder-rgb/JeevanSetu/internal/report"
)

func newStore(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "jeevansetu.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := newStore(t)

	run := &models.Run{
		Key:    "6f1c2a9e-0000-4000-8000-000000000001",
		Inputs: map[string]string{"hospital_name": "City General", "region": "North District"},
		Status: models.RunStatusPending,
	}
	id, err := s.CreateRun(run)
	require.NoError(t, err)
	run.ID = id

	got, err := s.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, "City General", got.Hospital())
	assert.Equal(t, models.RunStatusPending, got.Status)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.ReplayOf)

	now := time.Now().UTC()
	run.Status = models.RunStatusFailed
	run.CompletedAt = &now
	run.FailedTask = "staffing_optimization_planning"
	run.ErrorKind = "auth"
	run.Error = "credential ****abcd rejected"
	run.ResultPath = "/tmp/hospital_prediction_x.json"
	require.NoError(t, s.UpdateRun(run))

	got, err = s.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, "staffing_optimization_planning", got.FailedTask)
	assert.Equal(t, "auth", got.ErrorKind)
	assert.Equal(t, "/tmp/hospital_prediction_x.json", got.ResultPath)

	_, err = s.GetRun(999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAndLatest(t *testing.T) {
	s := newStore(t)

	_, err := s.LatestRun()
	assert.ErrorIs(t, err, ErrNotFound)

	first, err := s.CreateRun(&models.Run{Key: "a", Inputs: map[string]string{}, Status: models.RunStatusSucceeded})
	require.NoError(t, err)
	second, err := s.CreateRun(&models.Run{Key: "b", Inputs: map[string]string{}, Status: models.RunStatusPending, ReplayOf: &first})
	require.NoError(t, err)

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID)
	require.NotNil(t, runs[0].ReplayOf)
	assert.Equal(t, first, *runs[0].ReplayOf)

	latest, err := s.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, "b", latest.Key)
}

func TestExecutions(t *testing.T) {
	s := newStore(t)
	runID, err := s.CreateRun(&models.Run{Key: "k", Inputs: map[string]string{}, Status: models.RunStatusRunning})
	require.NoError(t, err)

	started := time.Now().UTC()
	exec := &models.Execution{
		RunID:       runID,
		TaskID:      "festival_event_analysis",
		AgentRole:   "festival_event_forecaster",
		Status:      models.ExecStatusRunning,
		StartedAt:   &started,
		SequenceNum: 1,
	}
	exec.ID, err = s.CreateExecution(exec)
	require.NoError(t, err)

	done := time.Now().UTC()
	exec.Status = models.ExecStatusSucceeded
	exec.Attempts = 2
	exec.UsedFallback = true
	exec.CompletedAt = &done
	exec.Record = &report.Record{Kind: report.KindStaffingPlanList, Staffing: []report.StaffingPlan{
		{Department: "Emergency", RequiredStaff: 12, StaffType: "Nurses", ShiftSchedule: "8h", BackupPlan: "On-call"},
	}}
	require.NoError(t, s.UpdateExecution(exec))

	_, err = s.CreateExecution(&models.Execution{RunID: runID, TaskID: "pollution_health_risk_assessment", AgentRole: "x", Status: models.ExecStatusFailed, Error: "auth: rejected", SequenceNum: 2})
	require.NoError(t, err)

	execs, err := s.GetExecutionsForRun(runID)
	require.NoError(t, err)
	require.Len(t, execs, 2)

	assert.Equal(t, models.ExecStatusSucceeded, execs[0].Status)
	assert.Equal(t, 2, execs[0].Attempts)
	assert.True(t, execs[0].UsedFallback)
	require.NotNil(t, execs[0].Record)
	assert.Equal(t, 12, execs[0].Record.Staffing[0].RequiredStaff)
	assert.Nil(t, execs[1].Record)
	assert.Equal(t, "auth: rejected", execs[1].Error)

	require.NoError(t, s.DeleteRun(runID))
	execs, err = s.GetExecutionsForRun(runID)
	require.NoError(t, err)
	assert.Empty(t, execs)
	assert.ErrorIs(t, s.DeleteRun(runID), ErrNotFound)
}

func TestFormatTimeAgo(t *testing.T) {
	assert.Equal(t, "just now", FormatTimeAgo(time.Now()))
	assert.Equal(t, "5m ago", FormatTimeAgo(time.Now().Add(-5*time.Minute-time.Second)))
	assert.Equal(t, "3h ago", FormatTimeAgo(time.Now().Add(-3*time.Hour-time.Second)))
}
