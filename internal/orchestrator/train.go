package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/errgroup"

	"github.com/extremecoder-rgb/JeevanSetu/internal/core"
	"github.com/extremecoder-rgb/JeevanSetu/internal/models"
	"github.com/extremecoder-rgb/JeevanSetu/internal/pipeline"
	"github.com/extremecoder-rgb/JeevanSetu/internal/report"
)

// IterationMetrics describes one training run.
type IterationMetrics struct {
	Iteration      int              `json:"iteration"`
	RunID          int64            `json:"run_id,omitempty"`
	Status         models.RunStatus `json:"status"`
	DurationMS     int64            `json:"duration_ms"`
	Attempts       int              `json:"attempts"`
	RepairedFields int              `json:"repaired_fields"`
	MeanConfidence float64          `json:"mean_confidence"`
	FailedTask     string           `json:"failed_task,omitempty"`
	ErrorKind      string           `json:"error_kind,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// TrainReport is written to the training output file.
type TrainReport struct {
	Iterations     int                `json:"iterations"`
	Succeeded      int                `json:"succeeded"`
	SuccessRate    float64            `json:"success_rate"`
	MeanDurationMS int64              `json:"mean_duration_ms"`
	MeanAttempts   float64            `json:"mean_attempts"`
	StartedAt      time.Time          `json:"started_at"`
	CompletedAt    time.Time          `json:"completed_at"`
	Runs           []IterationMetrics `json:"runs"`
}

// Train runs the chain iterations times with the same inputs, at most
// concurrency at once, and writes quality metrics to outFile. Individual
// run failures are recorded, not returned.
func (o *Orchestrator) Train(ctx context.Context, inputs map[string]string, iterations int, outFile string, concurrency int) (*TrainReport, error) {
	if iterations < 1 {
		return nil, &core.ConfigurationError{Message: "iterations must be at least 1"}
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if _, err := PrepareInputs(inputs, o.now()); err != nil {
		return nil, err
	}

	rep := &TrainReport{
		Iterations: iterations,
		StartedAt:  o.now().UTC(),
		Runs:       make([]IterationMetrics, iterations),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := 0; i < iterations; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			res, err := o.Run(gctx, cloneInputs(inputs))
			m := iterationMetrics(i+1, res, err)
			m.DurationMS = time.Since(start).Milliseconds()
			rep.Runs[i] = m
			o.logger.Info("training iteration finished", "iteration", i+1, "status", m.Status, "duration_ms", m.DurationMS)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var totalDuration int64
	var totalAttempts int
	for _, m := range rep.Runs {
		if m.Status == models.RunStatusSucceeded {
			rep.Succeeded++
		}
		totalDuration += m.DurationMS
		totalAttempts += m.Attempts
	}
	rep.SuccessRate = float64(rep.Succeeded) / float64(iterations)
	rep.MeanDurationMS = totalDuration / int64(iterations)
	rep.MeanAttempts = float64(totalAttempts) / float64(iterations)
	rep.CompletedAt = o.now().UTC()

	if outFile != "" {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal training report: %w", err)
		}
		if err := renameio.WriteFile(outFile, append(data, '\n'), 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", outFile, err)
		}
	}
	return rep, nil
}

func iterationMetrics(n int, res *Result, err error) IterationMetrics {
	m := IterationMetrics{Iteration: n, Status: models.RunStatusFailed}
	if err != nil {
		m.ErrorKind = string(core.KindOf(err))
		m.Error = err.Error()
	}
	if res == nil {
		return m
	}
	m.RunID = res.Run.ID
	m.Status = res.Outcome.Status
	m.Attempts = res.Outcome.Attempts
	m.FailedTask = res.Outcome.FailedTask
	m.RepairedFields, m.MeanConfidence = recordQuality(res.Records)
	return m
}

// recordQuality counts repaired fields and averages the confidence of
// every surge report.
func recordQuality(entries []pipeline.Entry) (repaired int, meanConfidence float64) {
	var sum float64
	var n int
	for _, e := range entries {
		repaired += len(e.Record.Repaired)
		if e.Record.Kind == report.KindSurgeReport && e.Record.Surge != nil {
			sum += e.Record.Surge.ConfidenceScore
			n++
		}
	}
	if n > 0 {
		meanConfidence = sum / float64(n)
	}
	return repaired, meanConfidence
}
