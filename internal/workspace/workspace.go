// Package workspace manages the files a run leaves behind: the result
// JSON and the resources tree that task outputs are written to.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/extremecoder-rgb/JeevanSetu/internal/models"
	"github.com/extremecoder-rgb/JeevanSetu/internal/pipeline"
	"github.com/extremecoder-rgb/JeevanSetu/internal/report"
)

type Workspace struct {
	ResultsDir   string
	ResourcesDir string
}

// OutputDirs are created under the resources dir for task output files.
var OutputDirs = []string{
	"data",
	"forecasts",
	"plans",
	filepath.Join("communications", "patient_advisories"),
	"reports",
}

// Create prepares the results and resources directories.
func Create(resultsDir, resourcesDir string) (*Workspace, error) {
	w := &Workspace{ResultsDir: resultsDir, ResourcesDir: resourcesDir}

	if err := os.MkdirAll(resultsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	for _, dir := range OutputDirs {
		path := filepath.Join(resourcesDir, dir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}

	return w, nil
}

// Result is the persisted outcome of one run.
type Result struct {
	RunID      int64             `json:"run_id"`
	RunKey     string            `json:"run_key"`
	Inputs     map[string]string `json:"inputs"`
	Result     *report.Record    `json:"result"`
	Records    []pipeline.Entry  `json:"records"`
	Timestamp  time.Time         `json:"timestamp"`
	Status     models.RunStatus  `json:"status"`
	FailedTask string            `json:"failed_task,omitempty"`
	ErrorKind  string            `json:"error_kind,omitempty"`
	Error      string            `json:"error,omitempty"`
	ReplayOf   *int64            `json:"replay_of,omitempty"`
}

const resultPrefix = "hospital_prediction_"

// ResultFileName derives the file name from the run time and key.
func ResultFileName(ts time.Time, runKey string) string {
	key := strings.ReplaceAll(runKey, "-", "")
	if len(key) > 8 {
		key = key[:8]
	}
	return fmt.Sprintf("%s%s_%s.json", resultPrefix, ts.Format("20060102_150405"), key)
}

// WriteResult stores res atomically and returns its path.
func (w *Workspace) WriteResult(res *Result) (string, error) {
	path := filepath.Join(w.ResultsDir, ResultFileName(res.Timestamp, res.RunKey))

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	data = append(data, '\n')

	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	return path, nil
}

// LoadResult reads a result file written by WriteResult.
func LoadResult(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("result file %s not found", path)
		}
		return nil, fmt.Errorf("failed to read result file: %w", err)
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to parse result JSON: %w", err)
	}

	return &res, nil
}

// ListResults returns result files in the results dir, newest first.
func (w *Workspace) ListResults() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(w.ResultsDir, resultPrefix+"*.json"))
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches, nil
}

// OutputPath resolves a task's output file under the resources dir.
func (w *Workspace) OutputPath(rel string) string {
	return filepath.Join(w.ResourcesDir, filepath.Clean("/"+rel))
}
