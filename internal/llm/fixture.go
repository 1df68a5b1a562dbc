package llm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/extremecoder-rgb/JeevanSetu/internal/core"
)

// FixtureBackend replays canned outputs from Dir, one file per task:
// <task_id>.json, falling back to <task_id>.txt.
type FixtureBackend struct {
	Dir string
}

func (b FixtureBackend) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for _, ext := range []string{".json", ".txt"} {
		data, err := os.ReadFile(filepath.Join(b.Dir, req.TaskID+ext))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", core.NewCallError(core.FailUnavailable, "read fixture", err)
		}
	}
	return "", core.NewCallError(core.FailMalformed, fmt.Sprintf("no fixture for task %q in %s", req.TaskID, b.Dir), nil)
}
