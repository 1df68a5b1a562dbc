package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/extremecoder-rgb/JeevanSetu/internal/core"
)

// Tool names.
const (
	NameFileRead      = "file_read"
	NameFileWrite     = "file_write"
	NameDirectoryRead = "directory_read"
	NameWebSearch     = "web_search"
	NameScrape        = "scrape"
)

// confine resolves rel under root, refusing paths that escape it.
func confine(root, rel string) (string, error) {
	if root == "" {
		return "", core.NewCallError(core.FailMalformed, "no resources directory configured", nil)
	}
	if rel == "" {
		return "", core.NewCallError(core.FailMalformed, "path is required", nil)
	}
	return filepath.Join(root, filepath.Clean("/"+rel)), nil
}

// FileRead returns a file's contents. args: path.
type FileRead struct {
	Root     string
	MaxChars int
}

func (FileRead) Name() string { return NameFileRead }

func (t FileRead) Call(ctx context.Context, args map[string]string) (string, error) {
	path, err := confine(t.Root, args["path"])
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", core.NewCallError(core.FailMalformed, fmt.Sprintf("file %s not found", args["path"]), nil)
		}
		return "", core.NewCallError(core.FailUnavailable, "read file", err)
	}
	return truncate(string(data), t.MaxChars), nil
}

// FileWrite writes content to a file, creating parent directories.
// args: path, content.
type FileWrite struct {
	Root string
}

func (FileWrite) Name() string { return NameFileWrite }

func (t FileWrite) Call(ctx context.Context, args map[string]string) (string, error) {
	path, err := confine(t.Root, args["path"])
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", core.NewCallError(core.FailUnavailable, "create directory", err)
	}
	if err := os.WriteFile(path, []byte(args["content"]), 0644); err != nil {
		return "", core.NewCallError(core.FailUnavailable, "write file", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(args["content"]), args["path"]), nil
}

// DirectoryRead lists files below a directory. args: dir.
// A directory that does not exist yet lists as empty.
type DirectoryRead struct {
	Root string
}

func (DirectoryRead) Name() string { return NameDirectoryRead }

func (t DirectoryRead) Call(ctx context.Context, args map[string]string) (string, error) {
	files, err := t.List(args["dir"])
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "(no files)", nil
	}
	return strings.Join(files, "\n"), nil
}

// List returns file paths relative to Root, sorted.
func (t DirectoryRead) List(dir string) ([]string, error) {
	base, err := confine(t.Root, dir)
	if err != nil {
		return nil, err
	}
	var files []string
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(t.Root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, core.NewCallError(core.FailUnavailable, "list directory", err)
	}
	sort.Strings(files)
	return files, nil
}
