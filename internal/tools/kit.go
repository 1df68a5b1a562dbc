package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// KitConfig configures the tool kit available to agents.
type KitConfig struct {
	ResourcesDir  string
	SerperAPIKey  string
	Timeout       time.Duration
	MaxChars      int // per observation
	MaxFilesRead  int // per directory listing
	SearchResults int
}

// Kit runs an agent's declared tools ahead of its model call and writes
// task output files.
type Kit struct {
	cfg      KitConfig
	registry *Registry
	dirs     DirectoryRead
}

// NewKit builds the kit. Web search is only registered when an API key
// is configured.
func NewKit(cfg KitConfig) *Kit {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 2000
	}
	if cfg.SearchResults <= 0 {
		cfg.SearchResults = 5
	}

	k := &Kit{cfg: cfg, dirs: DirectoryRead{Root: cfg.ResourcesDir}}
	list := []Tool{
		FileRead{Root: cfg.ResourcesDir, MaxChars: cfg.MaxChars},
		FileWrite{Root: cfg.ResourcesDir},
		k.dirs,
		NewScrape(cfg.Timeout, cfg.MaxChars),
	}
	if search := NewWebSearch(cfg.SerperAPIKey, cfg.Timeout); search != nil {
		list = append(list, search)
	}
	k.registry = NewRegistry(list...)
	return k
}

// NewKitWithRegistry wraps an explicit registry, for tests.
func NewKitWithRegistry(cfg KitConfig, r *Registry) *Kit {
	return &Kit{cfg: cfg, registry: r, dirs: DirectoryRead{Root: cfg.ResourcesDir}}
}

// Registry exposes the registered tools.
func (k *Kit) Registry() *Registry { return k.registry }

// Gather runs the tools referenced by an agent and returns what they
// produced. Unregistered tools are skipped. The first tool error is
// returned as is so the caller can classify it.
func (k *Kit) Gather(ctx context.Context, refs []string, query string) ([]Observation, error) {
	var obs []Observation
	var firstLink string

	for _, ref := range refs {
		name, arg := ParseRef(ref)
		tool, ok := k.registry.Get(name)
		if !ok {
			continue
		}
		switch name {
		case NameDirectoryRead:
			listing, err := tool.Call(ctx, map[string]string{"dir": arg})
			if err != nil {
				return obs, err
			}
			obs = append(obs, Observation{Tool: name, Detail: arg, Text: listing})
			more, err := k.readListed(ctx, arg)
			if err != nil {
				return obs, err
			}
			obs = append(obs, more...)
		case NameWebSearch:
			if query == "" {
				continue
			}
			text, err := tool.Call(ctx, map[string]string{"query": query, "num": fmt.Sprint(k.cfg.SearchResults)})
			if err != nil {
				return obs, err
			}
			obs = append(obs, Observation{Tool: name, Detail: query, Text: text})
			if firstLink == "" {
				firstLink = extractFirstLink(text)
			}
		}
	}

	if firstLink != "" && hasTool(refs, NameScrape) {
		if tool, ok := k.registry.Get(NameScrape); ok {
			text, err := tool.Call(ctx, map[string]string{"url": firstLink})
			if err != nil {
				return obs, err
			}
			obs = append(obs, Observation{Tool: NameScrape, Detail: firstLink, Text: text})
		}
	}
	return obs, nil
}

// readListed reads the most recent text files in dir through file_read.
func (k *Kit) readListed(ctx context.Context, dir string) ([]Observation, error) {
	if k.cfg.MaxFilesRead <= 0 {
		return nil, nil
	}
	tool, ok := k.registry.Get(NameFileRead)
	if !ok {
		return nil, nil
	}
	files, err := k.dirs.List(dir)
	if err != nil {
		return nil, err
	}
	var obs []Observation
	for _, f := range files {
		if len(obs) >= k.cfg.MaxFilesRead {
			break
		}
		switch strings.ToLower(filepath.Ext(f)) {
		case ".md", ".txt", ".csv", ".json":
		default:
			continue
		}
		text, err := tool.Call(ctx, map[string]string{"path": f})
		if err != nil {
			return obs, err
		}
		obs = append(obs, Observation{Tool: NameFileRead, Detail: f, Text: text})
	}
	return obs, nil
}

// WriteOutput stores a task's rendered output under the resources dir.
func (k *Kit) WriteOutput(ctx context.Context, path, content string) error {
	tool, ok := k.registry.Get(NameFileWrite)
	if !ok {
		return nil
	}
	_, err := tool.Call(ctx, map[string]string{"path": path, "content": content})
	return err
}

func hasTool(refs []string, name string) bool {
	for _, ref := range refs {
		if n, _ := ParseRef(ref); n == name {
			return true
		}
	}
	return false
}

// extractFirstLink finds the first http(s) URL in formatted search output.
func extractFirstLink(text string) string {
	for _, field := range strings.Fields(text) {
		if strings.HasPrefix(field, "http://") || strings.HasPrefix(field, "https://") {
			return field
		}
	}
	return ""
}
