// Package lua provides a scripted, deterministic model backend. A script
// defines generate(req) and answers each task without calling a model,
// typically from tabular data on disk.
package lua

import (
	"context"
	"embed"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/extremecoder-rgb/JeevanSetu/internal/core"
	"github.com/extremecoder-rgb/JeevanSetu/internal/llm"
	"github.com/extremecoder-rgb/JeevanSetu/internal/logging"
)

//go:embed offline.lua
var scripts embed.FS

// DefaultScript is the built-in offline crew.
func DefaultScript() string {
	data, _ := scripts.ReadFile("offline.lua")
	return string(data)
}

const failMarker = "__jeevansetu_fail__:"

// Backend runs generate(req) from a Lua script for every call. Each call
// gets a fresh interpreter so calls never share state.
type Backend struct {
	source  string
	name    string
	dataDir string
	logger  *logging.Logger
}

// New compiles source and checks that it defines generate.
func New(name, source, dataDir string, logger *logging.Logger) (*Backend, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	b := &Backend{source: source, name: name, dataDir: dataDir, logger: logger}

	L := b.newState(context.Background(), nil)
	defer L.Close()
	if err := L.DoString(source); err != nil {
		return nil, &core.ConfigurationError{Message: fmt.Sprintf("load script %s", name), Cause: err}
	}
	if fn, ok := L.GetGlobal("generate").(*lua.LFunction); !ok || fn == nil {
		return nil, &core.ConfigurationError{Message: fmt.Sprintf("script %s must define a 'generate' function", name)}
	}
	return b, nil
}

// Load reads a script file, or uses DefaultScript when path is empty.
func Load(path, dataDir string, logger *logging.Logger) (*Backend, error) {
	if path == "" {
		return New("offline.lua", DefaultScript(), dataDir, logger)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.ConfigurationError{Message: "read script", Cause: err}
	}
	return New(filepath.Base(path), string(src), dataDir, logger)
}

// Generate implements llm.Backend.
func (b *Backend) Generate(ctx context.Context, req llm.Request) (string, error) {
	L := b.newState(ctx, &req)
	defer L.Close()

	if err := L.DoString(b.source); err != nil {
		return "", core.NewCallError(core.FailMalformed, "load script", err)
	}

	L.Push(L.GetGlobal("generate"))
	L.Push(requestTable(L, req))
	if err := L.PCall(1, 1, nil); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", scriptError(err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	switch v := ret.(type) {
	case lua.LString:
		return string(v), nil
	case *lua.LTable:
		data, err := json.Marshal(luaToGo(v))
		if err != nil {
			return "", core.NewCallError(core.FailMalformed, "encode script result", err)
		}
		return string(data), nil
	case *lua.LNilType:
		return "", nil
	default:
		return ret.String(), nil
	}
}

// scriptError recovers a failure raised through fail(kind, msg).
func scriptError(err error) error {
	msg := err.Error()
	if i := strings.Index(msg, failMarker); i >= 0 {
		rest := msg[i+len(failMarker):]
		kind, text, _ := strings.Cut(rest, ":")
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[:nl]
		}
		return core.NewCallError(core.CallFailure(kind), strings.TrimSpace(text), nil)
	}
	return core.NewCallError(core.FailMalformed, "script error", err)
}

func (b *Backend) newState(ctx context.Context, req *llm.Request) *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	L.SetContext(ctx)
	openSafeLibs(L)

	L.SetGlobal("read_csv", L.NewFunction(b.luaReadCSV))
	L.SetGlobal("read_file", L.NewFunction(b.luaReadFile))
	L.SetGlobal("fail", L.NewFunction(luaFail))
	L.SetGlobal("log", L.NewFunction(func(L *lua.LState) int {
		msg := L.CheckString(1)
		log := b.logger.With("script", b.name)
		if req != nil {
			log = log.WithTask(req.TaskID)
		}
		log.Debug(msg)
		return 0
	}))
	return L
}

// openSafeLibs loads only the deterministic, side-effect free libraries.
func openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil) // use log()

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	if tbl, ok := L.GetGlobal("math").(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

// luaFail implements fail(kind, message): raise a classified call failure.
func luaFail(L *lua.LState) int {
	kind := L.CheckString(1)
	msg := L.OptString(2, "script failure")
	L.RaiseError("%s%s:%s", failMarker, kind, msg)
	return 0
}

// luaReadCSV implements read_csv(path): a list of rows keyed by header.
// A missing file returns nil so scripts can fall back to constants.
func (b *Backend) luaReadCSV(L *lua.LState) int {
	path, err := b.resolve(L.CheckString(1))
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			L.Push(lua.LNil)
			return 1
		}
		L.RaiseError("read_csv: %v", err)
		return 0
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		L.RaiseError("read_csv %s: %v", filepath.Base(path), err)
		return 0
	}

	rows := L.NewTable()
	if len(records) > 0 {
		header := records[0]
		for _, rec := range records[1:] {
			row := L.NewTable()
			for i, col := range header {
				if i < len(rec) {
					L.SetField(row, strings.TrimSpace(col), lua.LString(strings.TrimSpace(rec[i])))
				}
			}
			rows.Append(row)
		}
	}
	L.Push(rows)
	return 1
}

// luaReadFile implements read_file(path), returning nil when absent.
func (b *Backend) luaReadFile(L *lua.LState) int {
	path, err := b.resolve(L.CheckString(1))
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			L.Push(lua.LNil)
			return 1
		}
		L.RaiseError("read_file: %v", err)
		return 0
	}
	L.Push(lua.LString(data))
	return 1
}

// resolve confines script file access to the data directory.
func (b *Backend) resolve(rel string) (string, error) {
	if b.dataDir == "" {
		return "", fmt.Errorf("no data directory configured")
	}
	clean := filepath.Clean("/" + rel)
	return filepath.Join(b.dataDir, clean), nil
}

func requestTable(L *lua.LState, req llm.Request) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "prompt", lua.LString(req.Prompt))
	L.SetField(tbl, "model", lua.LString(req.Model))
	L.SetField(tbl, "task_id", lua.LString(req.TaskID))
	L.SetField(tbl, "role", lua.LString(req.Role))
	L.SetField(tbl, "schema", lua.LString(req.Schema))
	L.SetField(tbl, "temperature", lua.LNumber(req.Temperature))
	L.SetField(tbl, "max_tokens", lua.LNumber(req.MaxTokens))
	inputs := L.NewTable()
	for k, v := range req.Inputs {
		L.SetField(inputs, k, lua.LString(v))
	}
	L.SetField(tbl, "inputs", inputs)
	return tbl
}

// luaToGo converts a Lua value for JSON encoding. Tables with a
// positive length become lists.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		f := float64(val)
		if f == math.Trunc(f) && math.Abs(f) < 1e15 {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if n := val.Len(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, luaToGo(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			out[k.String()] = luaToGo(item)
		})
		return out
	default:
		return val.String()
	}
}
