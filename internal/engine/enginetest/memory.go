// Package enginetest provides an in-memory engine for tests.
package enginetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/looperlab/looper/internal/engine"
)

// ExecFunc simulates one engine run. It may write files through e.
type ExecFunc func(ctx context.Context, e *Memory, args []string, onProgress engine.ProgressFunc) (engine.Result, error)

// Memory is an in-memory engine.Engine.
type Memory struct {
	mu       sync.Mutex
	files    map[string][]byte
	loaded   bool
	execFn   ExecFunc
	calls    [][]string
	deleteFn func(name string) error
}

// NewMemory returns a loaded engine whose Exec writes a small output file.
func NewMemory() *Memory {
	return &Memory{
		files:  make(map[string][]byte),
		loaded: true,
	}
}

// SetLoaded toggles the loaded state.
func (m *Memory) SetLoaded(v bool) {
	m.mu.Lock()
	m.loaded = v
	m.mu.Unlock()
}

// OnExec replaces the default run behaviour.
func (m *Memory) OnExec(fn ExecFunc) {
	m.mu.Lock()
	m.execFn = fn
	m.mu.Unlock()
}

// OnDelete injects delete failures.
func (m *Memory) OnDelete(fn func(name string) error) {
	m.mu.Lock()
	m.deleteFn = fn
	m.mu.Unlock()
}

// Calls returns the argument lists Exec received.
func (m *Memory) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *Memory) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

func (m *Memory) WriteFile(name string, data []byte) error {
	if err := engine.ValidName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return engine.ErrNotLoaded
	}
	m.files[name] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) ListFiles() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return nil, engine.ErrNotLoaded
	}
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) DeleteFile(name string) error {
	m.mu.Lock()
	fn := m.deleteFn
	m.mu.Unlock()
	if fn != nil {
		if err := fn(name); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; !ok {
		return fmt.Errorf("%w: %s", engine.ErrNotFound, name)
	}
	delete(m.files, name)
	return nil
}

func (m *Memory) ReadFile(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrNotFound, name)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Exec(ctx context.Context, args []string, onProgress engine.ProgressFunc) (engine.Result, error) {
	m.mu.Lock()
	if !m.loaded {
		m.mu.Unlock()
		return engine.Result{}, engine.ErrNotLoaded
	}
	m.calls = append(m.calls, append([]string(nil), args...))
	fn := m.execFn
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, m, args, onProgress)
	}

	if onProgress != nil {
		onProgress(50)
		onProgress(100)
	}
	if len(args) > 0 {
		if err := m.WriteFile(args[len(args)-1], []byte("rendered")); err != nil {
			return engine.Result{}, err
		}
	}
	return engine.Result{ExitCode: 0}, nil
}

// Files returns a copy of the current filesystem.
func (m *Memory) Files() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.files))
	for k, v := range m.files {
		out[k] = append([]byte(nil), v...)
	}
	return out
}
