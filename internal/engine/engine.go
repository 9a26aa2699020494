// Package engine wraps the external media engine: a flat working filesystem
// plus argument-list execution with progress notifications.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrNotLoaded   = errors.New("engine not loaded")
	ErrInvalidName = errors.New("invalid engine file name")
	ErrNotFound    = errors.New("engine file not found")
)

// ProgressFunc receives a 0-100 completion percentage. It is display-only.
type ProgressFunc func(percent int)

// Engine is the contract the render layer depends on.
type Engine interface {
	// WriteFile stores data under a flat name in the engine filesystem.
	WriteFile(name string, data []byte) error
	// ListFiles returns the names currently in the engine filesystem.
	ListFiles() ([]string, error)
	// DeleteFile removes one file.
	DeleteFile(name string) error
	// ReadFile returns the contents of a file, typically the render output.
	ReadFile(name string) ([]byte, error)
	// Exec runs the engine with args. A non-zero exit is reported through
	// Result, not the error; the error covers failures to run at all.
	Exec(ctx context.Context, args []string, onProgress ProgressFunc) (Result, error)
	// Loaded reports whether the engine is initialised and usable.
	Loaded() bool
}

// Result is the outcome of one Exec call.
type Result struct {
	ExitCode   int           `json:"exit_code"`
	StderrTail string        `json:"stderr_tail,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the engine exited cleanly.
func (r Result) IsSuccess() bool { return r.ExitCode == 0 }

// ValidName rejects anything that is not a plain file name.
func ValidName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name ||
		strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// TargetDuration returns the -t value from an argument list, or 0.
func TargetDuration(args []string) time.Duration {
	for i := 0; i+1 < len(args); i++ {
		if args[i] != "-t" {
			continue
		}
		secs, err := parseSeconds(args[i+1])
		if err != nil {
			return 0
		}
		return secs
	}
	return 0
}
