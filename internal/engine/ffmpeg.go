package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
)

const (
	maxStderrBytes = 16 * 1024 // tail of ffmpeg stderr kept for diagnostics
)

// Config holds the ffmpeg engine configuration.
type Config struct {
	BinaryPath   string // path to ffmpeg; empty = PATH lookup
	WorkDir      string // engine filesystem root
	ProbeTimeout time.Duration
	Logger       *slog.Logger
	DebugPaths   bool // if true, log full file paths; otherwise sanitise
}

// FFmpegEngine runs a local ffmpeg binary against a private working directory.
// It must be loaded before use and closed when the owner shuts down.
type FFmpegEngine struct {
	cfg  Config
	lock *flock.Flock

	mu     sync.RWMutex
	binary string
	loaded bool
}

// NewFFmpegEngine creates an engine handle. Nothing is touched until Load.
func NewFFmpegEngine(cfg Config) *FFmpegEngine {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FFmpegEngine{
		cfg:  cfg,
		lock: flock.New(filepath.Clean(cfg.WorkDir) + ".lock"),
	}
}

// Load resolves the binary, prepares the working directory and takes the
// workspace lock so a second agent cannot share it.
func (e *FFmpegEngine) Load() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		return nil
	}

	binary, err := resolveBinary(e.cfg.BinaryPath)
	if err != nil {
		return fmt.Errorf("cannot locate ffmpeg: %w", err)
	}

	if err := os.MkdirAll(e.cfg.WorkDir, 0755); err != nil {
		return fmt.Errorf("cannot create engine work dir: %w", err)
	}

	ok, err := e.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire engine lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("engine work dir %s is in use by another process", e.safePath(e.cfg.WorkDir))
	}

	e.binary = binary
	e.loaded = true

	e.cfg.Logger.Info("engine loaded",
		"binary", binary,
		"work_dir", e.safePath(e.cfg.WorkDir),
	)
	return nil
}

// Close releases the workspace lock. The engine can be loaded again later.
func (e *FFmpegEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return nil
	}
	e.loaded = false
	if err := e.lock.Unlock(); err != nil {
		return fmt.Errorf("release engine lock: %w", err)
	}
	e.cfg.Logger.Info("engine closed")
	return nil
}

func (e *FFmpegEngine) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

// Binary returns the resolved ffmpeg path, empty before Load.
func (e *FFmpegEngine) Binary() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.binary
}

func (e *FFmpegEngine) path(name string) (string, error) {
	if !e.Loaded() {
		return "", ErrNotLoaded
	}
	if err := ValidName(name); err != nil {
		return "", err
	}
	return filepath.Join(e.cfg.WorkDir, name), nil
}

func (e *FFmpegEngine) WriteFile(name string, data []byte) error {
	p, err := e.path(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	e.cfg.Logger.Debug("engine file written", "name", name, "size", humanize.Bytes(uint64(len(data))))
	return nil
}

func (e *FFmpegEngine) ListFiles() ([]string, error) {
	if !e.Loaded() {
		return nil, ErrNotLoaded
	}
	entries, err := os.ReadDir(e.cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("list engine files: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (e *FFmpegEngine) DeleteFile(name string) error {
	p, err := e.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

func (e *FFmpegEngine) ReadFile(name string) ([]byte, error) {
	p, err := e.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// Exec runs ffmpeg inside the working directory so staged names resolve.
func (e *FFmpegEngine) Exec(ctx context.Context, args []string, onProgress ProgressFunc) (Result, error) {
	if !e.Loaded() {
		return Result{}, ErrNotLoaded
	}
	start := time.Now()

	cmdArgs := withProgressFlags(args)
	cmd := exec.CommandContext(ctx, e.Binary(), cmdArgs...)
	cmd.Dir = e.cfg.WorkDir

	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("engine stdout: %w", err)
	}

	e.cfg.Logger.Info("executing engine command", "args", cmdArgs)

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}, nil
	}

	tracker := newProgressTracker(TargetDuration(args), onProgress)
	tracker.consume(stdout)

	err = cmd.Wait()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	stderrTail := stderrBuf.String()

	if exitCode != 0 {
		e.cfg.Logger.Warn("engine command failed",
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		e.cfg.Logger.Info("engine command succeeded",
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return Result{
		ExitCode:   exitCode,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}, nil
}

func (e *FFmpegEngine) safePath(path string) string {
	if e.cfg.DebugPaths {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

// resolveBinary finds a usable ffmpeg binary.
func resolveBinary(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured ffmpeg %q not found", preferred)
	}
	if p, err := exec.LookPath("ffmpeg"); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("no ffmpeg binary found on PATH")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
