package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/looperlab/looper/internal/command"
	"github.com/looperlab/looper/internal/engine"
)

// FailureMessage is what a failed render reports. Engine detail goes to the
// log only.
const FailureMessage = "processing failed: try a shorter duration or different settings"

var ErrRenderFailed = errors.New(FailureMessage)

type task struct {
	job        *Job
	opts       command.Options
	files      []stagedFile
	onProgress engine.ProgressFunc
}

// Active is a snapshot of the in-flight render.
type Active struct {
	RenderID  string    `json:"render_id"`
	Progress  int       `json:"progress"`
	StartedAt time.Time `json:"started_at"`
}

type RunnerConfig struct {
	OutputDir string        // finished renders land here as <id>.mp4
	Timeout   time.Duration // zero means no limit
}

// Runner executes one render at a time.
type Runner struct {
	repo   Repository
	engine engine.Engine
	cfg    RunnerConfig
	logger *slog.Logger

	queue   chan *task
	running atomic.Bool
	busy    atomic.Bool

	mu     sync.RWMutex
	active *Active
}

func NewRunner(repo Repository, eng engine.Engine, cfg RunnerConfig, logger *slog.Logger) *Runner {
	return &Runner{
		repo:   repo,
		engine: eng,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan *task, 1),
	}
}

// Start processes submitted renders until ctx is cancelled. A cancelled
// context also stops the in-flight engine run.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("render runner started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("render runner stopping")
			r.running.Store(false)
			return
		case t := <-r.queue:
			if err := r.Process(ctx, t); err != nil {
				r.logger.Warn("render failed", "render_id", t.job.ID, "error", err)
			}
		}
	}
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// IsBusy reports whether a render holds the slot.
func (r *Runner) IsBusy() bool {
	return r.busy.Load()
}

func (r *Runner) Active() (Active, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return Active{}, false
	}
	return *r.active, true
}

func (r *Runner) acquire() bool {
	return r.busy.CompareAndSwap(false, true)
}

func (r *Runner) release() {
	r.busy.Store(false)
}

func (r *Runner) enqueue(t *task) {
	r.queue <- t
}

// Process runs one acquired task to completion and frees the slot.
func (r *Runner) Process(ctx context.Context, t *task) error {
	job := t.job
	logger := r.logger.With("render_id", job.ID)

	r.setActive(job.ID)
	defer r.release()
	defer r.clearActive()

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	// history writes must land even when the run itself was cancelled
	store := context.WithoutCancel(ctx)

	fail := func(msg string, err error, attrs ...any) error {
		logger.Error(msg, append(attrs, "error", err)...)
		if uerr := r.repo.UpdateRenderStatus(store, job.ID, StatusFailed, failureMessage(ctx)); uerr != nil {
			logger.Error("failed to record render failure", "error", uerr)
		}
		return fmt.Errorf("%w: %s: %v", ErrRenderFailed, msg, err)
	}

	if err := r.repo.UpdateRenderStatus(store, job.ID, StatusRunning, ""); err != nil {
		logger.Warn("failed to mark render running", "error", err)
	}

	r.cleanWorkspace(logger)

	for _, f := range t.files {
		if err := r.engine.WriteFile(f.name, f.data); err != nil {
			return fail("staging failed", err, "file", f.name)
		}
		logger.Debug("staged input", "file", f.name, "size", humanize.Bytes(uint64(len(f.data))))
	}

	args := command.Build(t.opts)
	if err := r.repo.SetRenderArgs(store, job.ID, args); err != nil {
		logger.Warn("failed to record render args", "error", err)
	}
	if t.opts.FadeOut && t.opts.FadeOutStart() < 0 {
		logger.Warn("fade-out starts before the beginning of the output",
			"fade_out_start", t.opts.FadeOutStart(),
			"duration_s", t.opts.Duration(),
		)
	}

	res, err := r.engine.Exec(ctx, args, func(pct int) {
		r.setProgress(pct)
		if err := r.repo.UpdateRenderProgress(store, job.ID, pct); err != nil {
			logger.Debug("failed to record progress", "error", err)
		}
		if t.onProgress != nil {
			t.onProgress(pct)
		}
	})
	if err != nil {
		return fail("engine run failed", err)
	}
	if !res.IsSuccess() {
		return fail("engine exited with error", fmt.Errorf("exit code %d", res.ExitCode),
			"stderr_tail", tail(res.StderrTail, 1024))
	}

	data, err := r.engine.ReadFile(command.OutputName)
	if err != nil {
		return fail("output missing", err)
	}

	if err := os.MkdirAll(r.cfg.OutputDir, 0755); err != nil {
		return fail("cannot create output dir", err)
	}
	outPath := filepath.Join(r.cfg.OutputDir, job.ID+".mp4")
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return fail("cannot write output", err)
	}

	if err := r.repo.CompleteRender(store, job.ID, outPath, int64(len(data)), res.Duration); err != nil {
		return fmt.Errorf("record render completion: %w", err)
	}

	logger.Info("render completed",
		"size", humanize.Bytes(uint64(len(data))),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return nil
}

// cleanWorkspace removes every file left in the engine filesystem. Errors
// are ignored; a stale file is overwritten by staging anyway.
func (r *Runner) cleanWorkspace(logger *slog.Logger) {
	names, err := r.engine.ListFiles()
	if err != nil {
		logger.Debug("workspace listing failed", "error", err)
		return
	}
	for _, name := range names {
		if err := r.engine.DeleteFile(name); err != nil {
			logger.Debug("workspace cleanup failed", "file", name, "error", err)
		}
	}
}

func (r *Runner) setActive(id string) {
	r.mu.Lock()
	r.active = &Active{RenderID: id, StartedAt: time.Now()}
	r.mu.Unlock()
}

func (r *Runner) setProgress(pct int) {
	r.mu.Lock()
	if r.active != nil {
		r.active.Progress = pct
	}
	r.mu.Unlock()
}

func (r *Runner) clearActive() {
	r.mu.Lock()
	r.active = nil
	r.mu.Unlock()
}

func failureMessage(ctx context.Context) string {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "processing timed out: try a shorter duration"
	case errors.Is(ctx.Err(), context.Canceled):
		return "render cancelled"
	default:
		return FailureMessage
	}
}

func tail(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}
