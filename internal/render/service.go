// Package render turns render requests into engine runs and keeps their
// history.
package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/looperlab/looper/internal/command"
	"github.com/looperlab/looper/internal/engine"
)

var (
	ErrMissingVideo   = errors.New("a video file is required")
	ErrMissingAudio   = errors.New("external audio is selected but no audio file was uploaded")
	ErrEngineNotReady = errors.New("engine is not ready yet")
	ErrBusy           = errors.New("a render is already in progress")
	ErrNotFound       = errors.New("render not found")
)

const lastOptionsKey = "last_options"

type Service struct {
	repo   Repository
	engine engine.Engine
	runner *Runner
	logger *slog.Logger
}

func NewService(repo Repository, eng engine.Engine, runner *Runner, logger *slog.Logger) *Service {
	return &Service{repo: repo, engine: eng, runner: runner, logger: logger}
}

// Preview returns the argument list a request would run, without touching
// the engine.
func (s *Service) Preview(req Request) (command.Plan, error) {
	opts, _, err := prepare(req)
	if err != nil {
		return command.Plan{}, err
	}
	return command.Describe(opts), nil
}

// Submit validates req, records a pending render and hands it to the runner.
// Precondition failures are returned before anything is recorded.
func (s *Service) Submit(ctx context.Context, req Request) (*Job, error) {
	t, err := s.begin(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	s.runner.enqueue(t)
	return t.job, nil
}

// Render is Submit that waits: it runs on the caller's goroutine and returns
// the finished job. onProgress may be nil.
func (s *Service) Render(ctx context.Context, req Request, onProgress engine.ProgressFunc) (*Job, error) {
	t, err := s.begin(ctx, req, onProgress)
	if err != nil {
		return nil, err
	}
	runErr := s.runner.Process(ctx, t)

	job, err := s.repo.GetRender(context.WithoutCancel(ctx), t.job.ID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNotFound
	}
	return job, runErr
}

func (s *Service) begin(ctx context.Context, req Request, onProgress engine.ProgressFunc) (*task, error) {
	opts, files, err := prepare(req)
	if err != nil {
		return nil, err
	}
	if !s.engine.Loaded() {
		return nil, ErrEngineNotReady
	}
	if !s.runner.acquire() {
		return nil, ErrBusy
	}

	settings, err := json.Marshal(opts)
	if err != nil {
		s.runner.release()
		return nil, fmt.Errorf("encode settings: %w", err)
	}

	now := time.Now()
	job := &Job{
		ID:        NewID(),
		Status:    StatusPending,
		Settings:  string(settings),
		VideoName: req.Video.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateRender(ctx, job); err != nil {
		s.runner.release()
		return nil, fmt.Errorf("record render: %w", err)
	}
	if err := s.repo.SetConfig(ctx, lastOptionsKey, string(settings)); err != nil && s.logger != nil {
		s.logger.Warn("failed to remember form settings", "error", err)
	}

	if s.logger != nil {
		s.logger.Info("render submitted",
			"render_id", job.ID,
			"duration_s", opts.Duration(),
			"audio", command.Describe(opts).Audio.Source.String(),
			"text", opts.HasText(),
			"image", opts.Image != nil,
		)
	}

	return &task{job: job, opts: opts, files: files, onProgress: onProgress}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.GetRender(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNotFound
	}
	return job, nil
}

func (s *Service) List(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListRenders(ctx, limit)
}

// Active reports the in-flight render, if any.
func (s *Service) Active() (Active, bool) {
	return s.runner.Active()
}

// LastOptions returns the settings of the most recent submission, without
// its inputs, so the form can start from them. Defaults when there is none.
func (s *Service) LastOptions(ctx context.Context) command.Options {
	opts := command.DefaultOptions()
	raw, err := s.repo.GetConfig(ctx, lastOptionsKey)
	if err != nil || raw == "" {
		return opts
	}
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return command.DefaultOptions()
	}
	opts.Video = command.Input{}
	opts.Audio = nil
	opts.Image = nil
	opts.Font = nil
	return opts
}
