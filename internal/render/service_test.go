package render

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/looperlab/looper/internal/command"
	"github.com/looperlab/looper/internal/db"
	"github.com/looperlab/looper/internal/engine"
	"github.com/looperlab/looper/internal/engine/enginetest"
)

type testEnv struct {
	svc    *Service
	runner *Runner
	repo   *SQLiteRepository
	eng    *enginetest.Memory
	outDir string
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()

	tmpDir := t.TempDir()
	database, err := db.New(filepath.Join(tmpDir, "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := NewRepository(database.Conn())
	eng := enginetest.NewMemory()
	outDir := filepath.Join(tmpDir, "renders")
	runner := NewRunner(repo, eng, RunnerConfig{OutputDir: outDir}, logger)

	return &testEnv{
		svc:    NewService(repo, eng, runner, logger),
		runner: runner,
		repo:   repo,
		eng:    eng,
		outDir: outDir,
	}
}

func videoRequest() Request {
	opts := command.DefaultOptions()
	opts.DurationSeconds = 10
	return Request{
		Video:   &Upload{Name: "loop.mp4", Data: []byte("video-bytes")},
		Options: opts,
	}
}

func waitForStatus(t *testing.T, repo Repository, id string) *Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := repo.GetRender(context.Background(), id)
		if err != nil {
			t.Fatalf("GetRender() error = %v", err)
		}
		if job != nil && job.Done() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("render %s did not finish", id)
	return nil
}

func TestService_Render_Success(t *testing.T) {
	env := setupTest(t)
	env.eng.WriteFile("stale.txt", []byte("left over"))

	var progress []int
	job, err := env.svc.Render(context.Background(), videoRequest(), func(p int) { progress = append(progress, p) })
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	if job.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.Progress != 100 {
		t.Errorf("progress = %d, want 100", job.Progress)
	}
	if len(progress) != 2 || progress[1] != 100 {
		t.Errorf("progress callbacks = %v, want [50 100]", progress)
	}
	if job.VideoName != "loop.mp4" {
		t.Errorf("video name = %s, want loop.mp4", job.VideoName)
	}

	data, err := os.ReadFile(filepath.Join(env.outDir, job.ID+".mp4"))
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	if string(data) != "rendered" {
		t.Errorf("output = %q, want rendered", data)
	}
	if job.OutputSize != int64(len("rendered")) {
		t.Errorf("output size = %d", job.OutputSize)
	}

	files := env.eng.Files()
	if _, ok := files["stale.txt"]; ok {
		t.Error("stale workspace file was not cleaned up")
	}
	if string(files["video.mp4"]) != "video-bytes" {
		t.Errorf("video.mp4 not staged: %v", files)
	}

	calls := env.eng.Calls()
	if len(calls) != 1 {
		t.Fatalf("engine called %d times, want 1", len(calls))
	}
	want := command.Build(func() command.Options {
		o := videoRequest().Options
		o.Video = command.Input{Name: "video.mp4"}
		return o
	}())
	if strings.Join(calls[0], " ") != strings.Join(want, " ") {
		t.Errorf("args = %v\nwant %v", calls[0], want)
	}
	if strings.Join(job.Args, " ") != strings.Join(want, " ") {
		t.Errorf("recorded args = %v", job.Args)
	}
	if env.runner.IsBusy() {
		t.Error("runner still busy after render")
	}
}

func TestService_Render_EngineFailure(t *testing.T) {
	env := setupTest(t)
	env.eng.OnExec(func(ctx context.Context, e *enginetest.Memory, args []string, onProgress engine.ProgressFunc) (engine.Result, error) {
		return engine.Result{ExitCode: 1, StderrTail: "Conversion failed!"}, nil
	})

	job, err := env.svc.Render(context.Background(), videoRequest(), nil)
	if !errors.Is(err, ErrRenderFailed) {
		t.Fatalf("Render() error = %v, want ErrRenderFailed", err)
	}
	if job.Status != StatusFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	if job.Error != FailureMessage {
		t.Errorf("error = %q, want %q", job.Error, FailureMessage)
	}
	if env.runner.IsBusy() {
		t.Error("runner still busy after failure")
	}
	if _, ok := env.runner.Active(); ok {
		t.Error("active render not cleared after failure")
	}
}

func TestService_Render_MissingOutput(t *testing.T) {
	env := setupTest(t)
	env.eng.OnExec(func(ctx context.Context, e *enginetest.Memory, args []string, onProgress engine.ProgressFunc) (engine.Result, error) {
		return engine.Result{ExitCode: 0}, nil
	})

	job, err := env.svc.Render(context.Background(), videoRequest(), nil)
	if !errors.Is(err, ErrRenderFailed) {
		t.Fatalf("Render() error = %v, want ErrRenderFailed", err)
	}
	if job.Status != StatusFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
}

func TestService_Render_CleanupErrorsIgnored(t *testing.T) {
	env := setupTest(t)
	env.eng.WriteFile("locked.bin", []byte("x"))
	env.eng.OnDelete(func(name string) error { return errors.New("permission denied") })

	job, err := env.svc.Render(context.Background(), videoRequest(), nil)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if job.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
}

func TestService_Render_Timeout(t *testing.T) {
	env := setupTest(t)
	env.runner.cfg.Timeout = 20 * time.Millisecond
	env.eng.OnExec(func(ctx context.Context, e *enginetest.Memory, args []string, onProgress engine.ProgressFunc) (engine.Result, error) {
		<-ctx.Done()
		return engine.Result{ExitCode: -1}, nil
	})

	job, err := env.svc.Render(context.Background(), videoRequest(), nil)
	if !errors.Is(err, ErrRenderFailed) {
		t.Fatalf("Render() error = %v, want ErrRenderFailed", err)
	}
	if !strings.Contains(job.Error, "timed out") {
		t.Errorf("error = %q, want a timeout message", job.Error)
	}
}

func TestService_Submit_Preconditions(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()

	if _, err := env.svc.Submit(ctx, Request{Options: command.DefaultOptions()}); !errors.Is(err, ErrMissingVideo) {
		t.Errorf("err = %v, want ErrMissingVideo", err)
	}

	req := videoRequest()
	req.Options.AudioMode = command.AudioExternal
	if _, err := env.svc.Submit(ctx, req); !errors.Is(err, ErrMissingAudio) {
		t.Errorf("err = %v, want ErrMissingAudio", err)
	}

	env.eng.SetLoaded(false)
	if _, err := env.svc.Submit(ctx, videoRequest()); !errors.Is(err, ErrEngineNotReady) {
		t.Errorf("err = %v, want ErrEngineNotReady", err)
	}

	jobs, err := env.svc.List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("precondition failures recorded %d renders, want 0", len(jobs))
	}
	if env.runner.IsBusy() {
		t.Error("precondition failure left the runner busy")
	}
}

func TestService_Submit_SingleInFlight(t *testing.T) {
	env := setupTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.runner.Start(ctx)

	release := make(chan struct{})
	started := make(chan struct{})
	env.eng.OnExec(func(ctx context.Context, e *enginetest.Memory, args []string, onProgress engine.ProgressFunc) (engine.Result, error) {
		onProgress(30)
		close(started)
		<-release
		e.WriteFile(command.OutputName, []byte("done"))
		return engine.Result{ExitCode: 0}, nil
	})

	first, err := env.svc.Submit(ctx, videoRequest())
	if err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	<-started

	if _, err := env.svc.Submit(ctx, videoRequest()); !errors.Is(err, ErrBusy) {
		t.Errorf("second Submit() err = %v, want ErrBusy", err)
	}

	active, ok := env.svc.Active()
	if !ok || active.RenderID != first.ID || active.Progress != 30 {
		t.Errorf("Active() = %+v, %v", active, ok)
	}

	close(release)
	job := waitForStatus(t, env.repo, first.ID)
	if job.Status != StatusCompleted {
		t.Errorf("status = %s, want completed (%s)", job.Status, job.Error)
	}

	deadline := time.Now().Add(time.Second)
	for env.runner.IsBusy() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	second, err := env.svc.Submit(ctx, videoRequest())
	if err != nil {
		t.Fatalf("Submit() after completion error = %v", err)
	}
	if job := waitForStatus(t, env.repo, second.ID); job.Status != StatusCompleted {
		t.Errorf("second render status = %s", job.Status)
	}
}

func TestService_Preview(t *testing.T) {
	env := setupTest(t)

	req := videoRequest()
	req.Options.Text = "Loop"
	plan, err := env.svc.Preview(req)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if plan.Inputs[0].Name != "video.mp4" {
		t.Errorf("input = %s, want video.mp4", plan.Inputs[0].Name)
	}
	if !strings.Contains(plan.Graph.String(), "drawtext=text='Loop'") {
		t.Errorf("graph = %s", plan.Graph.String())
	}
	if len(env.eng.Calls()) != 0 {
		t.Error("Preview() ran the engine")
	}
}

func TestService_GetNotFound(t *testing.T) {
	env := setupTest(t)
	if _, err := env.svc.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestService_LastOptions(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()

	if got := env.svc.LastOptions(ctx); got.DurationSeconds != command.DefaultDurationSeconds {
		t.Errorf("fresh LastOptions() duration = %d, want default", got.DurationSeconds)
	}

	req := videoRequest()
	req.Options.Text = "again"
	req.Options.Position = command.TopLeft
	if _, err := env.svc.Render(ctx, req, nil); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	got := env.svc.LastOptions(ctx)
	if got.Text != "again" || got.Position != command.TopLeft || got.DurationSeconds != 10 {
		t.Errorf("LastOptions() = %+v", got)
	}
	if got.Video.Name != "" {
		t.Errorf("LastOptions() kept input name %q", got.Video.Name)
	}
}
