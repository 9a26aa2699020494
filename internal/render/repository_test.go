package render

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/looperlab/looper/internal/db"
)

func setupTestDB(t *testing.T) *SQLiteRepository {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewRepository(database.Conn())
}

func TestRepository_RenderLifecycle(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	now := time.Now()
	job := &Job{ID: NewID(), Status: StatusPending, Settings: `{"duration_s":5}`, VideoName: "loop.mp4", CreatedAt: now, UpdatedAt: now}
	if err := repo.CreateRender(ctx, job); err != nil {
		t.Fatalf("CreateRender() error = %v", err)
	}

	if err := repo.UpdateRenderStatus(ctx, job.ID, StatusRunning, ""); err != nil {
		t.Fatalf("UpdateRenderStatus() error = %v", err)
	}
	if err := repo.UpdateRenderProgress(ctx, job.ID, 42); err != nil {
		t.Fatalf("UpdateRenderProgress() error = %v", err)
	}
	if err := repo.SetRenderArgs(ctx, job.ID, []string{"-y", "output.mp4"}); err != nil {
		t.Fatalf("SetRenderArgs() error = %v", err)
	}

	got, err := repo.GetRender(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetRender() error = %v", err)
	}
	if got.Status != StatusRunning || got.Progress != 42 {
		t.Errorf("got (%s, %d), want (running, 42)", got.Status, got.Progress)
	}
	if len(got.Args) != 2 || got.Args[1] != "output.mp4" {
		t.Errorf("args = %v", got.Args)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("updated_at did not parse")
	}

	if err := repo.CompleteRender(ctx, job.ID, "/tmp/out.mp4", 2048, 1500*time.Millisecond); err != nil {
		t.Fatalf("CompleteRender() error = %v", err)
	}
	got, _ = repo.GetRender(ctx, job.ID)
	if got.Status != StatusCompleted || got.Progress != 100 || got.OutputSize != 2048 || got.DurationMs != 1500 {
		t.Errorf("completed render = %+v", got)
	}
	if got.OutputPath != "/tmp/out.mp4" {
		t.Errorf("output path = %s", got.OutputPath)
	}
}

func TestRepository_GetMissing(t *testing.T) {
	repo := setupTestDB(t)
	got, err := repo.GetRender(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetRender() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetRender() = %+v, want nil", got)
	}
}

func TestRepository_ListNewestFirst(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		ts := base.Add(time.Duration(i) * time.Minute)
		if err := repo.CreateRender(ctx, &Job{ID: id, Status: StatusCompleted, Settings: "{}", VideoName: "v.mp4", CreatedAt: ts, UpdatedAt: ts}); err != nil {
			t.Fatalf("CreateRender() error = %v", err)
		}
	}

	jobs, err := repo.ListRenders(ctx, 2)
	if err != nil {
		t.Fatalf("ListRenders() error = %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "c" || jobs[1].ID != "b" {
		t.Errorf("ListRenders() ids = %v", ids(jobs))
	}
}

func ids(jobs []*Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func TestRepository_Config(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	val, err := repo.GetConfig(ctx, "last_position")
	if err != nil || val != "" {
		t.Fatalf("GetConfig() = %q, %v", val, err)
	}
	repo.SetConfig(ctx, "last_position", "center")
	repo.SetConfig(ctx, "last_position", "top-left")
	val, _ = repo.GetConfig(ctx, "last_position")
	if val != "top-left" {
		t.Errorf("GetConfig() = %q, want top-left", val)
	}
}
