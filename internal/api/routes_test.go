package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/looperlab/looper/internal/db"
	"github.com/looperlab/looper/internal/engine"
	"github.com/looperlab/looper/internal/engine/enginetest"
	"github.com/looperlab/looper/internal/render"
)

type testServer struct {
	router *chi.Mux
	eng    *enginetest.Memory
	runner *render.Runner
	repo   *render.SQLiteRepository
}

func newTestServer(t *testing.T, probe *engine.CachedProbe) *testServer {
	t.Helper()

	tmpDir := t.TempDir()
	database, err := db.New(filepath.Join(tmpDir, "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := render.NewRepository(database.Conn())
	eng := enginetest.NewMemory()
	runner := render.NewRunner(repo, eng, render.RunnerConfig{OutputDir: filepath.Join(tmpDir, "renders")}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go runner.Start(ctx)

	cfg := ServerConfig{
		Service:        render.NewService(repo, eng, runner, logger),
		Engine:         eng,
		Probe:          probe,
		MaxUploadBytes: 1 << 20,
		Logger:         logger,
		StartTime:      time.Now(),
		Version:        "test",
	}
	return &testServer{router: NewRouter(cfg), eng: eng, runner: runner, repo: repo}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	req.RemoteAddr = "127.0.0.1:40000"
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

type formFile struct {
	field, name, data string
}

func multipartRequest(t *testing.T, path string, values map[string]string, files ...formFile) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range values {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatal(err)
		}
		io.WriteString(fw, f.data)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}

	return body
}

func waitForRender(t *testing.T, s *testServer, id string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rr := s.do(t, httptest.NewRequest(http.MethodGet, "/renders/"+id, nil))
		body := decodeJSONBody(t, rr)
		if st := body["status"]; st == render.StatusCompleted || st == render.StatusFailed {
			return body
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("render %s did not finish", id)
	return nil
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t, nil)
	rr := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestStatusHandler_NilProbe(t *testing.T) {
	s := newTestServer(t, nil)
	rr := s.do(t, httptest.NewRequest(http.MethodGet, "/status", nil))

	body := decodeJSONBody(t, rr)
	if body["state"] != "idle" {
		t.Errorf("state = %v, want idle", body["state"])
	}
	if body["engine_loaded"] != true {
		t.Errorf("engine_loaded = %v", body["engine_loaded"])
	}
	if _, ok := body["engine"]; ok {
		t.Error("engine should be omitted without a probe")
	}
}

type staticProber struct {
	caps *engine.Capabilities
}

func (p staticProber) Probe(ctx context.Context) (*engine.Capabilities, error) {
	c := *p.caps
	c.ProbedAt = time.Now()
	return &c, nil
}

func TestStatusHandler_WithProbe(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	probe := engine.NewCachedProbe(staticProber{caps: &engine.Capabilities{
		Version: "ffmpeg version 6.1",
		Missing: []string{"filter:drawtext"},
	}}, logger)
	s := newTestServer(t, probe)

	body := decodeJSONBody(t, s.do(t, httptest.NewRequest(http.MethodGet, "/status", nil)))
	eng, ok := body["engine"].(map[string]interface{})
	if !ok {
		t.Fatalf("engine missing: %v", body)
	}
	if eng["version"] != "ffmpeg version 6.1" || eng["ready"] != false {
		t.Errorf("engine = %v", eng)
	}
	if eng["last_probe_at"] == "" {
		t.Error("last_probe_at missing")
	}
}

func TestSubmitRender_Completes(t *testing.T) {
	s := newTestServer(t, nil)

	req := multipartRequest(t, "/renders",
		map[string]string{"duration_s": "30", "text": "hello", "position": "top-left"},
		formFile{"video", "clip.mp4", "video-data"},
	)
	rr := s.do(t, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status code = %d, want 202: %s", rr.Code, rr.Body.String())
	}
	body := decodeJSONBody(t, rr)
	id, _ := body["render_id"].(string)
	if id == "" || body["status_url"] != "/renders/"+id {
		t.Fatalf("body = %v", body)
	}

	done := waitForRender(t, s, id)
	if done["status"] != render.StatusCompleted {
		t.Fatalf("render = %v", done)
	}
	if done["output_url"] != "/renders/"+id+"/output" {
		t.Errorf("output_url = %v", done["output_url"])
	}

	out := s.do(t, httptest.NewRequest(http.MethodGet, "/renders/"+id+"/output", nil))
	if out.Code != http.StatusOK || out.Body.String() != "rendered" {
		t.Fatalf("output = %d %q", out.Code, out.Body.String())
	}
	if !strings.Contains(out.Header().Get("Content-Disposition"), "looper-") {
		t.Errorf("Content-Disposition = %q", out.Header().Get("Content-Disposition"))
	}

	ranged := httptest.NewRequest(http.MethodGet, "/renders/"+id+"/output", nil)
	ranged.Header.Set("Range", "bytes=0-3")
	partial := s.do(t, ranged)
	if partial.Code != http.StatusPartialContent || partial.Body.String() != "rend" {
		t.Errorf("range response = %d %q", partial.Code, partial.Body.String())
	}

	calls := s.eng.Calls()
	if len(calls) != 1 {
		t.Fatalf("engine calls = %d", len(calls))
	}
	joined := strings.Join(calls[0], " ")
	if !strings.Contains(joined, "drawtext=text='hello'") || !strings.Contains(joined, "-t 30") {
		t.Errorf("args = %s", joined)
	}
}

func TestSubmitRender_Preconditions(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.do(t, multipartRequest(t, "/renders", map[string]string{"duration_s": "5"}))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing video: status = %d, want 400", rr.Code)
	}

	rr = s.do(t, multipartRequest(t, "/renders",
		map[string]string{"audio_mode": "external"},
		formFile{"video", "clip.mp4", "v"},
	))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing audio: status = %d, want 400", rr.Code)
	}

	rr = s.do(t, multipartRequest(t, "/renders",
		map[string]string{"volume": "loud"},
		formFile{"video", "clip.mp4", "v"},
	))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad number: status = %d, want 400", rr.Code)
	}

	s.eng.SetLoaded(false)
	rr = s.do(t, multipartRequest(t, "/renders", nil, formFile{"video", "clip.mp4", "v"}))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("engine not loaded: status = %d, want 503", rr.Code)
	}
}

func TestSubmitRender_TooLarge(t *testing.T) {
	s := newTestServer(t, nil)
	big := strings.Repeat("x", 2<<20)
	rr := s.do(t, multipartRequest(t, "/renders", nil, formFile{"video", "clip.mp4", big}))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rr.Code)
	}
}

func TestSubmitRender_Busy(t *testing.T) {
	s := newTestServer(t, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	s.eng.OnExec(func(ctx context.Context, e *enginetest.Memory, args []string, onProgress engine.ProgressFunc) (engine.Result, error) {
		close(started)
		<-release
		return engine.Result{ExitCode: 1}, nil
	})

	rr := s.do(t, multipartRequest(t, "/renders", nil, formFile{"video", "clip.mp4", "v"}))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("first submit = %d", rr.Code)
	}
	id := decodeJSONBody(t, rr)["render_id"].(string)
	<-started

	status := decodeJSONBody(t, s.do(t, httptest.NewRequest(http.MethodGet, "/status", nil)))
	if status["state"] != "rendering" {
		t.Errorf("state = %v, want rendering", status["state"])
	}

	rr = s.do(t, multipartRequest(t, "/renders", nil, formFile{"video", "clip.mp4", "v"}))
	if rr.Code != http.StatusConflict {
		t.Errorf("second submit = %d, want 409", rr.Code)
	}

	close(release)
	done := waitForRender(t, s, id)
	if done["error"] != render.FailureMessage {
		t.Errorf("error = %v", done["error"])
	}

	out := s.do(t, httptest.NewRequest(http.MethodGet, "/renders/"+id+"/output", nil))
	if out.Code != http.StatusConflict {
		t.Errorf("output of failed render = %d, want 409", out.Code)
	}
}

func TestPreviewRender(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.do(t, multipartRequest(t, "/renders/preview",
		map[string]string{"audio_mode": "external", "fade_in": "false", "fade_out": "false", "volume": "50"},
		formFile{"video", "clip.mov", "v"},
		formFile{"audio", "song.mp3", "a"},
		formFile{"image", "logo.png", "i"},
	))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	var resp PreviewResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Audio != "external" {
		t.Errorf("audio = %s", resp.Audio)
	}
	joined := strings.Join(resp.Args, " ")
	for _, want := range []string{"-i video.mov", "-i audio.mp3", "-loop 1 -i wm.png", "-filter:a volume=0.5 -map 1:a"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
	if !strings.Contains(resp.FilterGraph, "[2:v]format=rgba") {
		t.Errorf("filter graph = %s", resp.FilterGraph)
	}
	if len(resp.Stages) != 3 || resp.Stages[0] != "image_prep" {
		t.Errorf("stages = %v", resp.Stages)
	}
	if len(s.eng.Calls()) != 0 {
		t.Error("preview ran the engine")
	}
}

func TestListAndGetRenders(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.do(t, httptest.NewRequest(http.MethodGet, "/renders", nil))
	body := decodeJSONBody(t, rr)
	if list, ok := body["renders"].([]interface{}); !ok || len(list) != 0 {
		t.Errorf("renders = %v, want empty list", body["renders"])
	}

	if rr := s.do(t, httptest.NewRequest(http.MethodGet, "/renders?limit=zero", nil)); rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rr.Code)
	}
	if rr := s.do(t, httptest.NewRequest(http.MethodGet, "/renders/missing", nil)); rr.Code != http.StatusNotFound {
		t.Errorf("missing render status = %d", rr.Code)
	}
}

func TestIndexPage(t *testing.T) {
	s := newTestServer(t, nil)
	rr := s.do(t, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	page := rr.Body.String()
	for _, want := range []string{`name="video"`, `value="bottom-right" selected`, `name="duration_s" min="1" value="3600"`, "Uploads up to 1.0 MiB"} {
		if !strings.Contains(page, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestRouter_RejectsRemoteClients(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for %s", rr.Code, req.RemoteAddr)
	}
}

func TestRenderOutput_Expired(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.do(t, multipartRequest(t, "/renders", nil, formFile{"video", "clip.mp4", "v"}))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status code = %d: %s", rr.Code, rr.Body.String())
	}
	id, _ := decodeJSONBody(t, rr)["render_id"].(string)
	if done := waitForRender(t, s, id); done["status"] != render.StatusCompleted {
		t.Fatalf("render = %v", done)
	}

	if err := s.repo.ClearOutput(context.Background(), id); err != nil {
		t.Fatalf("ClearOutput() error = %v", err)
	}

	out := s.do(t, httptest.NewRequest(http.MethodGet, "/renders/"+id+"/output", nil))
	if out.Code != http.StatusGone {
		t.Fatalf("status code = %d, want %d", out.Code, http.StatusGone)
	}
	if body := decodeJSONBody(t, out); body["code"] != "EXPIRED" {
		t.Errorf("body = %v", body)
	}
}

func TestRenderOutput_UnknownRender(t *testing.T) {
	s := newTestServer(t, nil)
	rr := s.do(t, httptest.NewRequest(http.MethodGet, "/renders/nope/output", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want %d", rr.Code, http.StatusNotFound)
	}
}
