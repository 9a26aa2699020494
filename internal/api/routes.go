package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/looperlab/looper/internal/render"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(LoopbackGuard())

	r.Get("/", indexHandler(cfg))
	r.Get("/health", healthHandler(cfg))
	r.Get("/status", statusHandler(cfg))

	r.Route("/renders", func(r chi.Router) {
		r.Get("/", listRendersHandler(cfg))
		r.Post("/", submitRenderHandler(cfg))
		r.Post("/preview", previewRenderHandler(cfg))
		r.Get("/{id}", getRenderHandler(cfg))
		r.Get("/{id}/output", renderOutputHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		resp := StatusResponse{State: "idle"}
		if cfg.Engine != nil {
			resp.EngineLoaded = cfg.Engine.Loaded()
		}

		if active, ok := cfg.Service.Active(); ok {
			resp.State = "rendering"
			resp.Active = &active
		}

		if renders, err := cfg.Service.List(ctx, 1); err == nil && len(renders) > 0 {
			if renders[0].Status == render.StatusFailed {
				resp.LastError = renders[0].Error
			}
		}

		if cfg.Probe != nil {
			caps, err := cfg.Probe.Get(ctx)
			if err == nil && caps != nil {
				resp.Engine = &EngineStatusResponse{
					Version: caps.Version,
					Ready:   caps.Ready(),
					Missing: caps.Missing,
				}
				if !caps.ProbedAt.IsZero() {
					resp.Engine.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func submitRenderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeRenderForm(w, r, cfg)
		if !ok {
			return
		}

		job, err := cfg.Service.Submit(r.Context(), req)
		if err != nil {
			writeRenderError(w, cfg, err)
			return
		}

		WriteJSON(w, http.StatusAccepted, SubmitResponse{
			RenderID:  job.ID,
			StatusURL: "/renders/" + job.ID,
		})
	}
}

func previewRenderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeRenderForm(w, r, cfg)
		if !ok {
			return
		}

		plan, err := cfg.Service.Preview(req)
		if err != nil {
			writeRenderError(w, cfg, err)
			return
		}

		stages := make([]string, 0, len(plan.Graph.Stages))
		for _, kind := range plan.Graph.Kinds() {
			stages = append(stages, string(kind))
		}
		WriteJSON(w, http.StatusOK, PreviewResponse{
			Args:        plan.Args(),
			FilterGraph: plan.Graph.String(),
			Stages:      stages,
			Audio:       plan.Audio.Source.String(),
		})
	}
}

func listRendersHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if l := r.URL.Query().Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = n
		}

		renders, err := cfg.Service.List(r.Context(), limit)
		if err != nil {
			cfg.Logger.Error("failed to list renders", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to list renders", "INTERNAL_ERROR")
			return
		}

		resp := RenderListResponse{Renders: make([]RenderResponse, 0, len(renders))}
		for _, j := range renders {
			resp.Renders = append(resp.Renders, RenderToResponse(j))
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getRenderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Service.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeRenderError(w, cfg, err)
			return
		}
		WriteJSON(w, http.StatusOK, RenderToResponse(job))
	}
}

// renderOutputHandler streams a finished render. Range requests are handled
// by http.ServeContent.
func renderOutputHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Service.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeRenderError(w, cfg, err)
			return
		}
		if job.Status != render.StatusCompleted {
			WriteError(w, http.StatusConflict, "render has no output", "NOT_READY")
			return
		}
		if job.OutputPath == "" {
			WriteError(w, http.StatusGone, "output has expired", "EXPIRED")
			return
		}

		f, err := os.Open(job.OutputPath)
		if err != nil {
			cfg.Logger.Warn("render output unavailable", "render_id", job.ID, "error", err)
			WriteError(w, http.StatusNotFound, "output file is gone", "NOT_FOUND")
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "cannot stat output", "INTERNAL_ERROR")
			return
		}

		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Disposition", `attachment; filename="`+downloadName(job)+`"`)
		http.ServeContent(w, r, downloadName(job), info.ModTime(), f)
	}
}

func downloadName(job *render.Job) string {
	id := job.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "looper-" + id + ".mp4"
}

func decodeRenderForm(w http.ResponseWriter, r *http.Request, cfg ServerConfig) (render.Request, bool) {
	req, err := parseRenderForm(w, r, cfg.MaxUploadBytes)
	if err == nil {
		return req, true
	}

	var fe *fieldError
	switch {
	case errors.Is(err, errFormTooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge, "upload exceeds the configured limit", "TOO_LARGE")
	case errors.As(err, &fe):
		WriteError(w, http.StatusBadRequest, fe.Error(), "BAD_REQUEST")
	default:
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	}
	return req, false
}

func writeRenderError(w http.ResponseWriter, cfg ServerConfig, err error) {
	switch {
	case errors.Is(err, render.ErrMissingVideo), errors.Is(err, render.ErrMissingAudio):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	case errors.Is(err, render.ErrBusy):
		WriteError(w, http.StatusConflict, err.Error(), "BUSY")
	case errors.Is(err, render.ErrEngineNotReady):
		WriteError(w, http.StatusServiceUnavailable, err.Error(), "ENGINE_NOT_READY")
	case errors.Is(err, render.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	default:
		cfg.Logger.Error("render request failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal error", "INTERNAL_ERROR")
	}
}
