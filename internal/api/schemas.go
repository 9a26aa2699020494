package api

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/looperlab/looper/internal/render"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State        string                `json:"state"`
	EngineLoaded bool                  `json:"engine_loaded"`
	LastError    string                `json:"last_error,omitempty"`
	Active       *render.Active        `json:"active,omitempty"`
	Engine       *EngineStatusResponse `json:"engine,omitempty"`
}

type EngineStatusResponse struct {
	Version     string   `json:"version"`
	Ready       bool     `json:"ready"`
	Missing     []string `json:"missing,omitempty"`
	LastProbeAt string   `json:"last_probe_at,omitempty"`
}

type SubmitResponse struct {
	RenderID  string `json:"render_id"`
	StatusURL string `json:"status_url"`
}

type PreviewResponse struct {
	Args        []string `json:"args"`
	FilterGraph string   `json:"filter_graph"`
	Stages      []string `json:"stages"`
	Audio       string   `json:"audio"`
}

type RenderResponse struct {
	ID         string   `json:"id"`
	Status     string   `json:"status"`
	Progress   int      `json:"progress"`
	Error      string   `json:"error,omitempty"`
	VideoName  string   `json:"video_name"`
	Args       []string `json:"args,omitempty"`
	OutputSize string   `json:"output_size,omitempty"`
	DurationMs int64    `json:"duration_ms,omitempty"`
	OutputURL  string   `json:"output_url,omitempty"`
	CreatedAt  string   `json:"created_at"`
	UpdatedAt  string   `json:"updated_at"`
}

type RenderListResponse struct {
	Renders []RenderResponse `json:"renders"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func RenderToResponse(j *render.Job) RenderResponse {
	resp := RenderResponse{
		ID:         j.ID,
		Status:     j.Status,
		Progress:   j.Progress,
		Error:      j.Error,
		VideoName:  j.VideoName,
		Args:       j.Args,
		DurationMs: j.DurationMs,
		CreatedAt:  j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  j.UpdatedAt.Format(time.RFC3339),
	}
	if j.Status == render.StatusCompleted && j.OutputPath != "" {
		resp.OutputSize = humanize.Bytes(uint64(j.OutputSize))
		resp.OutputURL = "/renders/" + j.ID + "/output"
	}
	return resp
}
