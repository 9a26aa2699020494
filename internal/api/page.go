package api

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/looperlab/looper/internal/command"
)

//go:embed templates/index.html
var templatesFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templatesFS, "templates/index.html"))

type indexData struct {
	Options   command.Options
	Positions []command.Position
	External  bool
	MaxUpload string
	Version   string
}

func indexHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := cfg.Service.LastOptions(r.Context())
		data := indexData{
			Options:   opts,
			Positions: command.Positions(),
			External:  opts.AudioMode == command.AudioExternal,
			Version:   cfg.Version,
		}
		if cfg.MaxUploadBytes > 0 {
			data.MaxUpload = humanize.IBytes(uint64(cfg.MaxUploadBytes))
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := indexTemplate.Execute(w, data); err != nil {
			cfg.Logger.Error("failed to render index page", "error", err)
		}
	}
}
