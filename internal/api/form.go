package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/looperlab/looper/internal/command"
	"github.com/looperlab/looper/internal/render"
)

// Small parts stay in memory while parsing; file parts spill to disk.
const formMemory = 32 << 20

var errFormTooLarge = errors.New("upload too large")

// fieldError is a form value that could not be parsed.
type fieldError struct {
	field string
	value string
}

func (e *fieldError) Error() string {
	return fmt.Sprintf("invalid value %q for %s", e.value, e.field)
}

// parseRenderForm reads a multipart render form. Fields that are absent
// keep their defaults; for repeated fields the last value wins, so an HTML
// checkbox can follow a hidden "false" input.
func parseRenderForm(w http.ResponseWriter, r *http.Request, maxBytes int64) (render.Request, error) {
	var req render.Request
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, errFormTooLarge
		}
		return req, fmt.Errorf("invalid multipart form: %w", err)
	}
	defer r.MultipartForm.RemoveAll()

	form := r.MultipartForm
	opts := command.DefaultOptions()
	var err error

	if v, ok := last(form.Value, "audio_mode"); ok {
		opts.AudioMode = command.ParseAudioMode(v)
	}
	if v, ok := last(form.Value, "position"); ok {
		opts.Position = command.ParsePosition(v)
	}
	if v, ok := last(form.Value, "text"); ok {
		opts.Text = v
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"duration_s", &opts.DurationSeconds},
		{"volume", &opts.Volume},
		{"fade_ms", &opts.FadeMillis},
		{"font_size", &opts.FontSize},
		{"text_opacity", &opts.TextOpacity},
		{"image_opacity", &opts.ImageOpacity},
		{"image_scale", &opts.ImageScale},
	}
	for _, f := range ints {
		if err = formInt(form.Value, f.name, f.dst); err != nil {
			return req, err
		}
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"mute_original", &opts.MuteOriginal},
		{"fade_in", &opts.FadeIn},
		{"fade_out", &opts.FadeOut},
	}
	for _, f := range bools {
		if err = formBool(form.Value, f.name, f.dst); err != nil {
			return req, err
		}
	}
	req.Options = opts

	files := []struct {
		name string
		dst  **render.Upload
	}{
		{"video", &req.Video},
		{"audio", &req.Audio},
		{"image", &req.Image},
		{"font", &req.Font},
	}
	for _, f := range files {
		if *f.dst, err = readUpload(form.File, f.name); err != nil {
			return req, err
		}
	}
	return req, nil
}

func last(values map[string][]string, name string) (string, bool) {
	v := values[name]
	if len(v) == 0 {
		return "", false
	}
	return v[len(v)-1], true
}

func formInt(values map[string][]string, name string, dst *int) error {
	v, ok := last(values, name)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return &fieldError{field: name, value: v}
	}
	*dst = n
	return nil
}

func formBool(values map[string][]string, name string, dst *bool) error {
	v, ok := last(values, name)
	if !ok {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "1", "yes":
		*dst = true
	case "off", "false", "0", "no", "":
		*dst = false
	default:
		return &fieldError{field: name, value: v}
	}
	return nil
}

// readUpload returns nil when the field is absent or the file is empty.
func readUpload(files map[string][]*multipart.FileHeader, name string) (*render.Upload, error) {
	headers := files[name]
	if len(headers) == 0 || headers[0].Size == 0 {
		return nil, nil
	}
	fh := headers[0]
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s upload: %w", name, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s upload: %w", name, err)
	}
	return &render.Upload{Name: fh.Filename, Data: data}, nil
}
