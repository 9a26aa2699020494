package render

import (
	"path/filepath"
	"strings"

	"github.com/looperlab/looper/internal/command"
)

// Fixed base names for staged files.
const (
	VideoBase = "video"
	AudioBase = "audio"
	ImageBase = "wm"
	FontBase  = "font"
)

// Upload is one user-supplied file.
type Upload struct {
	Name string
	Data []byte
}

// Request is everything a render needs: the uploads and the form options.
// Input names inside Options are filled in by the service.
type Request struct {
	Video   *Upload
	Audio   *Upload
	Image   *Upload
	Font    *Upload
	Options command.Options
}

// StagedName returns base plus the lowercased extension of original
// ("audio.mp3"). Names without a usable extension stage as base alone.
func StagedName(base, original string) string {
	ext := strings.ToLower(filepath.Ext(original))
	if len(ext) < 2 {
		return base
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return base
		}
	}
	return base + ext
}

type stagedFile struct {
	name string
	data []byte
}

// prepare validates the request and returns the options with staged input
// names filled in, plus the files to write, in staging order.
func prepare(req Request) (command.Options, []stagedFile, error) {
	opts := req.Options
	if req.Video == nil || len(req.Video.Data) == 0 {
		return opts, nil, ErrMissingVideo
	}
	if opts.AudioMode == command.AudioExternal && (req.Audio == nil || len(req.Audio.Data) == 0) {
		return opts, nil, ErrMissingAudio
	}

	var files []stagedFile
	stage := func(base string, u *Upload) *command.Input {
		name := StagedName(base, u.Name)
		files = append(files, stagedFile{name: name, data: u.Data})
		return &command.Input{Name: name}
	}

	opts.Video = *stage(VideoBase, req.Video)
	opts.Audio = nil
	if opts.AudioMode == command.AudioExternal {
		opts.Audio = stage(AudioBase, req.Audio)
	}
	opts.Image = nil
	if req.Image != nil && len(req.Image.Data) > 0 {
		opts.Image = stage(ImageBase, req.Image)
	}
	opts.Font = nil
	if req.Font != nil && len(req.Font.Data) > 0 {
		opts.Font = stage(FontBase, req.Font)
	}
	return opts, files, nil
}
