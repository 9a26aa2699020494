package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/looperlab/looper/internal/command"
	"github.com/looperlab/looper/internal/render"
)

// jobFile is a render described in YAML. Omitted settings keep the form
// defaults; relative paths resolve against the job file's directory.
type jobFile struct {
	Video string `yaml:"video"`

	Audio struct {
		Mode         string `yaml:"mode"`
		File         string `yaml:"file"`
		MuteOriginal *bool  `yaml:"mute_original"`
		Volume       *int   `yaml:"volume"`
		FadeIn       *bool  `yaml:"fade_in"`
		FadeOut      *bool  `yaml:"fade_out"`
		FadeMillis   *int   `yaml:"fade_ms"`
	} `yaml:"audio"`

	Duration *int `yaml:"duration"`

	Text struct {
		Value   string `yaml:"value"`
		Size    *int   `yaml:"size"`
		Opacity *int   `yaml:"opacity"`
		Font    string `yaml:"font"`
	} `yaml:"text"`

	Image struct {
		File    string `yaml:"file"`
		Opacity *int   `yaml:"opacity"`
		Scale   *int   `yaml:"scale"`
	} `yaml:"image"`

	Position string `yaml:"position"`

	dir string
}

func loadJob(path string) (*jobFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	var job jobFile
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parse job file %s: %w", path, err)
	}
	if strings.TrimSpace(job.Video) == "" {
		return nil, errors.New("job file: video is required")
	}
	job.dir = filepath.Dir(path)
	return &job, nil
}

// unknownPosition reports a position name that options will replace with
// bottom-right.
func (j *jobFile) unknownPosition() bool {
	return j.Position != "" && !command.Position(strings.ToLower(strings.TrimSpace(j.Position))).Valid()
}

// warn prints job file problems that do not stop a render.
func (j *jobFile) warn(w io.Writer) {
	if j.unknownPosition() {
		fmt.Fprintf(w, "warning: unknown position %q, using %s\n", j.Position, command.BottomRight)
	}
}

func (j *jobFile) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(j.dir, p)
}

// options applies the job's settings over the defaults. Inputs are left
// unset; they are filled in when files are staged.
func (j *jobFile) options() command.Options {
	opts := command.DefaultOptions()

	opts.AudioMode = command.ParseAudioMode(j.Audio.Mode)
	setBool(&opts.MuteOriginal, j.Audio.MuteOriginal)
	setInt(&opts.Volume, j.Audio.Volume)
	setBool(&opts.FadeIn, j.Audio.FadeIn)
	setBool(&opts.FadeOut, j.Audio.FadeOut)
	setInt(&opts.FadeMillis, j.Audio.FadeMillis)
	setInt(&opts.DurationSeconds, j.Duration)

	opts.Text = j.Text.Value
	setInt(&opts.FontSize, j.Text.Size)
	setInt(&opts.TextOpacity, j.Text.Opacity)

	setInt(&opts.ImageOpacity, j.Image.Opacity)
	setInt(&opts.ImageScale, j.Image.Scale)
	if j.Position != "" {
		opts.Position = command.ParsePosition(j.Position)
	}
	return opts
}

// stagedOptions names the inputs the way a render would stage them, without
// reading any file contents.
func (j *jobFile) stagedOptions() (command.Options, error) {
	opts := j.options()
	if err := checkFile(j.resolve(j.Video)); err != nil {
		return opts, err
	}
	opts.Video = command.Input{Name: render.StagedName(render.VideoBase, j.Video)}

	if opts.AudioMode == command.AudioExternal {
		if j.Audio.File == "" {
			return opts, render.ErrMissingAudio
		}
		if err := checkFile(j.resolve(j.Audio.File)); err != nil {
			return opts, err
		}
		opts.Audio = &command.Input{Name: render.StagedName(render.AudioBase, j.Audio.File)}
	}
	if j.Image.File != "" {
		if err := checkFile(j.resolve(j.Image.File)); err != nil {
			return opts, err
		}
		opts.Image = &command.Input{Name: render.StagedName(render.ImageBase, j.Image.File)}
	}
	if j.Text.Font != "" {
		if err := checkFile(j.resolve(j.Text.Font)); err != nil {
			return opts, err
		}
		opts.Font = &command.Input{Name: render.StagedName(render.FontBase, j.Text.Font)}
	}
	return opts, nil
}

// request reads every referenced file into a render request.
func (j *jobFile) request() (render.Request, error) {
	req := render.Request{Options: j.options()}

	var err error
	if req.Video, err = j.upload(j.Video); err != nil {
		return req, err
	}
	if req.Options.AudioMode == command.AudioExternal {
		if req.Audio, err = j.upload(j.Audio.File); err != nil {
			return req, err
		}
	}
	if req.Image, err = j.upload(j.Image.File); err != nil {
		return req, err
	}
	if req.Font, err = j.upload(j.Text.Font); err != nil {
		return req, err
	}
	return req, nil
}

func (j *jobFile) upload(p string) (*render.Upload, error) {
	if p == "" {
		return nil, nil
	}
	data, err := os.ReadFile(j.resolve(p))
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return &render.Upload{Name: filepath.Base(p), Data: data}, nil
}

func checkFile(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("input not found: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input %s is a directory", p)
	}
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
