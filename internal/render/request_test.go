package render

import (
	"errors"
	"testing"

	"github.com/looperlab/looper/internal/command"
)

func TestStagedName(t *testing.T) {
	tests := []struct {
		base, original, want string
	}{
		{"audio", "song.mp3", "audio.mp3"},
		{"audio", "My Song.final.WAV", "audio.wav"},
		{"wm", "logo.png", "wm.png"},
		{"font", "Inter-Bold.ttf", "font.ttf"},
		{"video", "clip", "video"},
		{"video", "clip.", "video"},
		{"video", "clip.m p4", "video"},
		{"video", "../../etc/passwd.mp4", "video.mp4"},
	}
	for _, tt := range tests {
		if got := StagedName(tt.base, tt.original); got != tt.want {
			t.Errorf("StagedName(%q, %q) = %q, want %q", tt.base, tt.original, got, tt.want)
		}
	}
}

func TestPrepare_Preconditions(t *testing.T) {
	opts := command.DefaultOptions()

	if _, _, err := prepare(Request{Options: opts}); !errors.Is(err, ErrMissingVideo) {
		t.Errorf("no video: err = %v, want ErrMissingVideo", err)
	}
	if _, _, err := prepare(Request{Video: &Upload{Name: "v.mp4"}, Options: opts}); !errors.Is(err, ErrMissingVideo) {
		t.Errorf("empty video: err = %v, want ErrMissingVideo", err)
	}

	opts.AudioMode = command.AudioExternal
	req := Request{Video: &Upload{Name: "v.mp4", Data: []byte("v")}, Options: opts}
	if _, _, err := prepare(req); !errors.Is(err, ErrMissingAudio) {
		t.Errorf("external without audio: err = %v, want ErrMissingAudio", err)
	}
}

func TestPrepare_StagesInOrder(t *testing.T) {
	opts := command.DefaultOptions()
	opts.AudioMode = command.AudioExternal
	req := Request{
		Video:   &Upload{Name: "loop.MOV", Data: []byte("v")},
		Audio:   &Upload{Name: "track.m4a", Data: []byte("a")},
		Image:   &Upload{Name: "logo.png", Data: []byte("i")},
		Font:    &Upload{Name: "bold.otf", Data: []byte("f")},
		Options: opts,
	}

	got, files, err := prepare(req)
	if err != nil {
		t.Fatalf("prepare() error = %v", err)
	}

	wantNames := []string{"video.mov", "audio.m4a", "wm.png", "font.otf"}
	if len(files) != len(wantNames) {
		t.Fatalf("staged %d files, want %d", len(files), len(wantNames))
	}
	for i, name := range wantNames {
		if files[i].name != name {
			t.Errorf("files[%d] = %s, want %s", i, files[i].name, name)
		}
	}
	if got.Video.Name != "video.mov" || got.Audio.Name != "audio.m4a" ||
		got.Image.Name != "wm.png" || got.Font.Name != "font.otf" {
		t.Errorf("unexpected input names: %+v", got)
	}
}

func TestPrepare_IgnoresAudioUnlessExternal(t *testing.T) {
	opts := command.DefaultOptions()
	req := Request{
		Video:   &Upload{Name: "v.mp4", Data: []byte("v")},
		Audio:   &Upload{Name: "a.mp3", Data: []byte("a")},
		Options: opts,
	}

	got, files, err := prepare(req)
	if err != nil {
		t.Fatalf("prepare() error = %v", err)
	}
	if got.Audio != nil {
		t.Errorf("Audio = %+v, want nil in original mode", got.Audio)
	}
	if len(files) != 1 {
		t.Errorf("staged %d files, want 1", len(files))
	}
}
