// Package command turns a render form into the ordered ffmpeg argument list.
// Everything in this package is pure: no I/O, no clocks, no globals that change.
package command

import (
	"strconv"
	"strings"
)

// AudioMode selects where the output audio comes from.
type AudioMode int

const (
	// AudioOriginal keeps the video's own audio track unless MuteOriginal is set.
	AudioOriginal AudioMode = iota
	// AudioExternal replaces the video audio with a separately uploaded file.
	AudioExternal
)

func (m AudioMode) String() string {
	if m == AudioExternal {
		return "external"
	}
	return "original"
}

// ParseAudioMode accepts "external"; anything else is AudioOriginal.
func ParseAudioMode(s string) AudioMode {
	if strings.EqualFold(strings.TrimSpace(s), "external") {
		return AudioExternal
	}
	return AudioOriginal
}

func (m AudioMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *AudioMode) UnmarshalText(text []byte) error {
	*m = ParseAudioMode(string(text))
	return nil
}

// Input is a file already staged in the engine filesystem.
type Input struct {
	Name string `json:"name"`
}

// Options is the complete form record for one render.
type Options struct {
	Video Input `json:"video"`

	AudioMode    AudioMode `json:"audio_mode"`
	MuteOriginal bool      `json:"mute_original"`
	Audio        *Input    `json:"audio,omitempty"`

	DurationSeconds int  `json:"duration_s"`
	Volume          int  `json:"volume"`
	FadeIn          bool `json:"fade_in"`
	FadeOut         bool `json:"fade_out"`
	FadeMillis      int  `json:"fade_ms"`

	Text        string `json:"text,omitempty"`
	FontSize    int    `json:"font_size"`
	TextOpacity int    `json:"text_opacity"`
	Font        *Input `json:"font,omitempty"`

	Image        *Input   `json:"image,omitempty"`
	ImageOpacity int      `json:"image_opacity"`
	ImageScale   int      `json:"image_scale"`
	Position     Position `json:"position"`
}

// Form defaults.
const (
	DefaultDurationSeconds = 3600
	DefaultVolume          = 80
	DefaultFadeMillis      = 500
	DefaultFontSize        = 36
	DefaultTextOpacity     = 50
	DefaultImageOpacity    = 40
	DefaultImageScale      = 100

	MinDurationSeconds = 1
	MinImageScale      = 10
)

// DefaultOptions returns the form's initial state. Video is left empty.
func DefaultOptions() Options {
	return Options{
		AudioMode:       AudioOriginal,
		MuteOriginal:    true,
		DurationSeconds: DefaultDurationSeconds,
		Volume:          DefaultVolume,
		FadeIn:          true,
		FadeOut:         true,
		FadeMillis:      DefaultFadeMillis,
		FontSize:        DefaultFontSize,
		TextOpacity:     DefaultTextOpacity,
		ImageOpacity:    DefaultImageOpacity,
		ImageScale:      DefaultImageScale,
		Position:        BottomRight,
	}
}

// Duration returns the target duration clamped to at least one second.
func (o Options) Duration() int {
	if o.DurationSeconds < MinDurationSeconds {
		return MinDurationSeconds
	}
	return o.DurationSeconds
}

// HasText reports whether a text watermark will be drawn.
func (o Options) HasText() bool {
	return strings.TrimSpace(o.Text) != ""
}

// FadeSeconds is the fade length in seconds.
func (o Options) FadeSeconds() float64 {
	return float64(o.FadeMillis) / 1000
}

// FadeOutStart is where the fade-out begins. It goes negative when the fade is
// longer than the target duration; callers decide what to do about that.
func (o Options) FadeOutStart() float64 {
	return float64(o.Duration()) - o.FadeSeconds()
}

// Percent clamps v into [0,100] and scales it to [0,1].
func Percent(v int) float64 {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return float64(v) / 100
}

// ScaleFactor converts an image scale percentage to a multiplier, never below 0.1.
func ScaleFactor(v int) float64 {
	if v < MinImageScale {
		v = MinImageScale
	}
	return float64(v) / 100
}

var textEscaper = strings.NewReplacer(`:`, `\:`, `"`, `\"`, `%`, `\%`, `'`, `'\''`)

// EscapeText backslash-escapes the filter-expression delimiters in watermark
// text. The result is meant to sit inside single quotes: a quote closes the
// quoted run, emits an escaped quote and reopens it, and % is escaped so
// drawtext does not start a %{...} expansion.
func EscapeText(s string) string {
	return textEscaper.Replace(s)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
