package command

import "strconv"

// Fixed names and encoder settings.
const (
	OutputName = "output.mp4"

	VideoOutLabel Label = "vout"
	textOutLabel  Label = "v_txt"
	imageLabel    Label = "wm"
	overlayLabel  Label = "v_wm"

	videoCodec   = "libx264"
	videoPreset  = "medium"
	videoCRF     = "18"
	audioCodec   = "aac"
	audioBitrate = "192k"
	audioRate    = "48000"
	textColor    = "white"
)

// AudioSource is the outcome of the audio mapping decision.
type AudioSource int

const (
	AudioNone AudioSource = iota
	AudioFromExternal
	AudioFromOriginal
)

func (a AudioSource) String() string {
	switch a {
	case AudioFromExternal:
		return "external"
	case AudioFromOriginal:
		return "original"
	default:
		return "none"
	}
}

// InputSpec is one -i declaration with the flags that precede it.
type InputSpec struct {
	Flags []string
	Name  string
}

// AudioPlan describes how audio reaches the output.
type AudioPlan struct {
	Source  AudioSource
	Map     string
	Filters []Filter
}

// Plan is the structured form of a command, before it is flattened to strings.
type Plan struct {
	Inputs   []InputSpec
	Graph    FilterGraph
	VideoOut Label
	Audio    AudioPlan
	Duration int
	Output   string
}

// Describe computes the plan for opts. It never fails: callers validate
// preconditions such as a missing external audio file beforehand.
func Describe(opts Options) Plan {
	p := Plan{
		VideoOut: VideoOutLabel,
		Duration: opts.Duration(),
		Output:   OutputName,
	}

	p.Inputs = append(p.Inputs, InputSpec{Flags: []string{"-stream_loop", "-1"}, Name: opts.Video.Name})
	external := opts.AudioMode == AudioExternal
	if external {
		name := ""
		if opts.Audio != nil {
			name = opts.Audio.Name
		}
		p.Inputs = append(p.Inputs, InputSpec{Flags: []string{"-stream_loop", "-1"}, Name: name})
	}
	imageIndex := -1
	if opts.Image != nil {
		imageIndex = len(p.Inputs)
		p.Inputs = append(p.Inputs, InputSpec{Flags: []string{"-loop", "1"}, Name: opts.Image.Name})
	}

	current := Label("0:v")

	if opts.HasText() {
		x, y := opts.Position.Resolve(TextDims)
		args := []Arg{{Key: "text", Value: "'" + EscapeText(opts.Text) + "'"}}
		if opts.Font != nil {
			args = append(args, Arg{Key: "fontfile", Value: opts.Font.Name})
		}
		args = append(args,
			Arg{Key: "fontsize", Value: strconv.Itoa(opts.FontSize)},
			Arg{Key: "fontcolor", Value: textColor + "@" + formatNumber(Percent(opts.TextOpacity))},
			Arg{Key: "x", Value: x},
			Arg{Key: "y", Value: y},
		)
		p.Graph.add(Stage{
			Kind:    StageText,
			Inputs:  []Label{current},
			Filters: []Filter{{Name: "drawtext", Args: args}},
			Output:  textOutLabel,
		})
		current = textOutLabel
	}

	if imageIndex >= 0 {
		p.Graph.add(Stage{
			Kind:   StageImagePrep,
			Inputs: []Label{Label(strconv.Itoa(imageIndex) + ":v")},
			Filters: []Filter{
				{Name: "format", Args: []Arg{{Value: "rgba"}}},
				{Name: "scale", Args: []Arg{{Value: "iw*" + formatNumber(ScaleFactor(opts.ImageScale))}, {Value: "-1"}}},
				{Name: "colorchannelmixer", Args: []Arg{{Key: "aa", Value: formatNumber(Percent(opts.ImageOpacity))}}},
			},
			Output: imageLabel,
		})
		x, y := opts.Position.Resolve(OverlayDims)
		p.Graph.add(Stage{
			Kind:    StageOverlay,
			Inputs:  []Label{current, imageLabel},
			Filters: []Filter{{Name: "overlay", Args: []Arg{{Key: "x", Value: x}, {Key: "y", Value: y}}}},
			Output:  overlayLabel,
		})
		current = overlayLabel
	}

	p.Graph.add(Stage{
		Kind:    StagePixFormat,
		Inputs:  []Label{current},
		Filters: []Filter{{Name: "format", Args: []Arg{{Value: "yuv420p"}}}},
		Output:  VideoOutLabel,
	})

	switch {
	case external:
		p.Audio.Source = AudioFromExternal
		p.Audio.Map = "1:a"
		p.Audio.Filters = append([]Filter{{Name: "volume", Args: []Arg{{Value: formatNumber(Percent(opts.Volume))}}}}, fades(opts)...)
	case !opts.MuteOriginal:
		p.Audio.Source = AudioFromOriginal
		p.Audio.Map = "0:a"
		p.Audio.Filters = fades(opts)
	default:
		p.Audio.Source = AudioNone
	}

	return p
}

func fades(opts Options) []Filter {
	var out []Filter
	d := formatNumber(opts.FadeSeconds())
	if opts.FadeIn {
		out = append(out, Filter{Name: "afade", Args: []Arg{{Key: "t", Value: "in"}, {Key: "st", Value: "0"}, {Key: "d", Value: d}}})
	}
	if opts.FadeOut {
		out = append(out, Filter{Name: "afade", Args: []Arg{{Key: "t", Value: "out"}, {Key: "st", Value: formatNumber(opts.FadeOutStart())}, {Key: "d", Value: d}}})
	}
	return out
}

// Args flattens the plan into the ffmpeg argument list.
func (p Plan) Args() []string {
	args := []string{"-y"}
	for _, in := range p.Inputs {
		args = append(args, in.Flags...)
		args = append(args, "-i", in.Name)
	}

	args = append(args, "-filter_complex", p.Graph.String())
	args = append(args, "-map", p.VideoOut.String())

	if p.Audio.Source != AudioNone {
		if len(p.Audio.Filters) > 0 {
			args = append(args, "-filter:a", chain(p.Audio.Filters))
		}
		args = append(args, "-map", p.Audio.Map)
	} else {
		args = append(args, "-an")
	}

	args = append(args, "-t", strconv.Itoa(p.Duration))
	args = append(args, "-c:v", videoCodec, "-preset", videoPreset, "-crf", videoCRF)
	if p.Audio.Source != AudioNone {
		args = append(args, "-c:a", audioCodec, "-b:a", audioBitrate, "-ar", audioRate)
	}
	args = append(args, "-movflags", "+faststart", p.Output)
	return args
}

// Build returns the ffmpeg argument list for opts.
func Build(opts Options) []string {
	return Describe(opts).Args()
}
