package command

import "strings"

// Label names a stream inside the filter graph, e.g. "0:v" or "vout".
type Label string

func (l Label) String() string {
	return "[" + string(l) + "]"
}

// Arg is one filter argument. An empty Key renders the value positionally.
type Arg struct {
	Key   string
	Value string
}

// Filter is a single ffmpeg filter with its arguments.
type Filter struct {
	Name string
	Args []Arg
}

func (f Filter) String() string {
	if len(f.Args) == 0 {
		return f.Name
	}
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		if a.Key == "" {
			parts[i] = a.Value
		} else {
			parts[i] = a.Key + "=" + a.Value
		}
	}
	return f.Name + "=" + strings.Join(parts, ":")
}

// StageKind identifies what a stage is for.
type StageKind string

const (
	StageText      StageKind = "text"
	StageImagePrep StageKind = "image_prep"
	StageOverlay   StageKind = "overlay"
	StagePixFormat StageKind = "pix_format"
)

// Stage is one labelled step of the graph: inputs feed a comma-joined filter
// chain that produces Output.
type Stage struct {
	Kind    StageKind
	Inputs  []Label
	Filters []Filter
	Output  Label
}

func (s Stage) String() string {
	var b strings.Builder
	for _, in := range s.Inputs {
		b.WriteString(in.String())
	}
	b.WriteString(chain(s.Filters))
	if s.Output != "" {
		b.WriteString(s.Output.String())
	}
	return b.String()
}

// FilterGraph is an ordered, linear list of stages.
type FilterGraph struct {
	Stages []Stage
}

func (g *FilterGraph) add(s Stage) {
	g.Stages = append(g.Stages, s)
}

// Kinds returns the stage kinds in order.
func (g FilterGraph) Kinds() []StageKind {
	kinds := make([]StageKind, len(g.Stages))
	for i, s := range g.Stages {
		kinds[i] = s.Kind
	}
	return kinds
}

// String renders the graph with ';' between stages.
func (g FilterGraph) String() string {
	parts := make([]string, len(g.Stages))
	for i, s := range g.Stages {
		parts[i] = s.String()
	}
	return strings.Join(parts, ";")
}

func chain(filters []Filter) string {
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = f.String()
	}
	return strings.Join(parts, ",")
}
