package command

import (
	"encoding/json"
	"strings"
)

// Position is a named watermark anchor.
type Position string

const (
	TopLeft     Position = "top-left"
	TopRight    Position = "top-right"
	Center      Position = "center"
	BottomLeft  Position = "bottom-left"
	BottomRight Position = "bottom-right"
)

// anchor holds x/y templates. W and H stand for the frame size, w and h for the
// size of the element being placed.
type anchor struct {
	x, y string
}

var anchors = map[Position]anchor{
	TopLeft:     {x: "20", y: "20"},
	TopRight:    {x: "(W-w-20)", y: "20"},
	Center:      {x: "(W-w)/2", y: "(H-h)/2"},
	BottomLeft:  {x: "20", y: "(H-h-20)"},
	BottomRight: {x: "(W-w-20)", y: "(H-h-20)"},
}

// Positions lists the anchors in form order.
func Positions() []Position {
	return []Position{TopLeft, TopRight, Center, BottomLeft, BottomRight}
}

// ParsePosition maps a name to a Position; unknown names become BottomRight.
func ParsePosition(s string) Position {
	p := Position(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := anchors[p]; ok {
		return p
	}
	return BottomRight
}

// Valid reports whether p is one of the enumerated anchors.
func (p Position) Valid() bool {
	_, ok := anchors[p]
	return ok
}

func (p *Position) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*p = ParsePosition(s)
	return nil
}

// Dimensions names the expression variables a filter exposes for the frame and
// for the element being placed.
type Dimensions struct {
	FrameW, FrameH string
	ElemW, ElemH   string
}

var (
	// OverlayDims are the variables of the overlay filter.
	OverlayDims = Dimensions{FrameW: "W", FrameH: "H", ElemW: "w", ElemH: "h"}
	// TextDims are the variables of the drawtext filter.
	TextDims = Dimensions{FrameW: "w", FrameH: "h", ElemW: "tw", ElemH: "th"}
)

// Resolve returns the x and y expressions for p with the placeholders
// substituted. Invalid positions resolve as BottomRight.
func (p Position) Resolve(d Dimensions) (x, y string) {
	a, ok := anchors[p]
	if !ok {
		a = anchors[BottomRight]
	}
	r := strings.NewReplacer("W", d.FrameW, "H", d.FrameH, "w", d.ElemW, "h", d.ElemH)
	return r.Replace(a.x), r.Replace(a.y)
}
