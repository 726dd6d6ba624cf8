package imaging

import (
	"encoding/json"
	"fmt"
	"image/color"
	"sort"
)

// Annotation kind tags as they appear on the wire.
const (
	KindRectangle = "rectangle"
	KindCircle    = "circle"
	KindArrow     = "arrow"
	KindLine      = "line"
	KindText      = "text"
)

// Annotation is one drawable layer. Layers composite in ascending ZIndex
// order; ties keep insertion order.
type Annotation interface {
	Kind() string
	Z() int
}

// Color is an RGBA color that marshals as a "#rrggbb" or "#rrggbbaa" hex
// string on the wire.
type Color color.RGBA

// RGBA returns the underlying color value, defaulting alpha to opaque
// when unset.
func (c Color) RGBA() color.RGBA {
	out := color.RGBA(c)
	if out.A == 0 {
		out.A = 0xff
	}
	return out
}

func (c Color) MarshalJSON() ([]byte, error) {
	v := c.RGBA()
	if v.A != 0xff {
		return json.Marshal(fmt.Sprintf("#%02x%02x%02x%02x", v.R, v.G, v.B, v.A))
	}
	return json.Marshal(fmt.Sprintf("#%02x%02x%02x", v.R, v.G, v.B))
}

func (c *Color) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseColor(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseColor parses "#rgb", "#rrggbb" or "#rrggbbaa" hex notation.
func ParseColor(s string) (Color, error) {
	if len(s) == 0 || s[0] != '#' {
		return Color{}, fmt.Errorf("invalid color %q", s)
	}
	hex := s[1:]
	nib := func(b byte) (uint8, bool) {
		switch {
		case b >= '0' && b <= '9':
			return b - '0', true
		case b >= 'a' && b <= 'f':
			return b - 'a' + 10, true
		case b >= 'A' && b <= 'F':
			return b - 'A' + 10, true
		}
		return 0, false
	}
	byteAt := func(i int) (uint8, bool) {
		hi, ok1 := nib(hex[i])
		lo, ok2 := nib(hex[i+1])
		return hi<<4 | lo, ok1 && ok2
	}

	switch len(hex) {
	case 3:
		var out [3]uint8
		for i := 0; i < 3; i++ {
			v, ok := nib(hex[i])
			if !ok {
				return Color{}, fmt.Errorf("invalid color %q", s)
			}
			out[i] = v<<4 | v
		}
		return Color{R: out[0], G: out[1], B: out[2], A: 0xff}, nil
	case 6, 8:
		var out [4]uint8
		out[3] = 0xff
		for i := 0; i*2 < len(hex); i++ {
			v, ok := byteAt(i * 2)
			if !ok {
				return Color{}, fmt.Errorf("invalid color %q", s)
			}
			out[i] = v
		}
		return Color{R: out[0], G: out[1], B: out[2], A: out[3]}, nil
	}
	return Color{}, fmt.Errorf("invalid color %q", s)
}

// BackgroundStyle is the optional filled backdrop behind a text layer.
type BackgroundStyle struct {
	Color          Color `json:"color"`
	OpacityPercent int   `json:"opacityPercent"`
	CornerRadius   int   `json:"cornerRadius"`
	PaddingPx      int   `json:"paddingPx"`
}

// Rectangle strokes an axis-aligned rectangle outline.
type Rectangle struct {
	X           int   `json:"x"`
	Y           int   `json:"y"`
	W           int   `json:"width"`
	H           int   `json:"height"`
	StrokeColor Color `json:"strokeColor"`
	StrokeWidth int   `json:"strokeWidth"`
	ZIndex      int   `json:"zIndex"`
}

func (Rectangle) Kind() string { return KindRectangle }
func (a Rectangle) Z() int     { return a.ZIndex }

// Circle strokes a circle outline.
type Circle struct {
	CenterX     int   `json:"centerX"`
	CenterY     int   `json:"centerY"`
	Radius      int   `json:"radius"`
	StrokeColor Color `json:"strokeColor"`
	StrokeWidth int   `json:"strokeWidth"`
	ZIndex      int   `json:"zIndex"`
}

func (Circle) Kind() string { return KindCircle }
func (a Circle) Z() int     { return a.ZIndex }

// Arrow strokes a line with a two-ray head at the end point.
type Arrow struct {
	StartX      int   `json:"startX"`
	StartY      int   `json:"startY"`
	EndX        int   `json:"endX"`
	EndY        int   `json:"endY"`
	StrokeColor Color `json:"strokeColor"`
	StrokeWidth int   `json:"strokeWidth"`
	HeadSize    int   `json:"headSize"`
	ZIndex      int   `json:"zIndex"`
}

func (Arrow) Kind() string { return KindArrow }
func (a Arrow) Z() int     { return a.ZIndex }

// Line strokes a straight segment.
type Line struct {
	StartX      int   `json:"startX"`
	StartY      int   `json:"startY"`
	EndX        int   `json:"endX"`
	EndY        int   `json:"endY"`
	StrokeColor Color `json:"strokeColor"`
	StrokeWidth int   `json:"strokeWidth"`
	ZIndex      int   `json:"zIndex"`
}

func (Line) Kind() string { return KindLine }
func (a Line) Z() int     { return a.ZIndex }

// Text draws a text run with optional styling and backdrop. X/Y is the
// top-left corner of the text box.
type Text struct {
	X          int              `json:"x"`
	Y          int              `json:"y"`
	Text       string           `json:"text"`
	FontFamily string           `json:"fontFamily"`
	FontSize   float64          `json:"fontSize"`
	Color      Color            `json:"color"`
	Bold       bool             `json:"bold"`
	Italic     bool             `json:"italic"`
	Underline  bool             `json:"underline"`
	Background *BackgroundStyle `json:"background,omitempty"`
	ZIndex     int              `json:"zIndex"`
}

func (Text) Kind() string { return KindText }
func (a Text) Z() int     { return a.ZIndex }

// List is an ordered annotation collection with tagged-union JSON
// encoding: each element carries a "type" field naming its kind.
type List []Annotation

func (l *List) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(List, 0, len(raws))
	for _, raw := range raws {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return err
		}
		var (
			a   Annotation
			err error
		)
		switch head.Type {
		case KindRectangle:
			var v Rectangle
			err = json.Unmarshal(raw, &v)
			a = v
		case KindCircle:
			var v Circle
			err = json.Unmarshal(raw, &v)
			a = v
		case KindArrow:
			var v Arrow
			err = json.Unmarshal(raw, &v)
			a = v
		case KindLine:
			var v Line
			err = json.Unmarshal(raw, &v)
			a = v
		case KindText:
			var v Text
			err = json.Unmarshal(raw, &v)
			a = v
		default:
			return fmt.Errorf("unknown annotation type %q", head.Type)
		}
		if err != nil {
			return err
		}
		out = append(out, a)
	}
	*l = out
	return nil
}

func (l List) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(l))
	for _, a := range l {
		fields, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal(fields, &m); err != nil {
			return nil, err
		}
		m["type"] = a.Kind()
		tagged, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		out = append(out, tagged)
	}
	return json.Marshal(out)
}

// sortedByZ returns the list in composite order: ascending ZIndex, ties
// keeping insertion order.
func sortedByZ(l List) List {
	out := make(List, len(l))
	copy(out, l)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Z() < out[j].Z() })
	return out
}
