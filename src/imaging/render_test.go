package imaging

import (
	"encoding/json"
	"image/color"
	"testing"
)

var (
	red  = Color{R: 255, A: 255}
	blue = Color{B: 255, A: 255}
)

func TestRenderAnnotationsLeavesSourceIntact(t *testing.T) {
	src := solidFrame(40, 40, color.RGBA{R: 9, G: 9, B: 9, A: 255})
	out := RenderAnnotations(src, List{
		Rectangle{X: 5, Y: 5, W: 20, H: 20, StrokeColor: red, StrokeWidth: 2},
	})
	if out == src {
		t.Fatal("RenderAnnotations returned the input bitmap")
	}
	if got := src.RGBAAt(5, 5); got.R != 9 {
		t.Errorf("source mutated: %+v", got)
	}
	if got := out.RGBAAt(5, 5); got.R != 255 {
		t.Errorf("rectangle corner not stroked: %+v", got)
	}
}

func TestRenderAnnotationsOrdersByZIndex(t *testing.T) {
	src := solidFrame(40, 40, color.RGBA{A: 255})
	// Two overlapping rectangles declared out of order; the higher zIndex
	// must paint last and win the overlap.
	out := RenderAnnotations(src, List{
		Rectangle{X: 10, Y: 10, W: 20, H: 20, StrokeColor: red, StrokeWidth: 3, ZIndex: 5},
		Rectangle{X: 10, Y: 10, W: 20, H: 20, StrokeColor: blue, StrokeWidth: 3, ZIndex: 1},
	})
	if got := out.RGBAAt(10, 10); got.R != 255 || got.B != 0 {
		t.Errorf("overlap pixel = %+v, want higher zIndex (red) on top", got)
	}
}

func TestRenderAnnotationsStableForEqualZIndex(t *testing.T) {
	src := solidFrame(40, 40, color.RGBA{A: 255})
	// Equal zIndex keeps declaration order: the later blue wins.
	out := RenderAnnotations(src, List{
		Rectangle{X: 10, Y: 10, W: 20, H: 20, StrokeColor: red, StrokeWidth: 3, ZIndex: 2},
		Rectangle{X: 10, Y: 10, W: 20, H: 20, StrokeColor: blue, StrokeWidth: 3, ZIndex: 2},
	})
	if got := out.RGBAAt(10, 10); got.B != 255 {
		t.Errorf("overlap pixel = %+v, want later annotation (blue) on top", got)
	}
}

func TestRenderArrowPaintsHead(t *testing.T) {
	src := solidFrame(60, 60, color.RGBA{A: 255})
	out := RenderAnnotations(src, List{
		Arrow{StartX: 5, StartY: 30, EndX: 50, EndY: 30, StrokeColor: red, StrokeWidth: 1, HeadSize: 10},
	})
	if got := out.RGBAAt(30, 30); got.R != 255 {
		t.Errorf("shaft pixel = %+v", got)
	}
	// Head rays sweep back from the tip at 30 degrees; a few pixels back
	// and above the shaft must be painted.
	found := false
	for y := 22; y < 30; y++ {
		for x := 40; x < 50; x++ {
			if out.RGBAAt(x, y).R == 255 {
				found = true
			}
		}
	}
	if !found {
		t.Error("no head ray pixels above the shaft")
	}
}

func TestRenderCircleStrokesRing(t *testing.T) {
	src := solidFrame(60, 60, color.RGBA{A: 255})
	out := RenderAnnotations(src, List{
		Circle{CenterX: 30, CenterY: 30, Radius: 15, StrokeColor: red, StrokeWidth: 2},
	})
	if got := out.RGBAAt(45, 30); got.R != 255 {
		t.Errorf("ring east pixel = %+v", got)
	}
	if got := out.RGBAAt(30, 30); got.R != 0 {
		t.Errorf("circle interior painted: %+v", got)
	}
}

func TestRenderTextBackground(t *testing.T) {
	src := solidFrame(200, 80, color.RGBA{A: 255})
	out := RenderAnnotations(src, List{
		Text{
			X: 20, Y: 20, Text: "hello", FontSize: 16, Color: Color{R: 255, G: 255, B: 255, A: 255},
			Background: &BackgroundStyle{
				Color:          Color{R: 0, G: 0, B: 255, A: 255},
				OpacityPercent: 100,
				PaddingPx:      4,
			},
		},
	})
	// Padding extends the background above and left of the text origin.
	if got := out.RGBAAt(18, 18); got.B != 255 {
		t.Errorf("background padding pixel = %+v", got)
	}
	// Some glyph pixel must land inside the text box.
	found := false
	for y := 20; y < 44; y++ {
		for x := 20; x < 80; x++ {
			c := out.RGBAAt(x, y)
			if c.R > 200 && c.G > 200 {
				found = true
			}
		}
	}
	if !found {
		t.Error("no glyph pixels rendered")
	}
}

func TestListJSONDispatch(t *testing.T) {
	payload := `[
		{"type":"rectangle","x":1,"y":2,"width":30,"height":40,"strokeColor":"#ff0000","strokeWidth":2,"zIndex":1},
		{"type":"arrow","startX":0,"startY":0,"endX":10,"endY":10,"strokeColor":"#0000ff","strokeWidth":1,"headSize":8},
		{"type":"text","x":5,"y":6,"text":"note","fontSize":14,"color":"#00ff00"}
	]`
	var list List
	if err := json.Unmarshal([]byte(payload), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("got %d annotations, want 3", len(list))
	}
	if _, ok := list[0].(Rectangle); !ok {
		t.Errorf("list[0] = %T, want Rectangle", list[0])
	}
	if a, ok := list[1].(Arrow); !ok || a.HeadSize != 8 {
		t.Errorf("list[1] = %#v, want Arrow with headSize 8", list[1])
	}
	if txt, ok := list[2].(Text); !ok || txt.Text != "note" {
		t.Errorf("list[2] = %#v, want Text %q", list[2], "note")
	}

	// Round-trip keeps the type tags.
	out, err := json.Marshal(list)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back List
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if len(back) != 3 {
		t.Errorf("round trip lost annotations: %d", len(back))
	}
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#ff8000")
	if err != nil {
		t.Fatalf("ParseColor: %v", err)
	}
	if c.R != 0xff || c.G != 0x80 || c.B != 0 {
		t.Errorf("parsed = %+v", c)
	}
	if _, err := ParseColor("red"); err == nil {
		t.Error("expected error for named color")
	}
}
