package imaging

import (
	"image"
	"image/color"
	"math"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"snapcrop/src/logutil"
)

// RenderAnnotations composites the annotation layers onto a working copy
// of the bitmap, in ascending zIndex order (stable for ties). The input
// bitmap is never mutated, so callers keep the pre-annotation original
// for copy-original actions.
func RenderAnnotations(src *image.RGBA, annotations List) *image.RGBA {
	dst := cloneRGBA(src)
	for _, a := range sortedByZ(annotations) {
		switch v := a.(type) {
		case Rectangle:
			strokeRect(dst, v)
		case Circle:
			strokeCircle(dst, v)
		case Arrow:
			drawArrow(dst, v)
		case Line:
			strokeLine(dst,
				float64(v.StartX), float64(v.StartY),
				float64(v.EndX), float64(v.EndY),
				v.StrokeColor.RGBA(), v.StrokeWidth)
		case Text:
			drawText(dst, v)
		default:
			logger := logutil.WithComponent("imaging")
			logger.Warn().Str("kind", a.Kind()).
				Msg("Skipping annotation with no rendering recipe")
		}
	}
	return dst
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}

func strokeRect(dst *image.RGBA, a Rectangle) {
	col := a.StrokeColor.RGBA()
	x0, y0 := float64(a.X), float64(a.Y)
	x1, y1 := float64(a.X+a.W), float64(a.Y+a.H)
	strokeLine(dst, x0, y0, x1, y0, col, a.StrokeWidth)
	strokeLine(dst, x1, y0, x1, y1, col, a.StrokeWidth)
	strokeLine(dst, x1, y1, x0, y1, col, a.StrokeWidth)
	strokeLine(dst, x0, y1, x0, y0, col, a.StrokeWidth)
}

func strokeCircle(dst *image.RGBA, a Circle) {
	col := a.StrokeColor.RGBA()
	r := float64(a.Radius)
	half := strokeHalf(a.StrokeWidth)
	b := dst.Bounds()

	minX := clampInt(a.CenterX-a.Radius-a.StrokeWidth, b.Min.X, b.Max.X)
	maxX := clampInt(a.CenterX+a.Radius+a.StrokeWidth+1, b.Min.X, b.Max.X)
	minY := clampInt(a.CenterY-a.Radius-a.StrokeWidth, b.Min.Y, b.Max.Y)
	maxY := clampInt(a.CenterY+a.Radius+a.StrokeWidth+1, b.Min.Y, b.Max.Y)

	for y := minY; y < maxY; y++ {
		for x := minX; x < maxX; x++ {
			d := math.Hypot(float64(x-a.CenterX)+0.5, float64(y-a.CenterY)+0.5)
			if math.Abs(d-r) <= half {
				dst.SetRGBA(x, y, col)
			}
		}
	}
}

// drawArrow strokes the shaft and a head of two symmetric rays at 30
// degrees off the shaft, each headSize long.
func drawArrow(dst *image.RGBA, a Arrow) {
	col := a.StrokeColor.RGBA()
	sx, sy := float64(a.StartX), float64(a.StartY)
	ex, ey := float64(a.EndX), float64(a.EndY)
	strokeLine(dst, sx, sy, ex, ey, col, a.StrokeWidth)

	headLen := float64(a.HeadSize)
	if headLen <= 0 {
		headLen = 10
	}
	shaft := math.Atan2(ey-sy, ex-sx)
	for _, side := range []float64{1, -1} {
		ang := shaft + math.Pi + side*math.Pi/6
		hx := ex + headLen*math.Cos(ang)
		hy := ey + headLen*math.Sin(ang)
		strokeLine(dst, ex, ey, hx, hy, col, a.StrokeWidth)
	}
}

func strokeLine(dst *image.RGBA, x0, y0, x1, y1 float64, col color.RGBA, width int) {
	half := strokeHalf(width)
	length := math.Hypot(x1-x0, y1-y0)
	steps := int(length*2) + 1
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		stampDisc(dst, x0+(x1-x0)*t, y0+(y1-y0)*t, half, col)
	}
}

func stampDisc(dst *image.RGBA, cx, cy, radius float64, col color.RGBA) {
	b := dst.Bounds()
	minX := clampInt(int(math.Floor(cx-radius)), b.Min.X, b.Max.X)
	maxX := clampInt(int(math.Ceil(cx+radius))+1, b.Min.X, b.Max.X)
	minY := clampInt(int(math.Floor(cy-radius)), b.Min.Y, b.Max.Y)
	maxY := clampInt(int(math.Ceil(cy+radius))+1, b.Min.Y, b.Max.Y)
	for y := minY; y < maxY; y++ {
		for x := minX; x < maxX; x++ {
			if math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy) <= radius {
				dst.SetRGBA(x, y, col)
			}
		}
	}
}

func strokeHalf(width int) float64 {
	if width <= 1 {
		return 0.5
	}
	return float64(width) / 2
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var (
	faceMu    sync.Mutex
	faceCache = map[faceKey]font.Face{}
)

type faceKey struct {
	bold   bool
	italic bool
	size   float64
}

// loadFace returns a Go font face for the requested style. FontFamily is
// carried on the wire but rendering always uses the bundled Go fonts.
func loadFace(bold, italic bool, size float64) (font.Face, error) {
	if size <= 0 {
		size = 16
	}
	key := faceKey{bold: bold, italic: italic, size: size}

	faceMu.Lock()
	defer faceMu.Unlock()
	if f, ok := faceCache[key]; ok {
		return f, nil
	}

	var ttf []byte
	switch {
	case bold && italic:
		ttf = gobolditalic.TTF
	case bold:
		ttf = gobold.TTF
	case italic:
		ttf = goitalic.TTF
	default:
		ttf = goregular.TTF
	}
	parsed, err := opentype.Parse(ttf)
	if err != nil {
		return nil, err
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, err
	}
	faceCache[key] = face
	return face, nil
}

func drawText(dst *image.RGBA, a Text) {
	face, err := loadFace(a.Bold, a.Italic, a.FontSize)
	if err != nil {
		logger := logutil.WithComponent("imaging")
		logger.Error().Err(err).Msg("Failed to load font face")
		return
	}

	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	height := (metrics.Ascent + metrics.Descent).Ceil()
	width := font.MeasureString(face, a.Text).Ceil()

	if a.Background != nil {
		pad := a.Background.PaddingPx
		rect := image.Rect(a.X-pad, a.Y-pad, a.X+width+pad, a.Y+height+pad)
		alpha := float64(clampInt(a.Background.OpacityPercent, 0, 100)) / 100
		fillRoundedRect(dst, rect, a.Background.CornerRadius, a.Background.Color.RGBA(), alpha)
	}

	col := a.Color.RGBA()
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(a.X, a.Y+ascent),
	}
	drawer.DrawString(a.Text)

	if a.Underline {
		thickness := int(math.Max(1, math.Round(a.FontSize/12)))
		y := float64(a.Y + ascent + 2)
		strokeLine(dst, float64(a.X), y, float64(a.X+width), y, col, thickness)
	}
}

// fillRoundedRect fills rect with col at the given alpha, rounding each
// corner with the given radius.
func fillRoundedRect(dst *image.RGBA, rect image.Rectangle, radius int, col color.RGBA, alpha float64) {
	rect = rect.Intersect(dst.Bounds())
	if rect.Empty() || alpha <= 0 {
		return
	}
	maxRadius := minInt(rect.Dx(), rect.Dy()) / 2
	if radius > maxRadius {
		radius = maxRadius
	}
	r := float64(radius)

	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			if radius > 0 && !insideRounded(x, y, rect, r) {
				continue
			}
			blendPixel(dst, x, y, col, alpha)
		}
	}
}

func insideRounded(x, y int, rect image.Rectangle, r float64) bool {
	fx, fy := float64(x)+0.5, float64(y)+0.5
	left := float64(rect.Min.X) + r
	right := float64(rect.Max.X) - r
	top := float64(rect.Min.Y) + r
	bottom := float64(rect.Max.Y) - r

	cx, cy := fx, fy
	if fx < left {
		cx = left
	} else if fx > right {
		cx = right
	}
	if fy < top {
		cy = top
	} else if fy > bottom {
		cy = bottom
	}
	if cx == fx && cy == fy {
		return true
	}
	return math.Hypot(fx-cx, fy-cy) <= r
}

func blendPixel(dst *image.RGBA, x, y int, col color.RGBA, alpha float64) {
	a := alpha * float64(col.A) / 255
	if a >= 1 {
		dst.SetRGBA(x, y, col)
		return
	}
	d := dst.RGBAAt(x, y)
	blend := func(s, b uint8) uint8 {
		return uint8(math.Round(float64(s)*a + float64(b)*(1-a)))
	}
	dst.SetRGBA(x, y, color.RGBA{
		R: blend(col.R, d.R),
		G: blend(col.G, d.G),
		B: blend(col.B, d.B),
		A: 0xff,
	})
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
