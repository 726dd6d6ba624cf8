package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"

	"snapcrop/src/selection"
)

var (
	// ErrResultTooSmall means the selection, after clamping to the frame,
	// is below the minimum usable size.
	ErrResultTooSmall = errors.New("cropped result below minimum size")
	// ErrEncodingFailed wraps serialization failures.
	ErrEncodingFailed = errors.New("image encoding failed")
)

// Output formats for Serialize.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)

const defaultJPEGQuality = 90

// Crop extracts the selection rectangle from a raw frame. Rectangles that
// extend past the frame are clamped rather than rejected, to tolerate
// off-by-one scale-factor rounding; if the clamped result falls below the
// minimum selection size the crop fails with ErrResultTooSmall. The input
// frame is never mutated.
func Crop(frame *image.RGBA, rect selection.Rect) (*image.RGBA, error) {
	fb := frame.Bounds()
	target := image.Rect(
		fb.Min.X+rect.X,
		fb.Min.Y+rect.Y,
		fb.Min.X+rect.X+rect.Width,
		fb.Min.Y+rect.Y+rect.Height,
	).Intersect(fb)

	if target.Dx() < selection.MinSize || target.Dy() < selection.MinSize {
		return nil, fmt.Errorf("%w: %dx%d after clamping", ErrResultTooSmall, target.Dx(), target.Dy())
	}

	out := image.NewRGBA(image.Rect(0, 0, target.Dx(), target.Dy()))
	draw.Draw(out, out.Bounds(), frame, target.Min, draw.Src)
	return out, nil
}

// Serialize encodes a composited bitmap. PNG is the lossless default; the
// quality parameter is honored only for lossy formats (1-100, 0 selects
// the default).
func Serialize(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatPNG, "":
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("%w: png: %v", ErrEncodingFailed, err)
		}
	case FormatJPEG, "jpg":
		q := quality
		if q <= 0 || q > 100 {
			q = defaultJPEGQuality
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return nil, fmt.Errorf("%w: jpeg: %v", ErrEncodingFailed, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrEncodingFailed, format)
	}
	return buf.Bytes(), nil
}

// Decode parses serialized image bytes back into an RGBA bitmap. Used by
// the preview actions that re-composite borders onto a stored screenshot.
func Decode(data []byte) (*image.RGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out, nil
}
