package display

import (
	"errors"
	"image"

	"github.com/kbinani/screenshot"
)

// ErrNoDisplays is returned when enumeration finds no active displays.
var ErrNoDisplays = errors.New("no active displays found")

// Display is an immutable snapshot of one display at enumeration time.
// Displays may reconfigure between captures, so a fresh snapshot is taken
// at the start of every session.
type Display struct {
	ID     int
	Bounds image.Rectangle
	Scale  float64
}

// Source abstracts the platform display query so the registry can be
// exercised headless.
type Source interface {
	NumDisplays() int
	DisplayBounds(index int) image.Rectangle
}

type platformSource struct{}

func (platformSource) NumDisplays() int { return screenshot.NumActiveDisplays() }

func (platformSource) DisplayBounds(index int) image.Rectangle {
	return screenshot.GetDisplayBounds(index)
}

// Registry enumerates displays. Pure query, no state beyond its source.
type Registry struct {
	src Source
}

// NewRegistry returns a registry backed by the platform display query.
func NewRegistry() *Registry { return &Registry{src: platformSource{}} }

// NewRegistryWithSource returns a registry backed by a custom source.
func NewRegistryWithSource(src Source) *Registry { return &Registry{src: src} }

// Enumerate returns a snapshot of all active displays.
func (r *Registry) Enumerate() ([]Display, error) {
	n := r.src.NumDisplays()
	if n == 0 {
		return nil, ErrNoDisplays
	}
	displays := make([]Display, 0, n)
	for i := 0; i < n; i++ {
		displays = append(displays, Display{
			ID:     i,
			Bounds: r.src.DisplayBounds(i),
			// kbinani/screenshot reports bounds in pixels already; hosts
			// with DPI knowledge may substitute a real factor.
			Scale: 1.0,
		})
	}
	return displays, nil
}

// UnionBounds returns the bounding box covering every display, used to
// size the full-screen selection overlay.
func UnionBounds(displays []Display) image.Rectangle {
	var union image.Rectangle
	for i, d := range displays {
		if i == 0 {
			union = d.Bounds
			continue
		}
		union = union.Union(d.Bounds)
	}
	return union
}
