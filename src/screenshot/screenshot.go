package screenshot

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"

	"snapcrop/src/display"
)

// Grabber acquires raw frames from physical displays. It satisfies the
// capture orchestrator's frame source.
type Grabber struct{}

// NewGrabber returns the platform frame grabber.
func NewGrabber() *Grabber { return &Grabber{} }

// Grab captures one raw frame of the given display.
func (Grabber) Grab(d display.Display) (*image.RGBA, error) {
	img, err := screenshot.CaptureRect(d.Bounds)
	if err != nil {
		return nil, fmt.Errorf("capture display %d: %w", d.ID, err)
	}
	return img, nil
}

// CaptureAll captures the union rectangle spanning every active display.
func CaptureAll() (*image.RGBA, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, fmt.Errorf("no active displays found")
	}
	union := screenshot.GetDisplayBounds(0)
	for i := 1; i < n; i++ {
		union = union.Union(screenshot.GetDisplayBounds(i))
	}
	return screenshot.CaptureRect(union)
}
