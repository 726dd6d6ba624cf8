package overlay

import (
	"github.com/rs/zerolog"

	"snapcrop/src/display"
	"snapcrop/src/logutil"
)

// Surface is the full-screen selection layer shown over every display
// while a capture session awaits its selection. The selection itself
// arrives out of band, through the control connection, so the surface
// only has to appear and disappear.
type Surface interface {
	Show(displays []display.Display) error
	Hide()
}

// NewSurface returns the platform implementation. Platforms without a
// native overlay get a logging stand-in so capture flows still run
// end to end driven by the control connection.
func NewSurface() Surface {
	return &stubSurface{log: logutil.WithComponent("overlay")}
}

type stubSurface struct {
	log     zerolog.Logger
	visible bool
}

func (s *stubSurface) Show(displays []display.Display) error {
	s.visible = true
	s.log.Debug().Int("displays", len(displays)).Msg("Selection overlay shown")
	return nil
}

func (s *stubSurface) Hide() {
	if !s.visible {
		return
	}
	s.visible = false
	s.log.Debug().Msg("Selection overlay hidden")
}
