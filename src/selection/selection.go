package selection

import (
	"fmt"
	"math"
	"strings"
)

const (
	// MinSize is the smallest usable selection edge, in pixels.
	MinSize = 10
	// DefaultMaxSize bounds selection edges. The value is inherited from
	// earlier implementations rather than a product constraint, hence the
	// Limits override.
	DefaultMaxSize = 32767
)

// Limits carries the configurable upper bound for selection dimensions.
type Limits struct {
	Max int
}

// DefaultLimits returns the standard limits.
func DefaultLimits() Limits { return Limits{Max: DefaultMaxSize} }

// Raw is a proposed selection as it arrives from the overlay or the
// control plane, before validation. Fields are floats because the wire
// format carries untrusted numbers.
type Raw struct {
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	DisplayIndex *int    `json:"displayIndex,omitempty"`
}

// Rect is a validated, sanitized selection rectangle in integer pixels.
type Rect struct {
	X            int `json:"x"`
	Y            int `json:"y"`
	Width        int `json:"width"`
	Height       int `json:"height"`
	DisplayIndex int `json:"displayIndex"`
}

// ValidationError carries every problem found in a proposed selection so
// the UI can report them all at once.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid selection: " + strings.Join(e.Problems, "; ")
}

// Validate checks a proposed selection against the default limits.
func Validate(raw Raw) (Rect, error) {
	return ValidateWithLimits(raw, DefaultLimits())
}

// ValidateWithLimits validates and sanitizes a proposed selection. All
// violations are collected rather than short-circuited. On success every
// coordinate is rounded to the nearest integer and a missing display
// index defaults to 0. Pure function, safe for concurrent use.
func ValidateWithLimits(raw Raw, limits Limits) (Rect, error) {
	maxSize := limits.Max
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	var problems []string

	finite := func(name string, v float64) bool {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			problems = append(problems, fmt.Sprintf("%s must be a finite number", name))
			return false
		}
		return true
	}

	finite("X", raw.X)
	finite("Y", raw.Y)
	wOK := finite("Width", raw.Width)
	hOK := finite("Height", raw.Height)

	if wOK {
		switch {
		case raw.Width <= 0:
			problems = append(problems, "Width must be positive")
		case raw.Width < MinSize:
			problems = append(problems, fmt.Sprintf("Width must be at least %d pixels", MinSize))
		case raw.Width > float64(maxSize):
			problems = append(problems, fmt.Sprintf("Width must be at most %d pixels", maxSize))
		}
	}
	if hOK {
		switch {
		case raw.Height <= 0:
			problems = append(problems, "Height must be positive")
		case raw.Height < MinSize:
			problems = append(problems, fmt.Sprintf("Height must be at least %d pixels", MinSize))
		case raw.Height > float64(maxSize):
			problems = append(problems, fmt.Sprintf("Height must be at most %d pixels", maxSize))
		}
	}

	displayIndex := 0
	if raw.DisplayIndex != nil {
		if *raw.DisplayIndex < 0 {
			problems = append(problems, "Display index must not be negative")
		} else {
			displayIndex = *raw.DisplayIndex
		}
	}

	if len(problems) > 0 {
		return Rect{}, &ValidationError{Problems: problems}
	}

	return Rect{
		X:            int(math.Round(raw.X)),
		Y:            int(math.Round(raw.Y)),
		Width:        int(math.Round(raw.Width)),
		Height:       int(math.Round(raw.Height)),
		DisplayIndex: displayIndex,
	}, nil
}
