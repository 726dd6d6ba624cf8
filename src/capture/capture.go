package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"snapcrop/src/display"
	"snapcrop/src/filestore"
	"snapcrop/src/imaging"
	"snapcrop/src/logutil"
	"snapcrop/src/selection"
)

// State is the capture session state. Idle is both initial and terminal;
// any state may return to Idle via CancelCapture.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateAwaitingSelection
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateAwaitingSelection:
		return "awaiting-selection"
	case StateProcessing:
		return "processing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrAlreadyCapturing       = errors.New("capture already in progress")
	ErrFrameAcquisitionFailed = errors.New("frame acquisition failed")
	ErrInvalidState           = errors.New("operation invalid in current state")
	ErrUnknownDisplay         = errors.New("no frame for requested display")
	ErrStaleSession           = errors.New("selection refers to a stale session")
	ErrProcessingFailed       = errors.New("selection processing failed")
	ErrTimeout                = errors.New("operation timed out")
)

// FrameSource acquires one raw frame per display. screenshot.Grabber is
// the production implementation.
type FrameSource interface {
	Grab(d display.Display) (*image.RGBA, error)
}

// Surface is the full-screen selection overlay collaborator. Show is
// called with the session's display layout so the overlay can map screen
// coordinates onto display-local coordinates.
type Surface interface {
	Show(displays []display.Display) error
	Hide()
}

type nopSurface struct{}

func (nopSurface) Show([]display.Display) error { return nil }
func (nopSurface) Hide()                        {}

// Frame is one raw display capture held for the duration of a session.
type Frame struct {
	Display display.Display
	Image   *image.RGBA
}

type session struct {
	id       string
	displays []display.Display
	frames   []Frame
}

// Screenshot is the product of a processed selection. FilePath starts as
// a temp-owned path; ownership moves to the preview window that displays
// it.
type Screenshot struct {
	ID            string       `json:"screenshotId"`
	FilePath      string       `json:"filePath"`
	Filename      string       `json:"filename"`
	FileSizeBytes int64        `json:"fileSize"`
	Width         int          `json:"width"`
	Height        int          `json:"height"`
	CreatedAt     time.Time    `json:"createdAt"`
	Annotations   imaging.List `json:"annotations,omitempty"`
}

// SessionStarted reports a successfully started capture session.
type SessionStarted struct {
	SessionID string
	Displays  []display.Display
}

// Options configures an Orchestrator.
type Options struct {
	Registry       *display.Registry
	Source         FrameSource
	Files          *filestore.Store
	Overlay        Surface
	Limits         selection.Limits
	AcquireTimeout time.Duration
	ProcessTimeout time.Duration
}

// Orchestrator owns the capture state machine. Exactly one session may be
// live at a time; a second StartCapture is rejected synchronously rather
// than queued, so two capture flows can never interleave their effects.
type Orchestrator struct {
	registry       *display.Registry
	source         FrameSource
	files          *filestore.Store
	overlay        Surface
	limits         selection.Limits
	acquireTimeout time.Duration
	processTimeout time.Duration
	log            zerolog.Logger

	mu      sync.Mutex
	state   State
	session *session
}

// New constructs an idle orchestrator.
func New(opts Options) *Orchestrator {
	overlay := opts.Overlay
	if overlay == nil {
		overlay = nopSurface{}
	}
	limits := opts.Limits
	if limits.Max <= 0 {
		limits = selection.DefaultLimits()
	}
	acquire := opts.AcquireTimeout
	if acquire <= 0 {
		acquire = 10 * time.Second
	}
	process := opts.ProcessTimeout
	if process <= 0 {
		process = 15 * time.Second
	}
	return &Orchestrator{
		registry:       opts.Registry,
		source:         opts.Source,
		files:          opts.Files,
		overlay:        overlay,
		limits:         limits,
		acquireTimeout: acquire,
		processTimeout: process,
		log:            logutil.WithComponent("capture"),
	}
}

// State returns the current capture state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SessionID returns the live session's id, or "" when idle.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return ""
	}
	return o.session.id
}

// StartCapture begins a session: enumerates displays, acquires one raw
// frame per display, and shows the selection overlay. Fails with
// ErrAlreadyCapturing when a session is live, leaving state unchanged.
func (o *Orchestrator) StartCapture(ctx context.Context) (SessionStarted, error) {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return SessionStarted{}, ErrAlreadyCapturing
	}
	sid := uuid.NewString()
	o.state = StateCapturing
	o.session = &session{id: sid}
	o.mu.Unlock()

	o.log.Debug().Str("session", sid).Msg("Capture session starting")

	displays, err := o.registry.Enumerate()
	if err != nil {
		return SessionStarted{}, o.failStart(sid, fmt.Errorf("%w: %v", ErrFrameAcquisitionFailed, err))
	}

	acquireCtx, cancel := context.WithTimeout(ctx, o.acquireTimeout)
	defer cancel()

	frames := make([]Frame, 0, len(displays))
	for _, d := range displays {
		img, err := grabWithContext(acquireCtx, o.source, d)
		if err != nil {
			if acquireCtx.Err() != nil {
				return SessionStarted{}, o.failStart(sid, fmt.Errorf("%w: frame acquisition", ErrTimeout))
			}
			return SessionStarted{}, o.failStart(sid, fmt.Errorf("%w: display %d: %v", ErrFrameAcquisitionFailed, d.ID, err))
		}
		frames = append(frames, Frame{Display: d, Image: img})
	}

	o.mu.Lock()
	if o.session == nil || o.session.id != sid {
		// Cancelled while frames were in flight.
		o.mu.Unlock()
		return SessionStarted{}, ErrStaleSession
	}
	o.session.displays = displays
	o.session.frames = frames
	o.state = StateAwaitingSelection
	o.mu.Unlock()

	if err := o.overlay.Show(displays); err != nil {
		return SessionStarted{}, o.failStart(sid, fmt.Errorf("show selection overlay: %w", err))
	}

	o.log.Info().Str("session", sid).Int("displays", len(displays)).Msg("Awaiting selection")
	return SessionStarted{SessionID: sid, Displays: displays}, nil
}

// CancelCapture tears down the overlay and returns to Idle, discarding
// any held frames. Idempotent: cancelling while Idle is a no-op.
func (o *Orchestrator) CancelCapture() {
	o.mu.Lock()
	if o.state == StateIdle {
		o.mu.Unlock()
		return
	}
	sid := ""
	if o.session != nil {
		sid = o.session.id
	}
	o.session = nil
	o.state = StateIdle
	o.mu.Unlock()

	o.overlay.Hide()
	o.log.Info().Str("session", sid).Msg("Capture cancelled")
}

// ProcessSelection validates a selection against the named session and
// runs the crop/serialize/write pipeline. Valid only while awaiting a
// selection; a selection tagged with a session id that is no longer live
// fails with ErrStaleSession instead of leaking into a newer session.
// Validation failures leave the session awaiting selection so the user
// can retry.
func (o *Orchestrator) ProcessSelection(ctx context.Context, sessionID string, raw selection.Raw) (Screenshot, error) {
	o.mu.Lock()
	if o.session == nil {
		o.mu.Unlock()
		if sessionID != "" {
			return Screenshot{}, ErrStaleSession
		}
		return Screenshot{}, ErrInvalidState
	}
	if sessionID != "" && sessionID != o.session.id {
		o.mu.Unlock()
		return Screenshot{}, ErrStaleSession
	}
	if o.state != StateAwaitingSelection {
		o.mu.Unlock()
		return Screenshot{}, ErrInvalidState
	}

	rect, err := selection.ValidateWithLimits(raw, o.limits)
	if err != nil {
		// Session stays AwaitingSelection for a retry.
		o.mu.Unlock()
		return Screenshot{}, err
	}
	if rect.DisplayIndex >= len(o.session.frames) {
		frames := len(o.session.frames)
		o.session = nil
		o.state = StateIdle
		o.mu.Unlock()
		o.overlay.Hide()
		return Screenshot{}, fmt.Errorf("%w: index %d of %d", ErrUnknownDisplay, rect.DisplayIndex, frames)
	}

	sid := o.session.id
	frame := o.session.frames[rect.DisplayIndex]
	o.state = StateProcessing
	o.mu.Unlock()

	shot, perr := o.processWithTimeout(ctx, frame, rect)

	o.mu.Lock()
	current := o.session != nil && o.session.id == sid
	if current {
		o.session = nil
		o.state = StateIdle
	}
	o.mu.Unlock()

	if !current {
		// Cancelled mid-processing: never commit into a newer session.
		if perr == nil {
			_ = o.files.DeleteIfOwned(shot.FilePath)
		}
		return Screenshot{}, ErrStaleSession
	}
	o.overlay.Hide()

	if perr != nil {
		o.log.Error().Err(perr).Str("session", sid).Msg("Selection processing failed")
		return Screenshot{}, errors.Join(ErrProcessingFailed, perr)
	}

	o.log.Info().Str("session", sid).Str("file", shot.FilePath).
		Int("width", shot.Width).Int("height", shot.Height).Msg("Selection processed")
	return shot, nil
}

func (o *Orchestrator) failStart(sid string, err error) error {
	o.mu.Lock()
	if o.session != nil && o.session.id == sid {
		o.session = nil
		o.state = StateIdle
	}
	o.mu.Unlock()
	o.log.Error().Err(err).Str("session", sid).Msg("Capture session failed to start")
	return err
}

type processResult struct {
	shot Screenshot
	err  error
}

func (o *Orchestrator) processWithTimeout(ctx context.Context, frame Frame, rect selection.Rect) (Screenshot, error) {
	procCtx, cancel := context.WithTimeout(ctx, o.processTimeout)
	defer cancel()

	ch := make(chan processResult, 1)
	go func() {
		shot, err := o.process(frame, rect)
		ch <- processResult{shot: shot, err: err}
	}()

	select {
	case res := <-ch:
		return res.shot, res.err
	case <-procCtx.Done():
		// The pipeline may still finish in the background; reap its file.
		go func() {
			if res := <-ch; res.err == nil {
				_ = o.files.DeleteIfOwned(res.shot.FilePath)
			}
		}()
		return Screenshot{}, fmt.Errorf("%w: selection processing", ErrTimeout)
	}
}

func (o *Orchestrator) process(frame Frame, rect selection.Rect) (Screenshot, error) {
	cropped, err := imaging.Crop(frame.Image, rect)
	if err != nil {
		return Screenshot{}, err
	}
	data, err := imaging.Serialize(cropped, imaging.FormatPNG, 0)
	if err != nil {
		return Screenshot{}, err
	}
	path, err := o.files.WriteTemp(data)
	if err != nil {
		return Screenshot{}, err
	}
	b := cropped.Bounds()
	return Screenshot{
		ID:            uuid.NewString(),
		FilePath:      path,
		Filename:      filepath.Base(path),
		FileSizeBytes: int64(len(data)),
		Width:         b.Dx(),
		Height:        b.Dy(),
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func grabWithContext(ctx context.Context, src FrameSource, d display.Display) (*image.RGBA, error) {
	type grabResult struct {
		img *image.RGBA
		err error
	}
	ch := make(chan grabResult, 1)
	go func() {
		img, err := src.Grab(d)
		ch <- grabResult{img: img, err: err}
	}()
	select {
	case r := <-ch:
		return r.img, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
