package capture

import (
	"context"
	"errors"
	"image"
	"os"
	"sync"
	"testing"

	"snapcrop/src/display"
	"snapcrop/src/filestore"
	"snapcrop/src/imaging"
	"snapcrop/src/selection"
)

type fakeDisplaySource struct {
	bounds []image.Rectangle
}

func (f fakeDisplaySource) NumDisplays() int { return len(f.bounds) }

func (f fakeDisplaySource) DisplayBounds(i int) image.Rectangle { return f.bounds[i] }

type fakeFrameSource struct {
	err   error
	grabs int
}

func (f *fakeFrameSource) Grab(d display.Display) (*image.RGBA, error) {
	f.grabs++
	if f.err != nil {
		return nil, f.err
	}
	return image.NewRGBA(image.Rect(0, 0, d.Bounds.Dx(), d.Bounds.Dy())), nil
}

type fakeOverlay struct {
	mu    sync.Mutex
	shows int
	hides int
}

func (f *fakeOverlay) Show([]display.Display) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shows++
	return nil
}

func (f *fakeOverlay) Hide() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hides++
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *filestore.Store, *fakeOverlay) {
	t.Helper()
	files, err := filestore.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("filestore: %v", err)
	}
	ov := &fakeOverlay{}
	orch := New(Options{
		Registry: display.NewRegistryWithSource(fakeDisplaySource{
			bounds: []image.Rectangle{image.Rect(0, 0, 200, 100)},
		}),
		Source:  &fakeFrameSource{},
		Files:   files,
		Overlay: ov,
	})
	return orch, files, ov
}

func TestCaptureHappyPath(t *testing.T) {
	orch, files, ov := newTestOrchestrator(t)
	ctx := context.Background()

	started, err := orch.StartCapture(ctx)
	if err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	if started.SessionID == "" || len(started.Displays) != 1 {
		t.Fatalf("unexpected session %+v", started)
	}
	if got := orch.State(); got != StateAwaitingSelection {
		t.Fatalf("state = %v, want awaiting-selection", got)
	}
	if ov.shows != 1 {
		t.Errorf("overlay shows = %d, want 1", ov.shows)
	}

	shot, err := orch.ProcessSelection(ctx, started.SessionID, selection.Raw{X: 10, Y: 10, Width: 50, Height: 40})
	if err != nil {
		t.Fatalf("ProcessSelection failed: %v", err)
	}
	if shot.Width != 50 || shot.Height != 40 {
		t.Errorf("shot dims = %dx%d, want 50x40", shot.Width, shot.Height)
	}
	if shot.ID == "" || shot.Filename == "" || shot.FileSizeBytes <= 0 {
		t.Errorf("incomplete shot metadata: %+v", shot)
	}
	if _, err := os.Stat(shot.FilePath); err != nil {
		t.Errorf("temp file missing: %v", err)
	}
	if !files.Owned(shot.FilePath) {
		t.Error("shot file must start temp-owned")
	}
	if got := orch.State(); got != StateIdle {
		t.Errorf("state after processing = %v, want idle", got)
	}
	if ov.hides == 0 {
		t.Error("overlay never hidden")
	}
}

func TestStartCaptureRejectsSecondSession(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	if _, err := orch.StartCapture(ctx); err != nil {
		t.Fatalf("first StartCapture failed: %v", err)
	}
	if _, err := orch.StartCapture(ctx); !errors.Is(err, ErrAlreadyCapturing) {
		t.Errorf("second StartCapture = %v, want ErrAlreadyCapturing", err)
	}
	// The rejection must not disturb the live session.
	if got := orch.State(); got != StateAwaitingSelection {
		t.Errorf("state = %v, want awaiting-selection", got)
	}
}

func TestCancelCaptureIsIdempotent(t *testing.T) {
	orch, _, ov := newTestOrchestrator(t)
	ctx := context.Background()

	orch.CancelCapture() // idle cancel is a no-op
	if ov.hides != 0 {
		t.Error("idle cancel touched the overlay")
	}

	if _, err := orch.StartCapture(ctx); err != nil {
		t.Fatal(err)
	}
	orch.CancelCapture()
	orch.CancelCapture()
	if got := orch.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
	if ov.hides != 1 {
		t.Errorf("overlay hides = %d, want 1", ov.hides)
	}

	// A fresh session starts cleanly after cancellation.
	if _, err := orch.StartCapture(ctx); err != nil {
		t.Errorf("restart after cancel failed: %v", err)
	}
}

func TestProcessSelectionStaleSession(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	started, err := orch.StartCapture(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := orch.ProcessSelection(ctx, "not-the-session", selection.Raw{Width: 50, Height: 50}); !errors.Is(err, ErrStaleSession) {
		t.Errorf("wrong-session selection = %v, want ErrStaleSession", err)
	}
	// The live session is untouched by the stale submission.
	if got := orch.State(); got != StateAwaitingSelection {
		t.Errorf("state = %v, want awaiting-selection", got)
	}

	orch.CancelCapture()
	if _, err := orch.ProcessSelection(ctx, started.SessionID, selection.Raw{Width: 50, Height: 50}); !errors.Is(err, ErrStaleSession) {
		t.Errorf("post-cancel selection = %v, want ErrStaleSession", err)
	}
}

func TestProcessSelectionInvalidWhenIdle(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	if _, err := orch.ProcessSelection(context.Background(), "", selection.Raw{Width: 50, Height: 50}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("idle selection = %v, want ErrInvalidState", err)
	}
}

func TestProcessSelectionValidationKeepsSession(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	started, err := orch.StartCapture(ctx)
	if err != nil {
		t.Fatal(err)
	}

	_, err = orch.ProcessSelection(ctx, started.SessionID, selection.Raw{Width: 5, Height: 5})
	var verr *selection.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := orch.State(); got != StateAwaitingSelection {
		t.Fatalf("state after invalid selection = %v, want awaiting-selection", got)
	}

	// A corrected selection on the same session succeeds.
	if _, err := orch.ProcessSelection(ctx, started.SessionID, selection.Raw{Width: 50, Height: 50}); err != nil {
		t.Errorf("retry failed: %v", err)
	}
}

func TestProcessSelectionUnknownDisplay(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	started, err := orch.StartCapture(ctx)
	if err != nil {
		t.Fatal(err)
	}
	idx := 5
	_, err = orch.ProcessSelection(ctx, started.SessionID, selection.Raw{Width: 50, Height: 50, DisplayIndex: &idx})
	if !errors.Is(err, ErrUnknownDisplay) {
		t.Errorf("got %v, want ErrUnknownDisplay", err)
	}
	if got := orch.State(); got != StateIdle {
		t.Errorf("state = %v, want idle after unknown display", got)
	}
}

func TestProcessSelectionTooSmallAfterClamp(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	started, err := orch.StartCapture(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// Valid on its own but clamped to 5x5 by the 200x100 frame edge.
	_, err = orch.ProcessSelection(ctx, started.SessionID, selection.Raw{X: 195, Y: 95, Width: 20, Height: 20})
	if !errors.Is(err, ErrProcessingFailed) {
		t.Errorf("got %v, want ErrProcessingFailed", err)
	}
	if !errors.Is(err, imaging.ErrResultTooSmall) {
		t.Errorf("got %v, want wrapped ErrResultTooSmall", err)
	}
	if got := orch.State(); got != StateIdle {
		t.Errorf("state = %v, want idle after processing failure", got)
	}
}

func TestStartCaptureFrameFailureResets(t *testing.T) {
	files, err := filestore.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	orch := New(Options{
		Registry: display.NewRegistryWithSource(fakeDisplaySource{
			bounds: []image.Rectangle{image.Rect(0, 0, 100, 100)},
		}),
		Source: &fakeFrameSource{err: errors.New("display unplugged")},
		Files:  files,
	})
	if _, err := orch.StartCapture(context.Background()); !errors.Is(err, ErrFrameAcquisitionFailed) {
		t.Errorf("got %v, want ErrFrameAcquisitionFailed", err)
	}
	if got := orch.State(); got != StateIdle {
		t.Errorf("state = %v, want idle after failed start", got)
	}
}

func TestStartCaptureNoDisplays(t *testing.T) {
	files, err := filestore.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	orch := New(Options{
		Registry: display.NewRegistryWithSource(fakeDisplaySource{}),
		Source:   &fakeFrameSource{},
		Files:    files,
	})
	if _, err := orch.StartCapture(context.Background()); !errors.Is(err, ErrFrameAcquisitionFailed) {
		t.Errorf("got %v, want ErrFrameAcquisitionFailed", err)
	}
}
