package eventloop

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"snapcrop/src/capture"
	"snapcrop/src/clipboard"
	"snapcrop/src/config"
	"snapcrop/src/filestore"
	"snapcrop/src/hotkey"
	"snapcrop/src/imaging"
	"snapcrop/src/ipc"
	"snapcrop/src/logutil"
	"snapcrop/src/settings"
	"snapcrop/src/theme"
	"snapcrop/src/tray"
	"snapcrop/src/windows"
)

// ClipboardWriter is the clipboard dependency, injectable for tests.
type ClipboardWriter interface {
	WriteImage(png []byte) error
	WriteText(text string) error
}

type systemClipboard struct{}

func (systemClipboard) WriteImage(png []byte) error { return clipboard.WriteImage(png) }
func (systemClipboard) WriteText(text string) error { return clipboard.Write(text) }

// Options wires the loop's collaborators.
type Options struct {
	Config    *config.Config
	Orch      *capture.Orchestrator
	Files     *filestore.Store
	Windows   *windows.Manager
	Themes    *theme.Broadcaster
	Settings  *settings.Store
	Server    *ipc.Server
	Clipboard ClipboardWriter
	TrayState func(state string)
}

// Loop is the single-goroutine coordinator. Hotkey presses and control
// connections are multiplexed into one select so capture, preview, theme,
// and settings operations never interleave.
type Loop struct {
	cfg       *config.Config
	orch      *capture.Orchestrator
	files     *filestore.Store
	wins      *windows.Manager
	themes    *theme.Broadcaster
	store     *settings.Store
	srv       *ipc.Server
	clip      ClipboardWriter
	trayState func(state string)
	log       zerolog.Logger

	hotkeyCh chan struct{}
	quitCh   chan struct{}
	quitOnce sync.Once

	shotMu sync.Mutex
	shots  map[string]capture.Screenshot
}

func New(opts Options) *Loop {
	clip := opts.Clipboard
	if clip == nil {
		clip = systemClipboard{}
	}
	trayState := opts.TrayState
	if trayState == nil {
		trayState = tray.SetBusy
	}
	return &Loop{
		cfg:       opts.Config,
		orch:      opts.Orch,
		files:     opts.Files,
		wins:      opts.Windows,
		themes:    opts.Themes,
		store:     opts.Settings,
		srv:       opts.Server,
		clip:      clip,
		trayState: trayState,
		log:       logutil.WithComponent("eventloop"),
		hotkeyCh:  make(chan struct{}, 4),
		quitCh:    make(chan struct{}),
		shots:     map[string]capture.Screenshot{},
	}
}

// StartHotkey registers the global capture hotkey and posts presses into
// the loop. A press during a live session cancels it instead.
func (l *Loop) StartHotkey(combo string) {
	if combo == "" {
		return
	}
	hotkey.Listen(combo, func() {
		select {
		case l.hotkeyCh <- struct{}{}:
		default:
		}
	})
}

// TriggerCapture posts a capture request into the loop, same path as a
// hotkey press. Used by the tray menu.
func (l *Loop) TriggerCapture() {
	select {
	case l.hotkeyCh <- struct{}{}:
	default:
	}
}

// Cancel aborts any live capture session.
func (l *Loop) Cancel() {
	l.orch.CancelCapture()
	l.trayState(capture.StateIdle.String())
}

// Quit asks the loop to exit after the current request.
func (l *Loop) Quit() {
	l.quitOnce.Do(func() { close(l.quitCh) })
}

// Run processes hotkey presses and control connections until the context
// is cancelled or a quit request arrives, then sweeps all preview
// windows so no temp file outlives the process.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return l.shutdown()
		case <-l.quitCh:
			return l.shutdown()
		case <-l.hotkeyCh:
			l.onHotkey(ctx)
		case conn := <-l.srv.Incoming():
			resp := l.HandleRequest(ctx, conn.Request())
			if err := conn.Respond(resp); err != nil {
				l.log.Warn().Err(err).Msg("Response delivery failed")
			}
			_ = conn.Close()
		}
	}
}

func (l *Loop) shutdown() error {
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l.orch.CancelCapture()
	err := l.wins.CleanupAll(shutCtx)
	l.log.Info().Msg("Event loop stopped")
	return err
}

func (l *Loop) onHotkey(ctx context.Context) {
	if l.orch.State() != capture.StateIdle {
		l.orch.CancelCapture()
		l.trayState(capture.StateIdle.String())
		return
	}
	if _, err := l.orch.StartCapture(ctx); err != nil {
		l.log.Error().Err(err).Msg("Hotkey capture failed to start")
		return
	}
	l.trayState(l.orch.State().String())
}

// HandleRequest dispatches one control request. Exported so the dispatch
// table is testable without a live TCP server.
func (l *Loop) HandleRequest(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Op {
	case ipc.OpStartCapture:
		return l.handleStartCapture(ctx)
	case ipc.OpCancelCapture:
		l.orch.CancelCapture()
		l.trayState(capture.StateIdle.String())
		return ipc.OK(nil)
	case ipc.OpProcessSelection:
		return l.handleProcessSelection(ctx, req)
	case ipc.OpPreviewAction:
		return l.handlePreviewAction(req)
	case ipc.OpWindowClosed:
		l.wins.HandleClosed(req.WindowID)
		return ipc.OK(nil)
	case ipc.OpCloseWindow:
		if err := l.wins.ClosePreview(req.WindowID); err != nil {
			return ipc.Fail(err.Error())
		}
		return ipc.OK(nil)
	case ipc.OpListWindows:
		return ipc.OK(l.listWindows())
	case ipc.OpSetTheme:
		info, err := l.themes.SetPreference(req.Theme)
		if err != nil {
			return ipc.Fail(err.Error())
		}
		return ipc.OK(info)
	case ipc.OpGetTheme:
		return ipc.OK(l.themes.Current())
	case ipc.OpGetSettings:
		return ipc.OK(l.store.Current())
	case ipc.OpSaveSettings:
		if req.Settings == nil {
			return ipc.Fail("missing settings payload")
		}
		saved, err := l.store.Save(*req.Settings)
		if err != nil {
			return ipc.Fail(err.Error())
		}
		return ipc.OK(saved)
	case ipc.OpStatus:
		return ipc.OK(map[string]any{
			"state":     l.orch.State().String(),
			"sessionId": l.orch.SessionID(),
			"windows":   l.wins.Count(),
		})
	case ipc.OpQuit:
		l.Quit()
		return ipc.OK(nil)
	default:
		return ipc.Fail(fmt.Sprintf("unknown op %q", req.Op))
	}
}

func (l *Loop) handleStartCapture(ctx context.Context) ipc.Response {
	started, err := l.orch.StartCapture(ctx)
	if err != nil {
		return ipc.Fail(err.Error())
	}
	l.trayState(l.orch.State().String())
	return ipc.OK(map[string]any{
		"sessionId": started.SessionID,
		"displays":  started.Displays,
	})
}

func (l *Loop) handleProcessSelection(ctx context.Context, req ipc.Request) ipc.Response {
	if req.Selection == nil {
		return ipc.Fail("missing selection payload")
	}
	l.trayState(capture.StateProcessing.String())
	shot, err := l.orch.ProcessSelection(ctx, req.SessionID, *req.Selection)
	l.trayState(l.orch.State().String())
	if err != nil {
		return ipc.Fail(err.Error())
	}

	rec, err := l.wins.OpenPreview(
		"Screenshot "+shot.Filename,
		shot.ID, shot.FilePath,
		shot.Width, shot.Height,
		l.previewCleanup,
	)
	if err != nil {
		// No window means no owner for the temp file; reap it now.
		_ = l.files.DeleteIfOwned(shot.FilePath)
		return ipc.Fail(err.Error())
	}

	l.shotMu.Lock()
	l.shots[shot.ID] = shot
	l.shotMu.Unlock()

	if payload, merr := json.Marshal(shot); merr == nil {
		if serr := l.wins.Send(rec.WindowID, "screenshot-ready", payload); serr != nil {
			l.log.Warn().Err(serr).Int64("window", rec.WindowID).Msg("Screenshot payload delivery failed")
		}
	}

	return ipc.OK(map[string]any{
		"screenshot": shot,
		"windowId":   rec.WindowID,
	})
}

// previewCleanup runs exactly once per preview window. An empty path
// means the screenshot was saved and its temp ownership already released.
func (l *Loop) previewCleanup(rec windows.Record) {
	if rec.ScreenshotPath != "" {
		if err := l.files.DeleteIfOwned(rec.ScreenshotPath); err != nil {
			l.log.Warn().Err(err).Str("path", rec.ScreenshotPath).Msg("Temp screenshot cleanup failed")
		}
	}
	l.shotMu.Lock()
	delete(l.shots, rec.ScreenshotID)
	l.shotMu.Unlock()
}

type windowSummary struct {
	WindowID     int64  `json:"windowId"`
	ScreenshotID string `json:"screenshotId"`
	Title        string `json:"title"`
}

func (l *Loop) listWindows() []windowSummary {
	recs := l.wins.List()
	out := make([]windowSummary, 0, len(recs))
	for _, r := range recs {
		out = append(out, windowSummary{
			WindowID:     r.WindowID,
			ScreenshotID: r.ScreenshotID,
			Title:        r.Title,
		})
	}
	return out
}

func (l *Loop) handlePreviewAction(req ipc.Request) ipc.Response {
	if req.Preview == nil {
		return ipc.Fail("missing preview payload")
	}
	p := *req.Preview

	l.shotMu.Lock()
	shot, ok := l.shots[p.ScreenshotID]
	l.shotMu.Unlock()
	if !ok {
		return ipc.Fail(fmt.Sprintf("unknown screenshot %q", p.ScreenshotID))
	}

	switch p.Action {
	case ipc.ActionSave:
		return l.saveScreenshot(shot, p)
	case ipc.ActionCopyImage:
		return l.copyScreenshot(shot, p.Borders)
	case ipc.ActionCopyOriginal:
		return l.copyScreenshot(shot, nil)
	case ipc.ActionCopyPath:
		if err := l.clip.WriteText(shot.FilePath); err != nil {
			return ipc.Fail(fmt.Sprintf("clipboard write: %v", err))
		}
		return ipc.OK(nil)
	case ipc.ActionDiscard:
		rec, found := l.wins.LookupByScreenshot(shot.ID)
		if !found {
			return ipc.Fail(fmt.Sprintf("no window for screenshot %q", shot.ID))
		}
		if err := l.wins.ClosePreview(rec.WindowID); err != nil {
			return ipc.Fail(err.Error())
		}
		return ipc.OK(nil)
	default:
		return ipc.Fail(fmt.Sprintf("unknown preview action %q", p.Action))
	}
}

// saveScreenshot writes the final image to the user's destination, then
// releases temp ownership so the window-close cleanup becomes a no-op.
// The copy happens before ownership changes; a failed save leaves the
// temp file and its cleanup untouched.
func (l *Loop) saveScreenshot(shot capture.Screenshot, p ipc.PreviewAction) ipc.Response {
	if p.DestPath == "" {
		return ipc.Fail("missing save destination")
	}

	if len(p.Borders) == 0 && (p.Format == "" || p.Format == imaging.FormatPNG) {
		if _, err := l.files.PromoteToPermanent(shot.FilePath, p.DestPath); err != nil {
			return ipc.Fail(err.Error())
		}
	} else {
		data, err := l.composite(shot, p.Borders, p.Format, p.Quality)
		if err != nil {
			return ipc.Fail(err.Error())
		}
		if err := os.WriteFile(p.DestPath, data, 0o644); err != nil {
			return ipc.Fail(fmt.Sprintf("write %s: %v", p.DestPath, err))
		}
	}

	l.files.Release(shot.FilePath)
	if rec, found := l.wins.LookupByScreenshot(shot.ID); found {
		if err := l.wins.UpdateScreenshotPath(rec.WindowID, ""); err != nil {
			l.log.Warn().Err(err).Int64("window", rec.WindowID).Msg("Window record not updated after save")
		}
	}

	l.log.Info().Str("screenshot", shot.ID).Str("dest", p.DestPath).Msg("Screenshot saved")
	return ipc.OK(map[string]string{"path": p.DestPath})
}

func (l *Loop) copyScreenshot(shot capture.Screenshot, borders imaging.List) ipc.Response {
	var data []byte
	var err error
	if len(borders) == 0 {
		data, err = os.ReadFile(shot.FilePath)
		if err != nil {
			return ipc.Fail(fmt.Sprintf("read %s: %v", shot.FilePath, err))
		}
	} else {
		data, err = l.composite(shot, borders, imaging.FormatPNG, 0)
		if err != nil {
			return ipc.Fail(err.Error())
		}
	}
	if err := l.clip.WriteImage(data); err != nil {
		return ipc.Fail(fmt.Sprintf("clipboard write: %v", err))
	}
	return ipc.OK(nil)
}

func (l *Loop) composite(shot capture.Screenshot, borders imaging.List, format string, quality int) ([]byte, error) {
	raw, err := os.ReadFile(shot.FilePath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", shot.FilePath, err)
	}
	img, err := imaging.Decode(raw)
	if err != nil {
		return nil, err
	}
	if len(borders) > 0 {
		img = imaging.RenderAnnotations(img, borders)
	}
	return imaging.Serialize(img, format, quality)
}
