package tray

import (
	"github.com/getlantern/systray"

	"snapcrop/src/logutil"
)

const (
	title          = "SnapCrop"
	tooltipIdle    = "SnapCrop: ready"
	tooltipBusy    = "SnapCrop: capture in progress"
	tooltipProcess = "SnapCrop: processing selection"
)

// Callbacks are the tray menu actions, all dispatched onto the event
// loop by the caller.
type Callbacks struct {
	OnCapture func()
	OnCancel  func()
	OnQuit    func()
}

var (
	busyCh = make(chan string, 8)
	cb     Callbacks
)

// Run starts the system tray and blocks until Quit. Must run on the main
// goroutine on platforms that require it.
func Run(callbacks Callbacks) {
	cb = callbacks
	systray.Run(onReady, onExit)
}

// Quit tears the tray down and unblocks Run.
func Quit() {
	systray.Quit()
}

// SetBusy flips the tray tooltip between idle and session-in-progress.
func SetBusy(state string) {
	select {
	case busyCh <- state:
	default:
	}
}

func onReady() {
	systray.SetTitle(title)
	systray.SetTooltip(tooltipIdle)

	mCapture := systray.AddMenuItem("Capture Region", "Start a region capture")
	mCancel := systray.AddMenuItem("Cancel Capture", "Cancel the active capture")
	systray.AddSeparator()
	mQuit := systray.AddMenuItem("Quit", "Exit SnapCrop")

	log := logutil.WithComponent("tray")
	log.Info().Msg("System tray ready")

	go func() {
		for {
			select {
			case <-mCapture.ClickedCh:
				if cb.OnCapture != nil {
					cb.OnCapture()
				}
			case <-mCancel.ClickedCh:
				if cb.OnCancel != nil {
					cb.OnCancel()
				}
			case <-mQuit.ClickedCh:
				if cb.OnQuit != nil {
					cb.OnQuit()
				}
				systray.Quit()
			case state := <-busyCh:
				switch state {
				case "capturing", "awaiting-selection":
					systray.SetTooltip(tooltipBusy)
				case "processing":
					systray.SetTooltip(tooltipProcess)
				default:
					systray.SetTooltip(tooltipIdle)
				}
			}
		}
	}()
}

func onExit() {}
