package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"snapcrop/src/capture"
	"snapcrop/src/clipboard"
	"snapcrop/src/config"
	"snapcrop/src/display"
	"snapcrop/src/eventloop"
	"snapcrop/src/filestore"
	"snapcrop/src/ipc"
	"snapcrop/src/logutil"
	"snapcrop/src/overlay"
	"snapcrop/src/screenshot"
	"snapcrop/src/selection"
	"snapcrop/src/settings"
	"snapcrop/src/theme"
	"snapcrop/src/tray"
	"snapcrop/src/windows"
)

type mainOptions struct {
	captureOnce  bool
	quitResident bool
}

func newRootCmd(opts *mainOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "snapcrop",
		Short:         "Region screenshot capture with annotation previews",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}
	cmd.Flags().BoolVar(&opts.captureOnce, "capture-once", false,
		"Ask the resident instance to start a capture, then exit")
	cmd.Flags().BoolVar(&opts.quitResident, "quit", false,
		"Ask the resident instance to exit")
	return cmd
}

func main() {
	// Tray and overlay backends expect the main OS thread.
	runtime.LockOSThread()

	opts := &mainOptions{}
	if err := newRootCmd(opts).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts *mainOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logutil.Setup(cfg.LogLevel, cfg.EnableFileLogging)
	log := logutil.WithComponent("main")

	if opts.captureOnce || opts.quitResident {
		op := ipc.OpStartCapture
		if opts.quitResident {
			op = ipc.OpQuit
		}
		return delegate(op)
	}

	// Pre-flight: claim the control port to prove there is no resident,
	// then release it for the server to re-bind.
	startPort, _ := ipc.PortRange()
	addr := fmt.Sprintf("127.0.0.1:%d", startPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("another instance is already running on port %d", startPort)
	}
	_ = listener.Close()
	log.Info().Int("port", startPort).Msg("Resident instance starting")

	store := settings.NewStore(cfg.SettingsDir)
	files, err := filestore.NewStore(cfg.ScratchDir)
	if err != nil {
		return fmt.Errorf("open scratch store: %w", err)
	}

	wins := windows.NewManager(&windows.NullHost{})
	themes := theme.NewBroadcaster(store, wins, store.Current().Theme, theme.Light)

	orch := capture.New(capture.Options{
		Registry:       display.NewRegistry(),
		Source:         screenshot.NewGrabber(),
		Files:          files,
		Overlay:        overlay.NewSurface(),
		Limits:         selection.Limits{Max: cfg.MaxSelection},
		AcquireTimeout: time.Duration(cfg.CaptureTimeoutSec) * time.Second,
		ProcessTimeout: time.Duration(cfg.FileTimeoutSec) * time.Second,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := ipc.NewServer()
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start control listener: %w", err)
	}
	defer srv.Close()

	if err := clipboard.Init(); err != nil {
		log.Warn().Err(err).Msg("Clipboard unavailable, copy actions will fail")
	}

	loop := eventloop.New(eventloop.Options{
		Config:   cfg,
		Orch:     orch,
		Files:    files,
		Windows:  wins,
		Themes:   themes,
		Settings: store,
		Server:   srv,
	})
	loop.StartHotkey(cfg.Hotkey)

	loopDone := make(chan error, 1)
	go func() {
		loopDone <- loop.Run(ctx)
		tray.Quit()
	}()

	// Blocks until quit; must run on the locked main thread.
	tray.Run(tray.Callbacks{
		OnCapture: loop.TriggerCapture,
		OnCancel:  loop.Cancel,
		OnQuit:    loop.Quit,
	})

	stop()
	if err := <-loopDone; err != nil && ctx.Err() == nil {
		return err
	}
	log.Info().Msg("SnapCrop exited")
	return nil
}

// delegate sends one op to the resident instance and reports the result.
func delegate(op string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr := ipc.FindResident(ctx)
	if addr == "" {
		return fmt.Errorf("no resident instance found")
	}
	resp, err := ipc.Send(ctx, addr, ipc.Request{Op: op})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("resident refused: %s", resp.Message)
	}
	return nil
}
