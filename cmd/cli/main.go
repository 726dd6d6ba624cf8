package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"snapcrop/src/ipc"
	"snapcrop/src/selection"
	"snapcrop/src/theme"
)

// snapcrop-cli drives a resident instance over the control connection.
// Useful for scripting captures and for poking the resident while
// developing the preview frontend.

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "snapcrop-cli",
		Short:         "Control a resident snapcrop instance",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		opCmd("status", "Show resident state", ipc.Request{Op: ipc.OpStatus}),
		opCmd("capture", "Start a capture session", ipc.Request{Op: ipc.OpStartCapture}),
		opCmd("cancel", "Cancel the active capture session", ipc.Request{Op: ipc.OpCancelCapture}),
		opCmd("quit", "Stop the resident instance", ipc.Request{Op: ipc.OpQuit}),
		newSelectCmd(),
		newThemeCmd(),
		opCmd("settings", "Print the stored settings", ipc.Request{Op: ipc.OpGetSettings}),
	)
	return root
}

func opCmd(use, short string, req ipc.Request) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(req)
		},
	}
}

func newSelectCmd() *cobra.Command {
	var sessionID string
	var x, y, w, h float64
	var displayIndex int

	cmd := &cobra.Command{
		Use:   "select",
		Short: "Submit a selection rectangle for the active session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			idx := displayIndex
			return send(ipc.Request{
				Op:        ipc.OpProcessSelection,
				SessionID: sessionID,
				Selection: &selection.Raw{
					X: x, Y: y, Width: w, Height: h,
					DisplayIndex: &idx,
				},
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id from the capture command")
	cmd.Flags().Float64Var(&x, "x", 0, "Selection left edge")
	cmd.Flags().Float64Var(&y, "y", 0, "Selection top edge")
	cmd.Flags().Float64Var(&w, "width", 0, "Selection width")
	cmd.Flags().Float64Var(&h, "height", 0, "Selection height")
	cmd.Flags().IntVar(&displayIndex, "display", 0, "Display index")
	return cmd
}

func newThemeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "theme [light|dark|system]",
		Short: "Get or set the theme preference",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return send(ipc.Request{Op: ipc.OpGetTheme})
			}
			if !theme.Valid(args[0]) {
				return fmt.Errorf("invalid theme %q", args[0])
			}
			return send(ipc.Request{Op: ipc.OpSetTheme, Theme: args[0]})
		},
	}
	return cmd
}

func send(req ipc.Request) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	addr := ipc.FindResident(ctx)
	if addr == "" {
		return fmt.Errorf("no resident instance found")
	}
	resp, err := ipc.Send(ctx, addr, req)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s", resp.Message)
	}
	if len(resp.Data) > 0 {
		var pretty any
		if err := json.Unmarshal(resp.Data, &pretty); err == nil {
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(out))
		} else {
			fmt.Println(string(resp.Data))
		}
	} else {
		fmt.Println("ok")
	}
	return nil
}
