package ipc

import (
	"encoding/json"

	"snapcrop/src/imaging"
	"snapcrop/src/selection"
	"snapcrop/src/settings"
)

// Operations carried on the control connection. One JSON request line per
// connection, one JSON response line back.
const (
	OpStartCapture     = "start-capture"
	OpCancelCapture    = "cancel-capture"
	OpProcessSelection = "process-selection"
	OpPreviewAction    = "preview-action"
	OpWindowClosed     = "window-closed"
	OpCloseWindow      = "close-window"
	OpListWindows      = "get-open-windows"
	OpSetTheme         = "set-theme"
	OpGetTheme         = "get-theme"
	OpGetSettings      = "get-settings"
	OpSaveSettings     = "save-settings"
	OpStatus           = "status"
	OpQuit             = "quit"
)

// Preview window actions.
const (
	ActionSave         = "save"
	ActionCopyImage    = "copy-image"
	ActionCopyOriginal = "copy-original"
	ActionCopyPath     = "copy-path"
	ActionDiscard      = "discard"
)

// Request is one control-connection request. Only the fields relevant to
// the op are populated.
type Request struct {
	Op        string             `json:"op"`
	SessionID string             `json:"sessionId,omitempty"`
	Selection *selection.Raw     `json:"selection,omitempty"`
	Preview   *PreviewAction     `json:"preview,omitempty"`
	WindowID  int64              `json:"windowId,omitempty"`
	Theme     string             `json:"theme,omitempty"`
	Settings  *settings.Settings `json:"settings,omitempty"`
}

// PreviewAction describes what to do with a previewed screenshot.
// Borders carries the annotation set to composite before save or copy;
// copy-original ignores it.
type PreviewAction struct {
	Action       string       `json:"action"`
	ScreenshotID string       `json:"screenshotId"`
	DestPath     string       `json:"destPath,omitempty"`
	Borders      imaging.List `json:"borders,omitempty"`
	Format       string       `json:"format,omitempty"`
	Quality      int          `json:"quality,omitempty"`
}

// Response is the single reply line for a request. Data holds op-specific
// payload (session info, theme snapshot, settings).
type Response struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// OK wraps v as a successful response.
func OK(v any) Response {
	if v == nil {
		return Response{Success: true}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Response{Success: false, Message: "response marshal failed: " + err.Error()}
	}
	return Response{Success: true, Data: data}
}

// Fail builds an error response.
func Fail(msg string) Response {
	return Response{Success: false, Message: msg}
}
