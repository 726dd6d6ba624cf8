package windows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"snapcrop/src/logutil"
)

// Preview window sizing. Window dimensions track the screenshot plus
// chrome padding, capped so oversized captures open scrolled instead of
// off-screen.
const (
	MaxWindowWidth  = 1400
	MaxWindowHeight = 900
	ChromePadding   = 40
)

var ErrUnknownWindow = errors.New("unknown window id")

// Host is the native windowing backend. The manager never touches window
// handles directly; it asks the host to open and close and receives
// closed-notifications back through Manager.HandleClosed.
type Host interface {
	// Open creates a preview window and returns its host-assigned id.
	Open(title string, width, height int) (int64, error)
	// Close requests that a window be torn down. The host must still
	// deliver the closed notification for it.
	Close(id int64) error
	// Send delivers a JSON payload to a window's named channel.
	Send(id int64, channel string, payload json.RawMessage) error
}

// NullHost satisfies Host with no real windows. Open hands out sequential
// ids and Close immediately reports success. Used headless and in tests.
type NullHost struct {
	mu   sync.Mutex
	next int64
}

func (h *NullHost) Open(string, int, int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	return h.next, nil
}

func (h *NullHost) Close(int64) error                         { return nil }
func (h *NullHost) Send(int64, string, json.RawMessage) error { return nil }

// Record ties a preview window to the screenshot it displays.
type Record struct {
	WindowID       int64
	ScreenshotID   string
	ScreenshotPath string
	Title          string
}

// CleanupFunc runs exactly once when a window leaves the registry, before
// the record is removed, so concurrent lookups during cleanup still
// resolve the window.
type CleanupFunc func(rec Record)

type entry struct {
	rec     Record
	cleanup CleanupFunc
	closed  bool
}

// Manager tracks live preview windows and guarantees each window's
// cleanup runs exactly once no matter how the window goes away (user
// close, programmatic close, shutdown sweep).
type Manager struct {
	host Host
	log  zerolog.Logger

	mu      sync.Mutex
	entries map[int64]*entry
	order   []int64
}

func NewManager(host Host) *Manager {
	return &Manager{
		host:    host,
		log:     logutil.WithComponent("windows"),
		entries: map[int64]*entry{},
	}
}

// WindowSize computes the preview window dimensions for an image.
func WindowSize(imgWidth, imgHeight int) (int, int) {
	w := imgWidth + ChromePadding
	h := imgHeight + ChromePadding
	if w > MaxWindowWidth {
		w = MaxWindowWidth
	}
	if h > MaxWindowHeight {
		h = MaxWindowHeight
	}
	return w, h
}

// OpenPreview opens a preview window for a screenshot and registers its
// cleanup. The cleanup must tolerate being the only deletion attempt for
// the screenshot's temp file.
func (m *Manager) OpenPreview(title, screenshotID, screenshotPath string, imgWidth, imgHeight int, cleanup CleanupFunc) (Record, error) {
	w, h := WindowSize(imgWidth, imgHeight)
	id, err := m.host.Open(title, w, h)
	if err != nil {
		return Record{}, fmt.Errorf("open preview window: %w", err)
	}
	rec := Record{
		WindowID:       id,
		ScreenshotID:   screenshotID,
		ScreenshotPath: screenshotPath,
		Title:          title,
	}

	m.mu.Lock()
	m.entries[id] = &entry{rec: rec, cleanup: cleanup}
	m.order = append(m.order, id)
	m.mu.Unlock()

	m.log.Info().Int64("window", id).Str("screenshot", screenshotID).Msg("Preview window opened")
	return rec, nil
}

// Lookup resolves a window id to its record.
func (m *Manager) Lookup(id int64) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %d", ErrUnknownWindow, id)
	}
	return e.rec, nil
}

// LookupByScreenshot resolves a screenshot id to the window showing it.
func (m *Manager) LookupByScreenshot(screenshotID string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.rec.ScreenshotID == screenshotID {
			return e.rec, true
		}
	}
	return Record{}, false
}

// UpdateScreenshotPath rewrites the path a window's record points at. An
// empty path records that the screenshot no longer has a temp file to
// clean (it was saved).
func (m *Manager) UpdateScreenshotPath(id int64, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownWindow, id)
	}
	e.rec.ScreenshotPath = path
	return nil
}

// Send delivers a payload to one window via the host.
func (m *Manager) Send(id int64, channel string, payload json.RawMessage) error {
	m.mu.Lock()
	_, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownWindow, id)
	}
	return m.host.Send(id, channel, payload)
}

// Broadcast delivers a payload to every live window. Send failures are
// logged per window and do not stop the fan-out.
func (m *Manager) Broadcast(channel string, payload json.RawMessage) {
	m.mu.Lock()
	ids := make([]int64, len(m.order))
	copy(ids, m.order)
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.host.Send(id, channel, payload); err != nil {
			m.log.Warn().Err(err).Int64("window", id).Str("channel", channel).
				Msg("Broadcast delivery failed")
		}
	}
}

// List returns the live window records in creation order.
func (m *Manager) List() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.order))
	for _, id := range m.order {
		if e, ok := m.entries[id]; ok {
			out = append(out, e.rec)
		}
	}
	return out
}

// Count returns the number of live windows.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// HandleClosed processes the host's closed-notification for a window:
// marks it closed, runs its cleanup, then removes the record. The closed
// flag makes the cleanup single-shot even if the host duplicates the
// notification or a programmatic close races a user close.
func (m *Manager) HandleClosed(id int64) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok || e.closed {
		m.mu.Unlock()
		return
	}
	e.closed = true
	rec := e.rec
	cleanup := e.cleanup
	m.mu.Unlock()

	if cleanup != nil {
		cleanup(rec)
	}

	m.mu.Lock()
	delete(m.entries, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.log.Info().Int64("window", id).Str("screenshot", rec.ScreenshotID).Msg("Preview window closed")
}

// ClosePreview programmatically closes a window. Cleanup runs via the
// host's closed-notification path; a NullHost host never delivers one,
// so the manager finishes the close itself when the host reports success.
func (m *Manager) ClosePreview(id int64) error {
	m.mu.Lock()
	_, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownWindow, id)
	}
	if err := m.host.Close(id); err != nil {
		return fmt.Errorf("close preview window %d: %w", id, err)
	}
	if _, isNull := m.host.(*NullHost); isNull {
		m.HandleClosed(id)
	}
	return nil
}

// CleanupAll closes every live window in insertion order, running each
// cleanup exactly once. Used at shutdown; the context bounds how long the
// sweep may run, and a cancelled context abandons the remainder rather
// than block exit.
func (m *Manager) CleanupAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]int64, len(m.order))
	copy(ids, m.order)
	m.mu.Unlock()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			m.log.Warn().Int64("window", id).Msg("Shutdown sweep abandoned by deadline")
			return err
		}
		_ = m.host.Close(id)
		m.HandleClosed(id)
	}
	return nil
}
