package theme

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"snapcrop/src/logutil"
)

// Theme preference values. System defers to the OS appearance.
const (
	Light  = "light"
	Dark   = "dark"
	System = "system"
)

// Channel is the window channel theme updates are delivered on.
const Channel = "theme-updated"

var ErrInvalidTheme = errors.New("invalid theme")

// Info is the resolved theme snapshot pushed to every window.
type Info struct {
	Current   string `json:"currentTheme"`
	Effective string `json:"effectiveTheme"`
	System    string `json:"systemTheme"`
}

// Persister stores the theme preference durably. settings.Store
// implements it.
type Persister interface {
	SaveTheme(pref string) error
}

// Sink fans a payload out to all live windows. windows.Manager
// implements it.
type Sink interface {
	Broadcast(channel string, payload json.RawMessage)
}

// Broadcaster resolves the effective theme from the stored preference and
// the OS appearance, and pushes every change to all windows.
type Broadcaster struct {
	persister Persister
	sink      Sink
	log       zerolog.Logger

	mu     sync.Mutex
	pref   string
	system string
}

// NewBroadcaster starts from a stored preference and the current OS
// appearance. Unknown values degrade to the defaults rather than fail.
func NewBroadcaster(persister Persister, sink Sink, pref, systemTheme string) *Broadcaster {
	if !Valid(pref) {
		pref = System
	}
	if systemTheme != Light && systemTheme != Dark {
		systemTheme = Light
	}
	return &Broadcaster{
		persister: persister,
		sink:      sink,
		log:       logutil.WithComponent("theme"),
		pref:      pref,
		system:    systemTheme,
	}
}

// Valid reports whether s is an accepted theme preference.
func Valid(s string) bool {
	return s == Light || s == Dark || s == System
}

// Current returns the resolved snapshot.
func (b *Broadcaster) Current() Info {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Broadcaster) snapshotLocked() Info {
	effective := b.pref
	if b.pref == System {
		effective = b.system
	}
	return Info{Current: b.pref, Effective: effective, System: b.system}
}

// SetPreference updates the preference, persists it, and broadcasts the
// new snapshot. Persistence failure is logged but does not block the
// broadcast; the in-memory preference always reflects the user's choice.
func (b *Broadcaster) SetPreference(pref string) (Info, error) {
	if !Valid(pref) {
		return Info{}, fmt.Errorf("%w: %q", ErrInvalidTheme, pref)
	}

	b.mu.Lock()
	b.pref = pref
	info := b.snapshotLocked()
	b.mu.Unlock()

	if b.persister != nil {
		if err := b.persister.SaveTheme(pref); err != nil {
			b.log.Warn().Err(err).Str("theme", pref).Msg("Theme preference not persisted")
		}
	}
	b.broadcast(info)
	return info, nil
}

// SystemChanged records a change of OS appearance. A broadcast goes out
// only when the resolved snapshot actually changed.
func (b *Broadcaster) SystemChanged(systemTheme string) {
	if systemTheme != Light && systemTheme != Dark {
		return
	}

	b.mu.Lock()
	before := b.snapshotLocked()
	b.system = systemTheme
	after := b.snapshotLocked()
	b.mu.Unlock()

	if after == before {
		return
	}
	b.broadcast(after)
}

func (b *Broadcaster) broadcast(info Info) {
	if b.sink == nil {
		return
	}
	payload, err := json.Marshal(info)
	if err != nil {
		b.log.Error().Err(err).Msg("Theme snapshot marshal failed")
		return
	}
	b.log.Debug().Str("effective", info.Effective).Msg("Broadcasting theme")
	b.sink.Broadcast(Channel, payload)
}
