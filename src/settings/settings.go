package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"snapcrop/src/logutil"
)

// CurrentVersion is stamped onto every saved settings record.
const CurrentVersion = 1

const fileName = "settings.json"

// Settings is the single durable record this application persists.
type Settings struct {
	Theme       string            `json:"theme"`
	Shortcuts   map[string]string `json:"shortcuts"`
	Version     int               `json:"version"`
	LastUpdated string            `json:"lastUpdated"`
}

// Defaults returns the record used when no settings file exists or the
// existing one cannot be parsed.
func Defaults() Settings {
	return Settings{
		Theme:     "system",
		Shortcuts: map[string]string{},
		Version:   CurrentVersion,
	}
}

// Store persists the settings record as a JSON file. When the settings
// directory cannot be created the store degrades to in-memory operation
// instead of failing startup.
type Store struct {
	mu         sync.Mutex
	v          *viper.Viper
	path       string
	memoryOnly bool
	current    Settings
	now        func() time.Time
}

// NewStore opens (or initializes) the settings store rooted at dir.
func NewStore(dir string) *Store {
	s := &Store{current: Defaults(), now: time.Now}

	if dir == "" {
		s.memoryOnly = true
		return s
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger := logutil.WithComponent("settings")
		logger.Warn().Err(err).Str("dir", dir).
			Msg("Settings directory uncreatable, using in-memory settings")
		s.memoryOnly = true
		return s
	}

	s.path = filepath.Join(dir, fileName)
	s.v = viper.New()
	s.v.SetConfigFile(s.path)
	s.v.SetConfigType("json")
	s.v.SetDefault("theme", "system")
	s.v.SetDefault("version", CurrentVersion)

	// Missing or corrupted files silently fall back to defaults.
	if err := s.v.ReadInConfig(); err != nil {
		logger := logutil.WithComponent("settings")
		logger.Debug().Err(err).Str("path", s.path).
			Msg("No readable settings file, starting from defaults")
		return s
	}

	loaded := Settings{
		Theme:       s.v.GetString("theme"),
		Shortcuts:   s.v.GetStringMapString("shortcuts"),
		Version:     s.v.GetInt("version"),
		LastUpdated: s.v.GetString("lastUpdated"),
	}
	if !validTheme(loaded.Theme) {
		loaded.Theme = "system"
	}
	if loaded.Shortcuts == nil {
		loaded.Shortcuts = map[string]string{}
	}
	if loaded.Version == 0 {
		loaded.Version = CurrentVersion
	}
	s.current = loaded
	return s
}

// Current returns a copy of the loaded settings.
func (s *Store) Current() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Save validates and persists a full settings record.
func (s *Store) Save(in Settings) (Settings, error) {
	if !validTheme(in.Theme) {
		return Settings{}, fmt.Errorf("invalid theme %q", in.Theme)
	}
	if in.Shortcuts == nil {
		in.Shortcuts = map[string]string{}
	}
	in.Version = CurrentVersion
	in.LastUpdated = s.now().UTC().Format(time.RFC3339)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = in
	if err := s.writeLocked(); err != nil {
		return Settings{}, err
	}
	return s.snapshotLocked(), nil
}

// SaveTheme persists only the theme preference, keeping the rest of the
// record intact. Satisfies theme.Persister.
func (s *Store) SaveTheme(pref string) error {
	if !validTheme(pref) {
		return fmt.Errorf("invalid theme %q", pref)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Theme = pref
	s.current.LastUpdated = s.now().UTC().Format(time.RFC3339)
	return s.writeLocked()
}

// MemoryOnly reports whether the store degraded to in-memory operation.
func (s *Store) MemoryOnly() bool { return s.memoryOnly }

func (s *Store) writeLocked() error {
	if s.memoryOnly {
		return nil
	}
	s.v.Set("theme", s.current.Theme)
	s.v.Set("shortcuts", s.current.Shortcuts)
	s.v.Set("version", s.current.Version)
	s.v.Set("lastUpdated", s.current.LastUpdated)
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write settings %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) snapshotLocked() Settings {
	out := s.current
	out.Shortcuts = make(map[string]string, len(s.current.Shortcuts))
	for k, v := range s.current.Shortcuts {
		out.Shortcuts[k] = v
	}
	return out
}

func validTheme(t string) bool {
	switch t {
	case "light", "dark", "system":
		return true
	}
	return false
}
