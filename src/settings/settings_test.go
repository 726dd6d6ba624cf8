package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewStoreStartsFromDefaults(t *testing.T) {
	s := NewStore(t.TempDir())
	got := s.Current()
	if got.Theme != "system" {
		t.Errorf("default theme = %q, want system", got.Theme)
	}
	if got.Version != CurrentVersion {
		t.Errorf("default version = %d, want %d", got.Version, CurrentVersion)
	}
	if got.Shortcuts == nil {
		t.Error("default shortcuts map is nil")
	}
	if s.MemoryOnly() {
		t.Error("store degraded to memory with a usable directory")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	saved, err := s.Save(Settings{
		Theme:     "dark",
		Shortcuts: map[string]string{"capture": "Ctrl+Alt+S"},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saved.Version != CurrentVersion {
		t.Errorf("saved version = %d", saved.Version)
	}
	if _, err := time.Parse(time.RFC3339, saved.LastUpdated); err != nil {
		t.Errorf("lastUpdated %q not RFC3339: %v", saved.LastUpdated, err)
	}

	// A fresh store reads the same record back from disk.
	reloaded := NewStore(dir).Current()
	if reloaded.Theme != "dark" {
		t.Errorf("reloaded theme = %q", reloaded.Theme)
	}
	if reloaded.Shortcuts["capture"] != "Ctrl+Alt+S" {
		t.Errorf("reloaded shortcuts = %v", reloaded.Shortcuts)
	}
}

func TestSaveRejectsInvalidTheme(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Save(Settings{Theme: "sepia"}); err == nil {
		t.Error("expected invalid theme to fail")
	}
	// The stored record is untouched by the rejected save.
	if got := s.Current().Theme; got != "system" {
		t.Errorf("theme after rejected save = %q", got)
	}
}

func TestCorruptFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "settings.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(dir)
	if got := s.Current().Theme; got != "system" {
		t.Errorf("theme from corrupt file = %q, want system default", got)
	}
}

func TestInvalidStoredThemeNormalized(t *testing.T) {
	dir := t.TempDir()
	record := map[string]any{"theme": "neon", "version": 1}
	data, _ := json.Marshal(record)
	if err := os.WriteFile(filepath.Join(dir, "settings.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	if got := NewStore(dir).Current().Theme; got != "system" {
		t.Errorf("theme = %q, want normalized system", got)
	}
}

func TestMemoryOnlyDegradation(t *testing.T) {
	s := NewStore("")
	if !s.MemoryOnly() {
		t.Fatal("empty dir must degrade to memory-only")
	}
	// Saves still work for the session, they just do not persist.
	saved, err := s.Save(Settings{Theme: "light"})
	if err != nil {
		t.Fatalf("memory-only save failed: %v", err)
	}
	if saved.Theme != "light" || s.Current().Theme != "light" {
		t.Errorf("in-memory record not updated: %+v", s.Current())
	}
}

func TestSaveThemeKeepsOtherFields(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Save(Settings{
		Theme:     "light",
		Shortcuts: map[string]string{"capture": "F9"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveTheme("dark"); err != nil {
		t.Fatalf("SaveTheme failed: %v", err)
	}
	got := s.Current()
	if got.Theme != "dark" {
		t.Errorf("theme = %q", got.Theme)
	}
	if got.Shortcuts["capture"] != "F9" {
		t.Errorf("shortcuts lost: %v", got.Shortcuts)
	}
	if err := s.SaveTheme("neon"); err == nil {
		t.Error("expected invalid theme to fail")
	}
}
