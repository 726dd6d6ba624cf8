package filestore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"snapcrop/src/logutil"
)

// Store allocates temp screenshot files in a scratch directory and tracks
// which paths are still temp-owned. Deletion of a path that was never
// owned, already deleted, or promoted is a successful no-op.
type Store struct {
	mu    sync.Mutex
	dir   string
	owned map[string]struct{}
}

// NewStore opens a store rooted at dir. An empty dir selects a snapcrop
// subdirectory of the system temp dir. If the directory cannot be created
// the store degrades to the system temp dir itself.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "snapcrop")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger := logutil.WithComponent("filestore")
		logger.Warn().Err(err).Str("dir", dir).
			Msg("Scratch directory uncreatable, falling back to system temp dir")
		dir = os.TempDir()
		if _, statErr := os.Stat(dir); statErr != nil {
			return nil, fmt.Errorf("open scratch dir %s: %w", dir, statErr)
		}
	}
	return &Store{dir: dir, owned: map[string]struct{}{}}, nil
}

// Dir returns the scratch directory.
func (s *Store) Dir() string { return s.dir }

// WriteTemp writes bytes to a uniquely named temp file, atomically
// (write to a partial file, then rename), and marks the path temp-owned.
func (s *Store) WriteTemp(data []byte) (string, error) {
	name := fmt.Sprintf("screenshot-%s.png", uuid.NewString())
	final := filepath.Join(s.dir, name)
	partial := final + ".part"

	if err := os.WriteFile(partial, data, 0o644); err != nil {
		return "", fmt.Errorf("write temp %s: %w", partial, err)
	}
	if err := os.Rename(partial, final); err != nil {
		_ = os.Remove(partial)
		return "", fmt.Errorf("finalize temp %s: %w", final, err)
	}

	s.mu.Lock()
	s.owned[final] = struct{}{}
	s.mu.Unlock()
	return final, nil
}

// PromoteToPermanent copies a temp file's content to a user-chosen
// destination. The temp copy is left in place; the caller clears its
// ownership record afterwards so later cleanup becomes a no-op
// (copy-then-clear-ownership, never move-then-fail).
func (s *Store) PromoteToPermanent(tempPath, destPath string) (string, error) {
	src, err := os.Open(tempPath)
	if err != nil {
		return "", fmt.Errorf("promote: open %s: %w", tempPath, err)
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("promote: create %s: %w", destPath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", fmt.Errorf("promote: copy to %s: %w", destPath, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("promote: close %s: %w", destPath, err)
	}
	return destPath, nil
}

// Release clears temp-ownership for a path without deleting the file.
// Used after a successful save.
func (s *Store) Release(path string) {
	s.mu.Lock()
	delete(s.owned, path)
	s.mu.Unlock()
}

// DeleteIfOwned deletes the file only while the path is still temp-owned.
// Repeat calls, released paths, and already-missing files all succeed.
func (s *Store) DeleteIfOwned(path string) error {
	s.mu.Lock()
	_, ok := s.owned[path]
	if ok {
		delete(s.owned, path)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// Owned reports whether the path is still temp-owned.
func (s *Store) Owned(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.owned[path]
	return ok
}
