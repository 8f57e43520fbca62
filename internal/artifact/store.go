// Package artifact stores uploaded audio blobs on the local filesystem,
// keyed by a generated identifier.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrUnavailable is returned when the backing filesystem cannot be used.
var ErrUnavailable = errors.New("artifact storage unavailable")

// ErrNotFound is returned when no artifact exists for an id.
var ErrNotFound = errors.New("artifact not found")

// Store writes and reads audio artifacts under a single directory. The
// artifact id doubles as the filename (uuid plus the original extension) so
// lookups need no index.
type Store struct {
	dir string
}

// NewStore creates the storage directory if needed and returns a Store.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrUnavailable, dir, err)
	}
	return &Store{dir: dir}, nil
}

// Put stores data and returns the generated artifact id. ext is the original
// file extension including the dot (".wav").
func (s *Store) Put(data []byte, ext string) (string, error) {
	id := uuid.New().String() + strings.ToLower(ext)
	if err := os.WriteFile(s.pathFor(id), data, 0o644); err != nil {
		return "", fmt.Errorf("%w: write artifact: %v", ErrUnavailable, err)
	}
	return id, nil
}

// Get returns the raw bytes for an artifact id.
func (s *Store) Get(id string) ([]byte, error) {
	data, err := os.ReadFile(s.pathFor(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read artifact %s: %v", ErrUnavailable, id, err)
	}
	return data, nil
}

// Path returns the on-disk location of an artifact so the transcription
// pipeline can hand it to external tools without copying.
func (s *Store) Path(id string) (string, error) {
	p := s.pathFor(id)
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return "", ErrNotFound
	} else if err != nil {
		return "", fmt.Errorf("%w: stat artifact %s: %v", ErrUnavailable, id, err)
	}
	return p, nil
}

// Remove deletes an artifact. Removing an already-missing artifact is not an
// error.
func (s *Store) Remove(id string) error {
	if err := os.Remove(s.pathFor(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove artifact %s: %v", ErrUnavailable, id, err)
	}
	return nil
}

// Dir returns the storage directory, used by the cleanup scheduler.
func (s *Store) Dir() string {
	return s.dir
}

// pathFor flattens the id to a bare filename so a crafted id cannot escape
// the storage directory.
func (s *Store) pathFor(id string) string {
	return filepath.Join(s.dir, filepath.Base(id))
}
