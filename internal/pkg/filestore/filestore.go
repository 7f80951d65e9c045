package filestore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store writes uploaded files under a single directory, each renamed to a
// generated UUID so original names never touch the filesystem.
type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir failed: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes data under a fresh name keeping only the extension, and
// returns that name.
func (s *Store) Save(data []byte, ext string) (string, error) {
	name := uuid.NewString() + strings.ToLower(ext)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write upload file failed: %w", err)
	}
	return name, nil
}

// Remove deletes a stored file. A missing file is not an error.
func (s *Store) Remove(storedName string) error {
	err := os.Remove(filepath.Join(s.dir, storedName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove upload file failed: %w", err)
	}
	return nil
}

// Path returns the on-disk location of a stored file.
func (s *Store) Path(storedName string) string {
	return filepath.Join(s.dir, storedName)
}
