package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// FileStore keeps one small file per key, like the opener's flash files.
// Writes go through a temp file and rename, so a crash leaves either the old
// or the new value on disk, never a torn one.
type FileStore struct {
	dir string
}

// OpenFileStore creates dir if needed and returns a store rooted there
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key)
}

// Read returns the value stored under key; ok is false when absent
func (s *FileStore) Read(key string) (uint32, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if len(data) != 4 {
		return 0, false, fmt.Errorf("failed to read %s: unexpected size %d", key, len(data))
	}
	return binary.LittleEndian.Uint32(data), true, nil
}

// Write stores value under key
func (s *FileStore) Write(key string, value uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	if err := renameio.WriteFile(s.path(key), buf[:], 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
