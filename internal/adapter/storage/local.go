package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/semmidev/snapvault/internal/domain"
)

// LocalStorage is the scratch directory dumps are written to before upload.
type LocalStorage struct {
	basePath string
	remove   func(string) error
}

func NewLocal(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return &LocalStorage{basePath: basePath, remove: os.Remove}, nil
}

func (l *LocalStorage) GetPath(filename string) string {
	return filepath.Join(l.basePath, filename)
}

// Remove deletes the artifact once and reports the result. A file that was
// never created is not an error.
func (l *LocalStorage) Remove(filename string) error {
	path := l.GetPath(filename)
	if err := l.remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &domain.CleanupError{Path: path, Err: err}
	}
	return nil
}
