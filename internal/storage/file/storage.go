package file

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/aliskhannn/toolbox/internal/artifact"
)

// Storage keeps uploaded source files on the local filesystem.
// Uploads are ephemeral: the sweeper deletes them together with their record.
type Storage struct {
	basePath string
}

// NewStorage creates a new Storage rooted at basePath.
func NewStorage(basePath string) *Storage {
	return &Storage{basePath: basePath}
}

// Save writes src under a fresh unique name that keeps the extension of filename.
// It returns the stored path and the number of bytes written.
func (s *Storage) Save(filename string, src io.Reader) (string, int64, error) {
	if err := os.MkdirAll(s.basePath, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create directory %s: %w", s.basePath, err)
	}

	ext := strings.ToLower(filepath.Ext(artifact.SafeBase(filename)))
	dstPath := filepath.Join(s.basePath, "upload_"+uuid.NewString()+ext)

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create file %s: %w", dstPath, err)
	}

	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dstPath)
		return "", 0, fmt.Errorf("failed to save file %s: %w", dstPath, err)
	}

	return dstPath, n, nil
}

// Remove deletes a stored file. Missing files are not an error.
func (s *Storage) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove file %s: %w", path, err)
	}

	return nil
}
