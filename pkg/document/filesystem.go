package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/occurrence"
)

// FileSystemManager keeps file content under a root directory. Backups are
// written next to the file as <name>~<timestamp>.
type FileSystemManager struct {
	root string
	now  func() time.Time
}

// NewFileSystemManager creates a manager rooted at dir, creating it if needed.
func NewFileSystemManager(dir string) (*FileSystemManager, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: storage directory is required", tmerrors.ErrValidation)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &FileSystemManager{root: dir, now: time.Now}, nil
}

func (m *FileSystemManager) path(file occurrence.ResourceID) (string, error) {
	name, err := objectName(file)
	if err != nil {
		return "", err
	}
	return filepath.Join(m.root, name), nil
}

func (m *FileSystemManager) LoadContent(ctx context.Context, file occurrence.ResourceID) (string, error) {
	p, err := m.path(file)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("content of %s: %w", file, tmerrors.ErrNotFound)
		}
		return "", fmt.Errorf("reading content of %s: %w", file, err)
	}
	return string(data), nil
}

func (m *FileSystemManager) Exists(ctx context.Context, file occurrence.ResourceID) (bool, error) {
	p, err := m.path(file)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("checking content of %s: %w", file, err)
	}
}

// SaveContent writes to a temporary file and renames it into place, so
// readers never see a partial write.
func (m *FileSystemManager) SaveContent(ctx context.Context, file occurrence.ResourceID, content io.Reader) error {
	p, err := m.path(file)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(m.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("saving content of %s: %w", file, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		return fmt.Errorf("saving content of %s: %w", file, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("saving content of %s: %w", file, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("saving content of %s: %w", file, err)
	}
	return nil
}

func (m *FileSystemManager) CreateBackup(ctx context.Context, file occurrence.ResourceID) (string, error) {
	p, err := m.path(file)
	if err != nil {
		return "", err
	}
	src, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("content of %s: %w", file, tmerrors.ErrNotFound)
		}
		return "", fmt.Errorf("backing up %s: %w", file, err)
	}
	defer src.Close()

	name, dst, err := m.createBackupFile(filepath.Base(p))
	if err != nil {
		return "", fmt.Errorf("backing up %s: %w", file, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("backing up %s: %w", file, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("backing up %s: %w", file, err)
	}
	return name, nil
}

// createBackupFile creates a new backup file, adding a counter when a backup
// with the same timestamp already exists. Existing backups are never opened.
func (m *FileSystemManager) createBackupFile(base string) (string, *os.File, error) {
	at := m.now()
	for n := 0; n < maxBackupAttempts; n++ {
		name := backupName(base, at, n)
		f, err := os.OpenFile(filepath.Join(m.root, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return name, f, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", nil, err
		}
	}
	return "", nil, fmt.Errorf("%w: %d backups named %s", tmerrors.ErrConflict, maxBackupAttempts, backupName(base, at, 0))
}

func (m *FileSystemManager) Remove(ctx context.Context, file occurrence.ResourceID) error {
	p, err := m.path(file)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("content of %s: %w", file, tmerrors.ErrNotFound)
		}
		return fmt.Errorf("removing content of %s: %w", file, err)
	}
	return nil
}
