// Package document loads and stores the textual content of files.
//
// Content is addressed by the file's resource id. Before an analysis
// overwrites a file, a backup copy is taken so the previous annotated
// version can be restored.
package document

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/occurrence"
)

// Manager reads and writes file content.
type Manager interface {
	// LoadContent returns the content of file, or ErrNotFound.
	LoadContent(ctx context.Context, file occurrence.ResourceID) (string, error)

	// Exists reports whether file has stored content.
	Exists(ctx context.Context, file occurrence.ResourceID) (bool, error)

	// SaveContent replaces the content of file.
	SaveContent(ctx context.Context, file occurrence.ResourceID, content io.Reader) error

	// CreateBackup copies the current content of file and returns the backup name.
	CreateBackup(ctx context.Context, file occurrence.ResourceID) (string, error)

	// Remove deletes the content of file. Backups are kept.
	Remove(ctx context.Context, file occurrence.ResourceID) error
}

// backupTimeFormat keeps backup names sortable and free of ':'.
const backupTimeFormat = "2006-01-02_150405.000"

// maxBackupAttempts bounds the counter suffixes tried for backups taken
// within the same millisecond.
const maxBackupAttempts = 100

// objectName maps a resource id onto a single safe path segment.
func objectName(file occurrence.ResourceID) (string, error) {
	id := strings.TrimSpace(string(file))
	if id == "" || id == "." || id == ".." {
		return "", fmt.Errorf("%w: invalid file id %q", tmerrors.ErrValidation, file)
	}
	return url.PathEscape(id), nil
}

// backupName returns the n-th candidate name of a backup taken at. The first
// candidate carries no counter.
func backupName(name string, at time.Time, n int) string {
	b := name + "~" + at.UTC().Format(backupTimeFormat)
	if n > 0 {
		b += "." + strconv.Itoa(n)
	}
	return b
}
