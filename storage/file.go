package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/token-registry-sync/interfaces"
)

// FileBackend archives artifacts in a local directory, one subdirectory per
// artifact kind.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates baseDir and the per-kind subdirectories if needed.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	for _, kind := range []interfaces.ArtifactKind{interfaces.SnapshotArtifact, interfaces.OutcomeArtifact} {
		if err := os.MkdirAll(filepath.Join(baseDir, kind.String()), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", kind, err)
		}
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Fetch returns ErrContentNotFound if the artifact does not exist.
func (b *FileBackend) Fetch(ctx context.Context, id interfaces.ContentID, kind interfaces.ArtifactKind) ([]byte, error) {
	filePath := b.filePath(id, kind)

	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, interfaces.ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	b.log.Debug("Fetched artifact from file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))
	return data, nil
}

// Store writes data under its SHA-256. Storing the same artifact twice is a
// no-op rewrite.
func (b *FileBackend) Store(ctx context.Context, data []byte, kind interfaces.ArtifactKind) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	filePath := b.filePath(id, kind)

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return id, fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to a temp file first so a concurrent Fetch never sees a partial artifact.
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return id, fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		os.Remove(tmp)
		return id, fmt.Errorf("failed to write file: %w", err)
	}

	b.log.Debug("Stored artifact in file",
		slog.String("path", filePath),
		slog.String("contentID", id.String()))
	return id, nil
}

func (b *FileBackend) Available(ctx context.Context) bool {
	if _, err := os.Stat(b.baseDir); err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) filePath(id interfaces.ContentID, kind interfaces.ArtifactKind) string {
	return filepath.Join(b.baseDir, kind.String(), id.String()+".json")
}
