package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/token-registry-sync/interfaces"
)

// MultiStorageBackend writes every artifact to all available backends and
// reads from the first one that has it.
type MultiStorageBackend struct {
	backends []interfaces.StorageBackend
	log      *slog.Logger
}

func NewMultiStorageBackend(backends []interfaces.StorageBackend, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiStorageBackend{
		backends: backends,
		log:      logger,
	}
}

// Fetch returns ErrContentNotFound only if every backend was reachable and
// none had the artifact.
func (m *MultiStorageBackend) Fetch(ctx context.Context, id interfaces.ContentID, kind interfaces.ArtifactKind) ([]byte, error) {
	var errs []error
	notFound := 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), interfaces.ErrBackendUnavailable))
			continue
		}

		data, err := backend.Fetch(ctx, id, kind)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, interfaces.ErrContentNotFound) {
			notFound++
		}
		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Debug("Failed to fetch from backend",
			slog.String("backend_name", backend.Name()),
			slog.String("content_id", id.String()),
			"err", err)
	}

	if len(m.backends) > 0 && notFound == len(m.backends) {
		return nil, interfaces.ErrContentNotFound
	}
	return nil, fmt.Errorf("all backends failed to fetch %s: %w", id, errors.Join(errs...))
}

// Store succeeds if at least one backend accepted the artifact.
func (m *MultiStorageBackend) Store(ctx context.Context, data []byte, kind interfaces.ArtifactKind) (interfaces.ContentID, error) {
	start := time.Now()
	id := interfaces.ComputeID(data)
	stored := 0
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), interfaces.ErrBackendUnavailable))
			continue
		}

		got, err := backend.Store(ctx, data, kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Warn("Failed to store to backend", slog.String("backend_name", backend.Name()), "err", err)
			continue
		}
		if got != id {
			m.log.Warn("Inconsistent content id from backend",
				slog.String("backend_name", backend.Name()),
				slog.String("expected_id", id.String()),
				slog.String("actual_id", got.String()))
		}
		stored++
	}

	if stored == 0 {
		return id, fmt.Errorf("all backends failed to store artifact: %w", errors.Join(errs...))
	}

	m.log.Debug("Stored artifact",
		slog.String("content_id", id.String()),
		slog.Int("backends", stored),
		slog.Duration("duration", time.Since(start)))
	return id, nil
}

// Available reports whether any backend is available.
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

func (m *MultiStorageBackend) LocationURI() string {
	locations := make([]string, 0, len(m.backends))
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}
	return "multi:[" + strings.Join(locations, ",") + "]"
}
