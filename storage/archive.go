package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ruteri/token-registry-sync/interfaces"
)

// Archive stores registry snapshots and transaction outcomes as
// content-addressed JSON documents.
type Archive struct {
	backend interfaces.StorageBackend
	log     *slog.Logger
}

func NewArchive(backend interfaces.StorageBackend, log *slog.Logger) *Archive {
	return &Archive{backend: backend, log: log}
}

// Archive encodes v as JSON and stores it under kind.
func (a *Archive) Archive(ctx context.Context, kind interfaces.ArtifactKind, v interface{}) (interfaces.ContentID, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return interfaces.ContentID{}, fmt.Errorf("encoding %s artifact: %w", kind, err)
	}
	id, err := a.backend.Store(ctx, data, kind)
	if err != nil {
		return id, err
	}
	a.log.Debug("artifact archived", "kind", kind.String(), "contentID", id.String(), "backend", a.backend.Name())
	return id, nil
}

// Publish archives an installed registry snapshot.
func (a *Archive) Publish(ctx context.Context, snapshot *interfaces.RegistrySnapshot) (interfaces.ContentID, error) {
	return a.Archive(ctx, interfaces.SnapshotArtifact, snapshot)
}

// Fetch returns the raw JSON document, verifying it matches id.
func (a *Archive) Fetch(ctx context.Context, kind interfaces.ArtifactKind, id interfaces.ContentID) ([]byte, error) {
	data, err := a.backend.Fetch(ctx, id, kind)
	if err != nil {
		return nil, err
	}
	if got := interfaces.ComputeID(data); got != id {
		return nil, fmt.Errorf("archived %s %s is corrupt: content hashes to %s", kind, id, got)
	}
	return data, nil
}

// Snapshot fetches and decodes an archived snapshot.
func (a *Archive) Snapshot(ctx context.Context, id interfaces.ContentID) (*interfaces.RegistrySnapshot, error) {
	data, err := a.Fetch(ctx, interfaces.SnapshotArtifact, id)
	if err != nil {
		return nil, err
	}
	var snapshot interfaces.RegistrySnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", id, err)
	}
	return &snapshot, nil
}
