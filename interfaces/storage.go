package interfaces

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ContentID is the SHA-256 of an archived document.
type ContentID [32]byte

// NewContentIDFromHex parses a 64 character hex id, with or without 0x prefix.
func NewContentIDFromHex(source string) (ContentID, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return ContentID{}, errors.New("invalid content ID length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return ContentID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var id ContentID
	copy(id[:], raw)
	return id, nil
}

// ComputeID calculates content ID from data.
func ComputeID(data []byte) ContentID {
	return ContentID(sha256.Sum256(data))
}

func (id ContentID) String() string {
	return hex.EncodeToString(id[:])
}

// ArtifactKind selects the archive namespace.
type ArtifactKind int

const (
	// SnapshotArtifact is a JSON encoded RegistrySnapshot.
	SnapshotArtifact ArtifactKind = iota
	// OutcomeArtifact is a JSON encoded terminal transaction outcome.
	OutcomeArtifact
)

func (k ArtifactKind) String() string {
	switch k {
	case SnapshotArtifact:
		return "snapshots"
	case OutcomeArtifact:
		return "outcomes"
	default:
		return "unknown"
	}
}

// ParseArtifactKind is the inverse of ArtifactKind.String.
func ParseArtifactKind(s string) (ArtifactKind, error) {
	switch s {
	case "snapshots", "snapshot":
		return SnapshotArtifact, nil
	case "outcomes", "outcome":
		return OutcomeArtifact, nil
	default:
		return 0, fmt.Errorf("unknown artifact kind %q", s)
	}
}

// StorageBackendLocation is a parsed archive backend URI.
type StorageBackendLocation struct {
	Raw    string
	Scheme string
	Host   string
	Path   string
	Query  url.Values
	Auth   string
}

// NewStorageBackendLocation parses and validates a backend URI.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageBackendLocation{}, fmt.Errorf("%w: %w", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "file", "s3", "ipfs", "vault":
	default:
		return StorageBackendLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StorageBackendLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

func (loc StorageBackendLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc StorageBackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc StorageBackendLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

var (
	// ErrContentNotFound is returned when an artifact is not present in the backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned for malformed or unsupported backend URIs.
	// URIs follow [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// StorageBackend is a content-addressed archive of snapshots and outcomes.
type StorageBackend interface {
	Fetch(ctx context.Context, id ContentID, kind ArtifactKind) ([]byte, error)
	Store(ctx context.Context, data []byte, kind ArtifactKind) (ContentID, error)
	Available(ctx context.Context) bool
	// Name identifies the backend in logs.
	Name() string
	LocationURI() string
}
