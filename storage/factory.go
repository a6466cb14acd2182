package storage

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/token-registry-sync/interfaces"
)

// StorageBackendFactory creates archive backends from location URIs.
type StorageBackendFactory struct {
	log *slog.Logger
}

func NewStorageBackendFactory(logger *slog.Logger) *StorageBackendFactory {
	return &StorageBackendFactory{log: logger}
}

// StorageBackendFor creates a backend for one location:
//
//	file:///var/lib/token-registry/archive
//	s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=eu-west-1&endpoint=http://minio:9000&path_style=true
//	ipfs://127.0.0.1:5001/?timeout=30s
//	vault://[TOKEN@]vault.example.com:8200/secret/token-registry?tls=true
func (sf *StorageBackendFactory) StorageBackendFor(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating storage backend", slog.String("scheme", loc.Scheme), slog.String("host", loc.Host))

	switch loc.Scheme {
	case "file":
		return sf.createFileBackend(loc)
	case "s3":
		return sf.createS3Backend(loc)
	case "ipfs":
		return sf.createIPFSBackend(loc)
	case "vault":
		return sf.createVaultBackend(loc)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme %q", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// CreateMultiBackend skips locations that fail to initialize. It errors only
// if none succeed.
func (sf *StorageBackendFactory) CreateMultiBackend(locations []interfaces.StorageBackendLocation) (*MultiStorageBackend, error) {
	backends := make([]interfaces.StorageBackend, 0, len(locations))
	for _, loc := range locations {
		backend, err := sf.StorageBackendFor(loc)
		if err != nil {
			sf.log.Warn("Failed to create storage backend", "err", err, slog.String("scheme", loc.Scheme), slog.String("host", loc.Host))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid storage backends created")
	}
	return NewMultiStorageBackend(backends, sf.log), nil
}

func (sf *StorageBackendFactory) createFileBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	path := loc.Path
	if loc.Host != "" {
		// file://./relative/path
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in %s", interfaces.ErrInvalidLocationURI, loc)
	}
	return NewFileBackend(path, sf.log)
}

func (sf *StorageBackendFactory) createS3Backend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	opts := S3Options{
		Bucket:    loc.Host,
		Prefix:    strings.TrimPrefix(loc.Path, "/"),
		Region:    loc.GetParam("region"),
		Endpoint:  loc.GetParam("endpoint"),
		PathStyle: loc.GetParamBool("path_style"),
	}
	if loc.Auth != "" {
		accessKey, secretKey, _ := strings.Cut(loc.Auth, ":")
		opts.AccessKey, opts.SecretKey = accessKey, secretKey
	}
	return NewS3Backend(opts, sf.log)
}

func (sf *StorageBackendFactory) createIPFSBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	host, port, found := strings.Cut(loc.Host, ":")
	if !found || port == "" {
		port = "5001"
	}
	if host == "" {
		return nil, fmt.Errorf("%w: missing IPFS host", interfaces.ErrInvalidLocationURI)
	}

	timeout := 30 * time.Second
	if raw := loc.GetParam("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timeout %q: %w", interfaces.ErrInvalidLocationURI, raw, err)
		}
		timeout = parsed
	}
	return NewIPFSBackend(host, port, timeout, sf.log), nil
}

func (sf *StorageBackendFactory) createVaultBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	mount, dataPath, _ := strings.Cut(strings.TrimPrefix(loc.Path, "/"), "/")
	if loc.Host == "" || mount == "" {
		return nil, fmt.Errorf("%w: vault location needs host and mount path", interfaces.ErrInvalidLocationURI)
	}

	scheme := "https"
	if loc.GetParam("tls") == "false" {
		scheme = "http"
	}
	address := fmt.Sprintf("%s://%s", scheme, loc.Host)
	return NewVaultBackend(address, loc.Auth, mount, dataPath, sf.log)
}
