package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/token-registry-sync/interfaces"
)

// IPFSBackend archives artifacts on an IPFS node. Artifacts are added to a
// node-local MFS tree keyed by content id so they can be fetched by ContentID
// as well as by their IPFS CID.
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	port        string
	root        string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend connects to the IPFS HTTP API at host:port. timeout bounds
// every API request.
func NewIPFSBackend(host, port string, timeout time.Duration, log *slog.Logger) *IPFSBackend {
	apiURL := fmt.Sprintf("%s:%s", host, port)
	sh := shell.NewShell(apiURL)
	sh.SetTimeout(timeout)

	return &IPFSBackend{
		shell:       sh,
		host:        host,
		port:        port,
		root:        "/token-registry",
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s/?timeout=%s", apiURL, timeout),
	}
}

func (b *IPFSBackend) Fetch(ctx context.Context, id interfaces.ContentID, kind interfaces.ArtifactKind) ([]byte, error) {
	if !b.shell.IsUp() {
		return nil, interfaces.ErrBackendUnavailable
	}

	start := time.Now()
	mfsPath := b.mfsPath(id, kind)
	reader, err := b.shell.FilesRead(ctx, mfsPath)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") || strings.Contains(err.Error(), "no link named") {
			return nil, interfaces.ErrContentNotFound
		}
		return nil, fmt.Errorf("failed to fetch data from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data from IPFS: %w", err)
	}

	b.log.Debug("Fetched artifact from IPFS",
		slog.String("path", mfsPath),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))
	return data, nil
}

// Store adds data to IPFS, pins it, and links it into the MFS tree.
func (b *IPFSBackend) Store(ctx context.Context, data []byte, kind interfaces.ArtifactKind) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	if !b.shell.IsUp() {
		return id, interfaces.ErrBackendUnavailable
	}

	cid, err := b.shell.Add(bytes.NewReader(data), shell.Pin(true))
	if err != nil {
		return id, fmt.Errorf("failed to add data to IPFS: %w", err)
	}

	dir := fmt.Sprintf("%s/%s", b.root, kind)
	if err := b.shell.FilesMkdir(ctx, dir, shell.FilesMkdir.Parents(true)); err != nil {
		return id, fmt.Errorf("failed to create IPFS directory %s: %w", dir, err)
	}
	mfsPath := b.mfsPath(id, kind)
	if err := b.shell.FilesCp(ctx, "/ipfs/"+cid, mfsPath); err != nil && !strings.Contains(err.Error(), "already exists") {
		return id, fmt.Errorf("failed to link %s into IPFS directory: %w", cid, err)
	}

	b.log.Debug("Stored artifact in IPFS",
		slog.String("ipfsCID", cid),
		slog.String("contentID", id.String()),
		slog.String("kind", kind.String()))
	return id, nil
}

func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

func (b *IPFSBackend) mfsPath(id interfaces.ContentID, kind interfaces.ArtifactKind) string {
	return fmt.Sprintf("%s/%s/%s.json", b.root, kind, id)
}
