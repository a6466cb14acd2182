// Package storage archives registry snapshots and transaction outcomes in
// content-addressed backends.
//
// Every artifact is a JSON document identified by the SHA-256 of its bytes.
// Snapshots and outcomes live in separate namespaces ("snapshots" and
// "outcomes") on every backend.
//
// # Location URIs
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
//   - file:///var/lib/token-registry/archive
//   - s3://bucket-name/prefix/?region=us-west-2&endpoint=http://minio:9000&path_style=true
//   - ipfs://127.0.0.1:5001/?timeout=30s
//   - vault://TOKEN@vault.example.com:8200/secret/token-registry
//
// Several locations are combined with CreateMultiBackend: stores go to every
// available backend, fetches are served by the first backend holding the
// artifact.
//
// # Usage
//
//	factory := storage.NewStorageBackendFactory(log)
//	backend, err := factory.CreateMultiBackend(locations)
//	archive := storage.NewArchive(backend, log)
//	engine.SetPublisher(archive)
//	coordinator.SetArchiver(archive)
package storage
