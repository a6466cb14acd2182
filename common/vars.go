// Package common holds process-wide helpers shared by the commands.
package common

// Version is set at build time with -ldflags "-X github.com/ruteri/token-registry-sync/common.Version=..."
var Version = "dev"

// PackageName is the Prometheus namespace of every exported metric.
const PackageName = "token_registry_sync"
