// Package common holds the logger setup and build identifiers shared by the
// binaries.
package common

// Version is set at build time via -ldflags "-X .../common.Version=v1.2.3".
var Version = "dev"

const PackageName = "github.com/ruteri/tiered-storage"
