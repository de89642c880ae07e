// Package common holds process-wide settings shared by the command line tools.
package common

// PackageName prefixes the names of exported metrics.
const PackageName = "nodelist_registry"

// Version is set at build time with -ldflags "-X github.com/ruteri/nodelist-registry/common.Version=..."
var Version = "dev"
