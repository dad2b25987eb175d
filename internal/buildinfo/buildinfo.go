// Package buildinfo exposes build-time version metadata.
package buildinfo

// Version is stamped at build time via -ldflags "-X nimbus/internal/buildinfo.Version=...".
var Version = "dev"
