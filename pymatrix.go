// Package pymatrix exposes build metadata shared by the CLI.
package pymatrix

// Version is the orchestrator version. Overridden at build time via
// -ldflags "-X github.com/SamHausmann/pymatrix.Version=...".
var Version = "0.3.0-dev"
