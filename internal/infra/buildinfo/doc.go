// Package buildinfo exposes version information injected at build time:
//
//	go build -ldflags "-X github.com/yndnr/ledgerbackup/internal/infra/buildinfo.Version=v1.0.0 \
//	  -X github.com/yndnr/ledgerbackup/internal/infra/buildinfo.Commit=abc123"
//
// GoVersion falls back to the toolchain recorded in the binary.
package buildinfo
