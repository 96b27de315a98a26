// Package logger provides structured logging for the ledger backup tool.
//
// This package wraps log/slog:
//
//   - logger.go: handler selection, levels and the global logger
//   - context.go: context-aware logging with request and run IDs
//   - redact.go: sensitive data redaction
//
// Components below the command layer take a *slog.Logger; commands build
// it here with Logger.Slog.
package logger
