// Package main provides the entry point for ledger-backup.
//
// ledger-backup serves the state snapshots of a ledger, backs them up
// into chunked verifiable artifacts and restores them into a new ledger.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yndnr/ledgerbackup/internal/cli/command"
	"github.com/yndnr/ledgerbackup/internal/core/domain"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := command.App().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to distinct exit statuses for scripts.
func exitCode(err error) int {
	switch domain.GetErrorCode(err) {
	case domain.ErrInvalidArgument.Code:
		return 2
	case domain.ErrCorruption.Code, domain.ErrVerification.Code:
		return 3
	case domain.ErrConnection.Code:
		return 4
	default:
		return 1
	}
}
