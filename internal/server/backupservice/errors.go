package backupservice

import (
	"context"
	"errors"

	"connectrpc.com/connect"

	"github.com/yndnr/ledgerbackup/internal/core/domain"
	"github.com/yndnr/ledgerbackup/internal/ledger"
)

// ErrorCodeHeader carries the domain error code next to the Connect code.
const ErrorCodeHeader = "X-Error-Code"

// toConnectError translates a ledger or domain error into a Connect error.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	var ce *connect.Error
	if errors.As(err, &ce) {
		return err
	}

	var code connect.Code
	switch {
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	case errors.Is(err, domain.ErrNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		code = connect.CodeInvalidArgument
	case errors.Is(err, domain.ErrCorruption):
		code = connect.CodeDataLoss
	case errors.Is(err, ledger.ErrClosed):
		code = connect.CodeUnavailable
	default:
		code = connect.CodeInternal
	}

	cerr := connect.NewError(code, err)
	if dc := domain.GetErrorCode(err); dc != "" {
		cerr.Meta().Set(ErrorCodeHeader, dc)
	}
	return cerr
}
