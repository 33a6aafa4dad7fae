package api

import (
	"errors"
	"net/http"

	"parkledger/internal/domain"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNoAvailability),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrConcurrentModification),
		errors.Is(err, domain.ErrLotInUse):
		return http.StatusConflict
	case errors.Is(err, domain.ErrLotBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return codes.PermissionDenied
	case errors.Is(err, domain.ErrConflict):
		return codes.Aborted
	case errors.Is(err, domain.ErrNoAvailability):
		return codes.ResourceExhausted
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrConcurrentModification),
		errors.Is(err, domain.ErrLotInUse):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrLotBusy):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// grpcError converts a ledger error to a status error. Internal failures are
// not echoed to the client.
func grpcError(err error) error {
	code := grpcCode(err)
	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}
