package http

import (
	"errors"
	"log/slog"
	"net/http"

	"lending-pool/internal/adapter/middleware"
	domain "lending-pool/internal/domain/pool"

	"github.com/labstack/echo/v4"
)

// statusFor maps domain errors → HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNotAnInvestor):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrNotCompliant):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrDeadlinePassed),
		errors.Is(err, domain.ErrNothingToClaim),
		errors.Is(err, domain.ErrAlreadyRefunded),
		errors.Is(err, domain.ErrInvestorExists),
		errors.Is(err, domain.ErrReentrant):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidParameters),
		errors.Is(err, domain.ErrInvalidAddress):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrNativeValueRejected):
		return http.StatusMethodNotAllowed
	}
	return http.StatusInternalServerError
}

// writeError renders err with its mapped status. Unmapped errors are logged
// and hidden behind a generic message.
func writeError(c echo.Context, err error) error {
	code := statusFor(err)
	// a retry would send the legs that already went out a second time
	if errors.Is(err, domain.ErrPartialDisbursement) {
		middleware.KeepOutcome(c)
	}
	if code == http.StatusInternalServerError {
		slog.Error("pool request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"error", err,
		)
		return c.JSON(code, ErrorResponse{Error: "internal error"})
	}
	return c.JSON(code, ErrorResponse{Error: err.Error()})
}
