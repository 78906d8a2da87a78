package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	domainerrors "github.com/evidentta/controlverify/internal/domain/errors"
	"github.com/evidentta/controlverify/internal/infrastructure/repository"
)

// respondError maps an error onto an HTTP status and a stable machine
// code. Domain errors carry their own status; everything else is a 500
// with the detail kept out of the response body.
func respondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var appErr *domainerrors.AppError
	if errors.As(err, &appErr) {
		status := appErr.StatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		if appErr.Retryable {
			w.Header().Set("Retry-After", "5")
		}
		writeError(w, status, appErr.Code, appErr.Message)
		return
	}

	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
	case errors.Is(err, context.Canceled):
		writeError(w, statusClientClosedRequest, "REQUEST_CANCELED", "request was canceled")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "REQUEST_TIMEOUT", "request timed out")
	default:
		logger.ErrorContext(r.Context(), "unhandled error",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// Nginx convention for a client that went away mid-request.
const statusClientClosedRequest = 499
