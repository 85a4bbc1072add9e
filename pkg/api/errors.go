package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// fail maps kinded errors onto HTTP status codes.
func fail(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch errdefs.KindOf(err) {
	case errdefs.KindNotFound:
		status = http.StatusNotFound
	case errdefs.KindConflict:
		status = http.StatusConflict
	case errdefs.KindValidationFailed:
		status = http.StatusBadRequest
	case errdefs.KindQuotaExceeded:
		status = http.StatusTooManyRequests
	case errdefs.KindCapacityExhausted:
		status = http.StatusServiceUnavailable
	case errdefs.KindInvalidSession, errdefs.KindRegistrationRejected:
		status = http.StatusUnauthorized
	}
	return c.JSON(status, errorBody{Error: err.Error(), Kind: string(errdefs.KindOf(err))})
}
