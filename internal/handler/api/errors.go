package api

import (
	"errors"
	"net/http"
	"strings"

	"LighthouseMacro/internal/domain/apperr"
	xhttp "LighthouseMacro/pkg/http"
)

// toAppError maps the engine's error kinds onto HTTP statuses.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var status int
	code := "ERR_" + strings.ToUpper(string(apperr.KindOf(err)))
	switch apperr.KindOf(err) {
	case apperr.KindConfig:
		status = http.StatusBadRequest
	case apperr.KindUnknownSeries:
		status = http.StatusNotFound
	case apperr.KindTransientFetch, apperr.KindProviderFormat:
		status = http.StatusBadGateway
	default:
		status, code = http.StatusInternalServerError, "ERR_INTERNAL"
	}
	return xhttp.NewAppError(code, "", err.Error(), status).WithError(err)
}
