package core

import (
	"errors"
	"net/http"
	"os"
)

type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// StatusError carries the response code for a failure that is not a plain
// missing file, e.g. an unreachable proxy backend.
type StatusError struct {
	Code int
	Hint string
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return http.StatusText(e.Code)
	}
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func StatusCode(err error) int {
	var statusErr *StatusError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &statusErr):
		return statusErr.Code
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, os.ErrPermission):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func ErrorHint(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Hint
	}
	return ""
}
