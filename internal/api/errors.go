package api

import (
	"errors"
	"net/http"

	"github.com/samcharles93/lorallama/internal/tensor"
)

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrModelNotFound  = errors.New("model not found")
	ErrModelLoad      = errors.New("model load failed")
)

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string { return e.msg }

func (e invalidRequestError) Unwrap() error { return ErrInvalidRequest }

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// statusFor maps a forward or lookup failure to an HTTP status and error
// type. Caller mistakes in the token input are client errors; a model that
// cannot be built is a server error.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrModelLoad):
		return http.StatusInternalServerError, "server_error"
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, tensor.ErrShapeMismatch),
		errors.Is(err, tensor.ErrIndexOutOfRange):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, ErrModelNotFound):
		return http.StatusNotFound, "not_found_error"
	}
	return http.StatusInternalServerError, "server_error"
}
