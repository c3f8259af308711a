package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/samcharles93/starvec/internal/model"
)

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrModelNotFound  = errors.New("model_not_found")
	ErrBusy           = errors.New("busy")
)

type invalidRequestError struct {
	msg   string
	param string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

func newInvalidParam(param, msg string) error {
	return invalidRequestError{msg: msg, param: param}
}

// classify maps an error to the HTTP status and envelope type it is reported
// with.
func classify(err error) (status int, errType, param string) {
	var ire invalidRequestError
	switch {
	case errors.As(err, &ire):
		return http.StatusBadRequest, "invalid_request_error", ire.param
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, model.ErrTaskMismatch):
		return http.StatusBadRequest, "invalid_request_error", ""
	case errors.Is(err, ErrModelNotFound):
		return http.StatusNotFound, "not_found_error", "model"
	case errors.Is(err, ErrBusy):
		return http.StatusTooManyRequests, "rate_limit_error", ""
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout_error", ""
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "server_error", ""
	}
	return http.StatusInternalServerError, "server_error", ""
}
