package kite

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from Kite.
type APIError struct {
	StatusCode int
	ErrorType  string
	Message    string
}

func (e *APIError) Error() string {
	switch {
	case e.Message != "" && e.ErrorType != "":
		return fmt.Sprintf("kite: status %d: %s: %s", e.StatusCode, e.ErrorType, e.Message)
	case e.Message != "":
		return fmt.Sprintf("kite: status %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("kite: status %d", e.StatusCode)
	}
}

// IsAuthError reports whether err is a 403 from Kite, meaning the token is expired or invalid.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden
}

// IsTransportError reports whether err is a transient failure: network, 5xx, or malformed payload.
func IsTransportError(err error) bool {
	return err != nil && !IsAuthError(err)
}

// UpstreamMessage returns the message Kite attached to err, if any.
func UpstreamMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
