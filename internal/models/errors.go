package models

import (
	"errors"
	"fmt"
)

// ErrConfig marks missing or unusable credentials. It is never retried.
var ErrConfig = errors.New("configuration error")

// ValidationError rejects a single prediction or import row.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
