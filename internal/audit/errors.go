package audit

import "errors"

// ErrInvalidLog is returned when an audit entry lacks a required field.
var ErrInvalidLog = errors.New("audit: invalid log entry")
