package lurk

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// ConfigurationError reports invalid settings: a bad rate budget, a missing
// base URL, an unsupported filter combination, or a search without a query.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// DecodeError reports a response body that could not be decoded.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ParseError reports a single malformed product or availability record.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// TransportError reports a network or connection failure for one request.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NotificationError reports a failure of a notification sink.
type NotificationError struct {
	Sink string
	Err  error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Sink, e.Err)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

// Configf builds a ConfigurationError from a format string.
func Configf(format string, args ...any) error {
	return &ConfigurationError{Err: fmt.Errorf(format, args...)}
}

// ErrorKind maps an error to a short label for metrics.
func ErrorKind(err error) string {
	var (
		cfgErr    *ConfigurationError
		decodeErr *DecodeError
		parseErr  *ParseError
		transErr  *TransportError
		notifyErr *NotificationError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &decodeErr):
		return "decode"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &transErr):
		return "transport"
	case errors.As(err, &notifyErr):
		return "notification"
	default:
		return "other"
	}
}
