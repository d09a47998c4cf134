package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUpstreamFetchFailed = errors.New("upstream fetch failed")
	ErrUpstreamRejected    = errors.New("upstream rejected")
	ErrConversionFailed    = errors.New("conversion failed")
	ErrConversionSuspect   = errors.New("conversion suspect")
	ErrInternal            = errors.New("internal error")
	ErrUnsupportedFormat   = errors.New("unsupported format")
	ErrEmptySource         = errors.New("empty source")
)

// ErrorKind classifies a failed compression request.
type ErrorKind string

const (
	KindUpstreamFetchFailed ErrorKind = "UpstreamFetchFailed"
	KindUpstreamRejected    ErrorKind = "UpstreamRejected"
	KindConversionFailed    ErrorKind = "ConversionFailed"
	KindConversionSuspect   ErrorKind = "ConversionSuspect"
	KindInternalError       ErrorKind = "InternalError"
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindUpstreamFetchFailed:
		return ErrUpstreamFetchFailed
	case KindUpstreamRejected:
		return ErrUpstreamRejected
	case KindConversionFailed:
		return ErrConversionFailed
	case KindConversionSuspect:
		return ErrConversionSuspect
	default:
		return ErrInternal
	}
}

// ClassifiedError is the terminal error of a compression request. It matches
// both the sentinel of its kind and its upstream cause with errors.Is.
type ClassifiedError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int // upstream HTTP status when one was received
	Cause      error
}

// NewClassifiedError builds a ClassifiedError. Message falls back to the
// cause's text when empty.
func NewClassifiedError(kind ErrorKind, message string, cause error) *ClassifiedError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ClassifiedError{Kind: kind, Message: message, Cause: cause}
}

func (e *ClassifiedError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ClassifiedError) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// KindOf extracts the ErrorKind of err. Unclassified errors are internal.
func KindOf(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternalError
}

// Classify wraps err as a ClassifiedError of the given kind unless it is
// already classified.
func Classify(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return err
	}
	return NewClassifiedError(kind, "", err)
}
