package schemas

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so the HTTP boundary can map them to
// distinct responses.
type ErrorKind string

const (
	// KindValidation marks a bad request (missing url, unparsable timeout).
	KindValidation ErrorKind = "VALIDATION_ERROR"
	// KindFetch marks a navigation timeout, network failure or empty content.
	KindFetch ErrorKind = "FETCH_ERROR"
	// KindFatalLaunch marks a browser engine that could not be launched.
	// The service has no useful degraded mode after this.
	KindFatalLaunch ErrorKind = "FATAL_LAUNCH_ERROR"
)

// Error is the tagged error returned across component boundaries.
type Error struct {
	Kind    ErrorKind
	URL     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.URL != "" {
		msg = fmt.Sprintf("%s for '%s'", msg, e.URL)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// NewValidationError reports an invalid request parameter.
func NewValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewFetchError reports that url could not be rendered.
func NewFetchError(url string, cause error) *Error {
	return &Error{Kind: KindFetch, URL: url, Message: "failed to get page source", Cause: cause}
}

// NewFatalLaunchError reports that the browser engine failed to start.
func NewFatalLaunchError(cause error) *Error {
	return &Error{Kind: KindFatalLaunch, Message: "failed to launch browser", Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
