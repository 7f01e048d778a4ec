package jobclient

import (
	"errors"
	"fmt"
	"net/http"

	"comfyclient/internal/bus"
)

// badRequestError signals a malformed or invalid message (400).
type badRequestError struct{ msg string }

func (e badRequestError) Error() string   { return e.msg }
func (e badRequestError) StatusCode() int { return http.StatusBadRequest }

func errBadRequest(format string, a ...any) error {
	return badRequestError{msg: fmt.Sprintf(format, a...)}
}

// IsBadRequest reports whether err indicates an invalid message.
func IsBadRequest(err error) bool {
	var e badRequestError
	return errors.As(err, &e)
}

// forbiddenError rejects a message from a source that may not send it (403):
// admin requests from other nodes, or router answers from the wrong peer.
type forbiddenError struct{ source, why string }

func (e forbiddenError) Error() string {
	if e.why != "" {
		return e.why + "; rejecting from " + e.source
	}
	return "only our node can make admin requests; rejecting from " + e.source
}
func (e forbiddenError) StatusCode() int { return http.StatusForbidden }

// IsForbidden reports whether err rejected a message for its source.
func IsForbidden(err error) bool {
	var e forbiddenError
	return errors.As(err, &e)
}

// notConfiguredError means an admin request must happen first (409).
type notConfiguredError struct{ msg string }

func (e notConfiguredError) Error() string   { return e.msg }
func (e notConfiguredError) StatusCode() int { return http.StatusConflict }

// ErrNotConfigured constructs a notConfiguredError.
func ErrNotConfigured(msg string) error { return notConfiguredError{msg: msg} }

// IsNotConfigured reports whether err indicates missing router/sequencer setup.
func IsNotConfigured(err error) bool {
	var e notConfiguredError
	return errors.As(err, &e)
}

// upstreamError wraps a failed exchange with the router or the sequencer.
// It maps to 504 when the peer timed out and 502 otherwise.
type upstreamError struct {
	op  string
	err error
}

func (e upstreamError) Error() string { return e.op + ": " + e.err.Error() }
func (e upstreamError) Unwrap() error { return e.err }
func (e upstreamError) StatusCode() int {
	if bus.IsTimeout(e.err) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// IsUpstream reports whether err came from talking to another node.
func IsUpstream(err error) bool {
	var e upstreamError
	return errors.As(err, &e)
}
