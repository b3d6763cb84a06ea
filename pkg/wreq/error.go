package wreq

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

var (
	// ErrBorrowConflict is returned when a response body is accessed while
	// another caller has it checked out.
	ErrBorrowConflict = errors.New("wreq: response body is in use by another caller")

	// ErrSyncPoisoned is returned by every body access after a panic
	// happened while the body was checked out.
	ErrSyncPoisoned = errors.New("wreq: response body state poisoned by an earlier panic")

	// ErrBodyConsumed is returned when the body was already streamed out or
	// closed.
	ErrBodyConsumed = errors.New("wreq: response body already consumed")

	errRedirectLimit = errors.New("wreq: too many redirects")
)

// Kind classifies request failures.
type Kind int

const (
	KindRequest Kind = iota
	KindBuilder
	KindConnection
	KindConnectionReset
	KindTLS
	KindTimeout
	KindRedirect
	KindStatus
	KindBody
	KindDecoding
)

var kindNames = [...]string{
	KindRequest:         "request",
	KindBuilder:         "builder",
	KindConnection:      "connection",
	KindConnectionReset: "connection reset",
	KindTLS:             "tls",
	KindTimeout:         "timeout",
	KindRedirect:        "redirect",
	KindStatus:          "status",
	KindBody:            "body",
	KindDecoding:        "decoding",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a classified request failure. Unwrap returns the underlying
// error unchanged.
type Error struct {
	Kind Kind

	// Method and URL of the request, when known.
	Method string
	URL    string

	// StatusCode is set for KindStatus.
	StatusCode int

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := "wreq: " + e.Kind.String() + " error"
	if e.Method != "" {
		msg += " for " + e.Method + " " + e.URL
	}
	if e.Kind == KindStatus {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the request timed out.
func (e *Error) IsTimeout() bool {
	return e.Kind == KindTimeout
}

// IsConnect returns true if no connection could be made.
func (e *Error) IsConnect() bool {
	return e.Kind == KindConnection || e.Kind == KindConnectionReset
}

// IsClientError returns true for a 4xx status.
func (e *Error) IsClientError() bool {
	return e.Kind == KindStatus && e.StatusCode >= 400 && e.StatusCode < 500
}

// IsServerError returns true for a 5xx status.
func (e *Error) IsServerError() bool {
	return e.Kind == KindStatus && e.StatusCode >= 500
}

// AsError extracts *Error from an error.
//
// Example:
//
//	if e, ok := wreq.AsError(err); ok && e.IsTimeout() {
//	    // retry later
//	}
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// classify maps an engine error to a Kind.
func classify(err error) Kind {
	var (
		netErr   net.Error
		opErr    *net.OpError
		certErr  *tls.CertificateVerificationError
		recErr   tls.RecordHeaderError
		alertErr tls.AlertError
		unkAuth  x509.UnknownAuthorityError
		hostErr  x509.HostnameError
		invErr   x509.CertificateInvalidError
	)
	switch {
	case errors.Is(err, errRedirectLimit):
		return KindRedirect
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return KindTimeout
	case errors.As(err, &certErr), errors.As(err, &recErr), errors.As(err, &alertErr),
		errors.As(err, &unkAuth), errors.As(err, &hostErr), errors.As(err, &invErr):
		return KindTLS
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return KindConnectionReset
	case errors.As(err, &opErr) && opErr.Op == "dial",
		errors.Is(err, syscall.ECONNREFUSED):
		return KindConnection
	case errors.Is(err, http.ErrSchemeMismatch):
		return KindBuilder
	default:
		return KindRequest
	}
}

func wrapErr(kind Kind, method, url string, err error) error {
	return &Error{Kind: kind, Method: method, URL: url, Err: err}
}
