package core

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies failures surfaced by the session layer
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindDecode            ErrorKind = "DecodeError"
	KindExpiredCredential ErrorKind = "ExpiredCredential"
	KindRenewalFailed     ErrorKind = "RenewalFailed"
	KindUnauthorized      ErrorKind = "Unauthorized"
	KindForbidden         ErrorKind = "Forbidden"
	KindBadRequest        ErrorKind = "BadRequest"
	KindNetwork           ErrorKind = "NetworkError"
	KindServer            ErrorKind = "ServerError"
	KindStorage           ErrorKind = "StorageError"
)

var (
	ErrDecode            = errors.New("malformed credential")
	ErrExpiredCredential = errors.New("credential has expired")
	ErrRenewalFailed     = errors.New("credential renewal failed")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrBadRequest        = errors.New("bad request")
	ErrNetwork           = errors.New("unable to reach the server")
	ErrServer            = errors.New("server error")
	ErrStorage           = errors.New("credential storage unavailable")
	ErrNoSession         = errors.New("no active session")
)

// kindOrder is the precedence used when an error carries several kinds. A
// renewal failure wraps the issuer's own error, which must not mask it.
var kindOrder = []ErrorKind{
	KindRenewalFailed,
	KindDecode,
	KindExpiredCredential,
	KindUnauthorized,
	KindForbidden,
	KindBadRequest,
	KindServer,
	KindStorage,
	KindNetwork,
}

var kindSentinels = map[ErrorKind]error{
	KindDecode:            ErrDecode,
	KindExpiredCredential: ErrExpiredCredential,
	KindRenewalFailed:     ErrRenewalFailed,
	KindUnauthorized:      ErrUnauthorized,
	KindForbidden:         ErrForbidden,
	KindBadRequest:        ErrBadRequest,
	KindNetwork:           ErrNetwork,
	KindServer:            ErrServer,
	KindStorage:           ErrStorage,
}

// APIError is the typed failure produced at the transport boundary.
type APIError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Cause   error
}

func (e *APIError) Error() string {
	msg := string(e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel for the error's kind.
func (e *APIError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// KindForStatus maps an HTTP status code to an error kind. 2xx and 3xx map
// to KindNone.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == 400:
		return KindBadRequest
	case status == 401:
		return KindUnauthorized
	case status == 403:
		return KindForbidden
	case status >= 500:
		return KindServer
	case status >= 400:
		return KindBadRequest
	default:
		return KindNone
	}
}

// KindOf returns the kind carried by err, or KindNetwork for transport
// failures that carry none.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, ErrRenewalFailed) {
		return KindRenewalFailed
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	for _, kind := range kindOrder {
		if errors.Is(err, kindSentinels[kind]) {
			return kind
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	return KindNone
}

// StoreError indicates a credential persistence failure.
type StoreError struct {
	Operation string // "load", "save", "clear"
	Tier      string
	Cause     error
}

func (e *StoreError) Error() string {
	msg := e.Operation + " credentials"
	if e.Tier != "" {
		msg += " in " + e.Tier + " tier"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is reports every StoreError as ErrStorage.
func (e *StoreError) Is(target error) bool {
	return target == ErrStorage
}
