/*
Package core implements endpoint discovery: challenge-response verification of direct endpoints,
recursive resolution of list endpoints, and the retry loops that compose them into a search for
one working endpoint.
*/
package core

/*
passgfw — verified endpoint discovery for filtered networks
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a single endpoint check failed.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindMalformedURL
	KindTransportFailed
	KindRandomGenerationFailed
	KindPayloadEncodingFailed
	KindEncryptionFailed
	KindMalformedResponse
	KindSignatureInvalid
	KindNonceMismatch
	KindListEmptyOrUnparsable
	KindInvalidListURL
	KindRecursionLimitExceeded
	KindAllSubEndpointsFailed
)

var kindNames = [...]string{
	KindUnknown:                "unknown",
	KindMalformedURL:           "malformed_url",
	KindTransportFailed:        "transport_failed",
	KindRandomGenerationFailed: "random_generation_failed",
	KindPayloadEncodingFailed:  "payload_encoding_failed",
	KindEncryptionFailed:       "encryption_failed",
	KindMalformedResponse:      "malformed_response",
	KindSignatureInvalid:       "signature_invalid",
	KindNonceMismatch:          "nonce_mismatch",
	KindListEmptyOrUnparsable:  "list_empty_or_unparsable",
	KindInvalidListURL:         "invalid_list_url",
	KindRecursionLimitExceeded: "recursion_limit_exceeded",
	KindAllSubEndpointsFailed:  "all_sub_endpoints_failed",
}

// String returns the snake_case name used in logs and metric labels.
func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// Error is the failure of one endpoint check.
// It carries the kind, the endpoint it concerns, a message and an optional cause.
// It implements the standard `error` interface and supports errors.Is against the
// Err* sentinels below, which compare by kind only.
type Error struct {
	Kind    ErrorKind
	URL     string
	Message string
	Err     error
}

// newError builds an *Error for url with a formatted message.
func newError(kind ErrorKind, url, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		URL:     url,
		Message: fmt.Sprintf(format, args...),
	}
}

// wrapError is newError with a cause attached.
func wrapError(kind ErrorKind, url string, cause error, format string, args ...any) *Error {
	e := newError(kind, url, format, args...)
	e.Err = cause
	return e
}

// Error implements the standard Go `error` interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.URL != "" {
		msg += ": " + e.URL
	}
	if e.Err != nil {
		msg += " (" + e.Err.Error() + ")"
	}
	return msg
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Sentinels for errors.Is. They only carry a kind.
var (
	ErrMalformedURL           = &Error{Kind: KindMalformedURL}
	ErrTransportFailed        = &Error{Kind: KindTransportFailed}
	ErrRandomGenerationFailed = &Error{Kind: KindRandomGenerationFailed}
	ErrPayloadEncodingFailed  = &Error{Kind: KindPayloadEncodingFailed}
	ErrEncryptionFailed       = &Error{Kind: KindEncryptionFailed}
	ErrMalformedResponse      = &Error{Kind: KindMalformedResponse}
	ErrSignatureInvalid       = &Error{Kind: KindSignatureInvalid}
	ErrNonceMismatch          = &Error{Kind: KindNonceMismatch}
	ErrListEmptyOrUnparsable  = &Error{Kind: KindListEmptyOrUnparsable}
	ErrInvalidListURL         = &Error{Kind: KindInvalidListURL}
	ErrRecursionLimitExceeded = &Error{Kind: KindRecursionLimitExceeded}
	ErrAllSubEndpointsFailed  = &Error{Kind: KindAllSubEndpointsFailed}
)
