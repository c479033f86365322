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
	"context"
	"io"
	"log"
)

// Response is the outcome of one HTTP call as seen by the discovery logic.
// Transports never return a Go error; failures surface through Success and Error.
type Response struct {
	Success     bool
	StatusCode  int
	Body        string
	ContentType string
	Error       string
}

// Transport issues the two HTTP calls discovery needs.
// Implementations apply their own per-request timeout.
type Transport interface {
	Get(ctx context.Context, url string) Response
	Post(ctx context.Context, url, jsonBody string) Response
}

// Crypto provides the primitives of the challenge-response exchange.
type Crypto interface {
	// GenerateRandom returns n cryptographically secure random bytes.
	GenerateRandom(n int) ([]byte, error)
	// EncryptWithPublicKey encrypts plaintext for the embedded server key.
	// Plaintext above the key's ceiling is rejected, never silently cut.
	EncryptWithPublicKey(plaintext []byte) ([]byte, error)
	// VerifySignature reports whether signature is the server's signature over data.
	VerifySignature(data, signature []byte) bool
}

// PlaintextLimiter is implemented by Crypto providers whose encryption has a fixed plaintext
// ceiling. The verifier fits the encoded payload under it before encrypting.
type PlaintextLimiter interface {
	MaxPlaintext() int
}

// Codec converts flat string maps to and from JSON objects.
type Codec interface {
	ToJSON(m map[string]string) (string, error)
	ParseJSON(s string) (map[string]string, error)
}

// Logger is the logging surface components write to. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// discardLogger is used when no Logger is injected.
var discardLogger Logger = log.New(io.Discard, "", 0)

// ErrorRecorder follows the failures of a running check. ClearError is called as each endpoint
// check and each verification attempt begins; RecordError with every failure that is not a
// cancellation.
type ErrorRecorder interface {
	ClearError()
	RecordError(err error)
}

type nopRecorder struct{}

func (nopRecorder) ClearError()       {}
func (nopRecorder) RecordError(error) {}

// Checker checks one endpoint at a given list depth and returns the verified domain.
// The Dispatcher implements it; the ListResolver recurses through it.
type Checker interface {
	Check(ctx context.Context, endpoint, clientData string, depth int) (string, error)
}
