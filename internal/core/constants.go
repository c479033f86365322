/*
Package core constants that are shared across the discovery components.
This file centralizes the timing, retry and security limits that shape how aggressively
the detector probes candidate endpoints.

These constants are defaults. A Settings value built from them (see DefaultSettings) is what the
components actually read, so a config file or CLI flags can override any of them.
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
	"fmt"
	"time"
)

// Discovery defaults.
const (
	// --- Timing ---

	// RequestTimeout bounds every individual HTTP call made by the transport.
	RequestTimeout = 10 * time.Second

	// URLInterval is the pause between two endpoints, both in the top-level set and
	// inside a fetched list.
	URLInterval = 500 * time.Millisecond

	// RetryInterval is the pause after a full pass over the endpoint set failed.
	RetryInterval = 2 * time.Second

	// RetryDelay is the pause between two attempts against the same direct endpoint.
	RetryDelay = 1000 * time.Millisecond

	// --- Retry ---

	// MaxRetries is the number of verification attempts per direct endpoint.
	MaxRetries = 3

	// --- Security limits ---

	// MaxListDepth caps nested list dereferences. A list reached at depth MaxListDepth may
	// still be fetched; anything dispatched at MaxListDepth+1 is rejected.
	MaxListDepth = 5

	// NonceSize is the challenge length in bytes.
	NonceSize = 32

	// MaxClientDataSize caps the caller-supplied client data so the encrypted payload stays
	// under the RSA plaintext ceiling.
	MaxClientDataSize = 200

	// --- Wire format ---

	// ListMarker delimits the URL list body inside a fetched list document.
	ListMarker = "*GFW*"

	// ListSeparator separates URLs inside the marker-delimited body.
	ListSeparator = "|"

	// ListSuffix marks an endpoint as a list to be fetched rather than verified.
	ListSuffix = '#'
)

// Settings carries the tunables read by the discovery components.
// The zero value is not useful; start from DefaultSettings.
type Settings struct {
	URLInterval       time.Duration
	RetryInterval     time.Duration
	RetryDelay        time.Duration
	MaxRetries        int
	MaxListDepth      int
	NonceSize         int
	MaxClientDataSize int
}

// DefaultSettings returns the canonical configuration.
func DefaultSettings() Settings {
	return Settings{
		URLInterval:       URLInterval,
		RetryInterval:     RetryInterval,
		RetryDelay:        RetryDelay,
		MaxRetries:        MaxRetries,
		MaxListDepth:      MaxListDepth,
		NonceSize:         NonceSize,
		MaxClientDataSize: MaxClientDataSize,
	}
}

// Validate reports the first setting that would make discovery misbehave.
func (s Settings) Validate() error {
	switch {
	case s.MaxRetries < 1:
		return fmt.Errorf("max retries must be at least 1, got %d", s.MaxRetries)
	case s.MaxListDepth < 0:
		return fmt.Errorf("max list depth must not be negative, got %d", s.MaxListDepth)
	case s.NonceSize < 1:
		return fmt.Errorf("nonce size must be positive, got %d", s.NonceSize)
	case s.MaxClientDataSize < 0:
		return fmt.Errorf("max client data size must not be negative, got %d", s.MaxClientDataSize)
	case s.URLInterval < 0 || s.RetryInterval < 0 || s.RetryDelay < 0:
		return fmt.Errorf("intervals must not be negative")
	}
	return nil
}
