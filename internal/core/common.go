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

package core

import (
	"context"
	"fmt"
	"time"

	"github.com/zeebo/xxh3"
)

// EndpointKind tells a direct endpoint from a list endpoint.
type EndpointKind int

const (
	// DirectEndpoint is verified with the challenge-response exchange.
	DirectEndpoint EndpointKind = iota
	// ListEndpoint is fetched and its URLs are checked in turn.
	ListEndpoint
)

// String implements fmt.Stringer.
func (k EndpointKind) String() string {
	if k == ListEndpoint {
		return "list"
	}
	return "direct"
}

// KindOfEndpoint classifies an endpoint by its trailing character.
func KindOfEndpoint(endpoint string) EndpointKind {
	if n := len(endpoint); n > 0 && endpoint[n-1] == ListSuffix {
		return ListEndpoint
	}
	return DirectEndpoint
}

// SleepFunc pauses for d or until ctx is done, whichever comes first.
// It returns ctx.Err() when interrupted.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fingerprint renders a short, non-reversible tag for secret material in logs.
func fingerprint(b []byte) string {
	return fmt.Sprintf("%016x", xxh3.Hash(b))
}
