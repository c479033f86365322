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

	"github.com/x-stp/passgfw/internal/metrics"
)

// Dispatcher routes an endpoint to the list resolver or the retrying verifier and enforces the
// recursion bound. It is the Checker that list resolution recurses through.
type Dispatcher struct {
	direct   *RetryChecker
	lists    *ListResolver
	maxDepth int
	logger   Logger
	recorder ErrorRecorder
}

// NewDispatcher wires the full checking chain for one set of collaborators.
func NewDispatcher(transport Transport, crypto Crypto, codec Codec, settings Settings, sleep SleepFunc, logger Logger) *Dispatcher {
	if logger == nil {
		logger = discardLogger
	}
	d := &Dispatcher{
		maxDepth: settings.MaxListDepth,
		logger:   logger,
		recorder: nopRecorder{},
	}
	verifier := NewVerifier(transport, crypto, codec, settings, logger)
	d.direct = NewRetryChecker(verifier, settings, sleep, logger)
	d.lists = NewListResolver(transport, d, settings, sleep, logger)
	return d
}

// SetRecorder reports endpoint checks, nested list entries and verification attempts to rec.
func (d *Dispatcher) SetRecorder(rec ErrorRecorder) {
	if rec == nil {
		rec = nopRecorder{}
	}
	d.recorder = rec
	d.direct.SetRecorder(rec)
}

// Check implements Checker. Depth is validated before anything else, so an endpoint past the
// bound costs neither a sleep nor a request.
func (d *Dispatcher) Check(ctx context.Context, endpoint, clientData string, depth int) (string, error) {
	d.recorder.ClearError()
	if depth > d.maxDepth {
		err := newError(KindRecursionLimitExceeded, endpoint, "list depth %d exceeds %d", depth, d.maxDepth)
		d.recorder.RecordError(err)
		return "", err
	}

	kind := KindOfEndpoint(endpoint)
	var (
		domain string
		err    error
	)
	if kind == ListEndpoint {
		domain, err = d.lists.Resolve(ctx, endpoint, clientData, depth)
	} else {
		domain, err = d.direct.Check(ctx, endpoint, clientData)
	}
	metrics.RecordEndpointCheck(kind.String(), err == nil)
	if err != nil && ctx.Err() == nil {
		d.recorder.RecordError(err)
	}
	return domain, err
}
