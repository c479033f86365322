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
	"errors"
	"fmt"
	"sync"

	"github.com/x-stp/passgfw/internal/metrics"
)

// ErrAllEndpointsFailed is recorded as the last error after a pass in which no endpoint verified.
var ErrAllEndpointsFailed = errors.New("all endpoints failed, retrying")

// DetectorConfig holds the collaborators and tunables of a Detector.
type DetectorConfig struct {
	Transport Transport
	Crypto    Crypto
	Codec     Codec
	// Logger receives progress messages. Nil discards them.
	Logger Logger
	// Settings defaults to DefaultSettings when left zero.
	Settings Settings
	// Sleep defaults to Sleep. Tests replace it to observe delays without waiting.
	Sleep SleepFunc
	// Endpoints is the initial endpoint set, in priority order.
	Endpoints []string
}

// Detector owns an endpoint set and searches it until one endpoint verifies.
//
// The endpoint set and last error may be read and replaced from other goroutines while
// FindServer runs; a running search picks up a replaced set at its next pass.
type Detector struct {
	dispatcher *Dispatcher
	settings   Settings
	sleep      SleepFunc
	logger     Logger

	mu        sync.Mutex
	endpoints []string
	lastError string
}

// NewDetector validates cfg and wires a Detector.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if cfg.Transport == nil || cfg.Crypto == nil || cfg.Codec == nil {
		return nil, errors.New("detector requires a transport, a crypto provider and a codec")
	}
	settings := cfg.Settings
	if settings == (Settings{}) {
		settings = DefaultSettings()
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector settings: %w", err)
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger
	}

	d := &Detector{
		dispatcher: NewDispatcher(cfg.Transport, cfg.Crypto, cfg.Codec, settings, sleep, logger),
		settings:   settings,
		sleep:      sleep,
		logger:     logger,
		endpoints:  append([]string(nil), cfg.Endpoints...),
	}
	d.dispatcher.SetRecorder(lastErrorRecorder{d})
	return d, nil
}

// FindServer checks the endpoint set in order, pass after pass, until an endpoint verifies and
// returns the domain it asserted. URLInterval is waited after every failed endpoint and
// RetryInterval after every exhausted pass. An empty set counts as an exhausted pass.
//
// The only way out without a domain is ctx: once it is done FindServer returns ctx.Err().
func (d *Detector) FindServer(ctx context.Context, clientData string) (string, error) {
	d.logger.Printf("Starting endpoint discovery")
	for pass := 1; ; pass++ {
		endpoints := d.Endpoints()
		d.logger.Printf("[debug] pass %d over %d endpoint(s)", pass, len(endpoints))

		for _, endpoint := range endpoints {
			domain, err := d.dispatcher.Check(ctx, endpoint, clientData, 0)
			if err == nil {
				d.setLastError("")
				metrics.RecordPass(true)
				d.logger.Printf("Found server %s via %s", domain, endpoint)
				return domain, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			d.logger.Printf("Endpoint %s failed: %v", endpoint, err)

			if err := d.sleep(ctx, d.settings.URLInterval); err != nil {
				return "", err
			}
		}

		metrics.RecordPass(false)
		d.setLastError(ErrAllEndpointsFailed.Error())
		d.logger.Printf("All endpoints failed on pass %d, retrying in %s", pass, d.settings.RetryInterval)
		if err := d.sleep(ctx, d.settings.RetryInterval); err != nil {
			return "", err
		}
	}
}

// SetEndpoints replaces the endpoint set.
func (d *Detector) SetEndpoints(endpoints []string) {
	cp := append([]string(nil), endpoints...)
	d.mu.Lock()
	d.endpoints = cp
	d.mu.Unlock()
}

// AddEndpoint appends one endpoint. Duplicates are kept.
func (d *Detector) AddEndpoint(endpoint string) {
	d.mu.Lock()
	d.endpoints = append(d.endpoints, endpoint)
	d.mu.Unlock()
}

// Endpoints returns a copy of the endpoint set.
func (d *Detector) Endpoints() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.endpoints...)
}

// LastError returns the message of the most recent failure: a verification attempt, a list
// fetch or a list entry, at any depth. It is cleared as each check or attempt begins, so it is
// empty while the first attempt against an endpoint is in flight.
func (d *Detector) LastError() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastError
}

func (d *Detector) setLastError(msg string) {
	d.mu.Lock()
	d.lastError = msg
	d.mu.Unlock()
}

// lastErrorRecorder feeds the checking chain's failures into LastError.
type lastErrorRecorder struct{ d *Detector }

func (r lastErrorRecorder) ClearError()           { r.d.setLastError("") }
func (r lastErrorRecorder) RecordError(err error) { r.d.setLastError(err.Error()) }
