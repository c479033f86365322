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
	"time"
)

// EndpointVerifier performs a single verification attempt. *Verifier implements it.
type EndpointVerifier interface {
	Verify(ctx context.Context, url, clientData string) (string, error)
}

// RetryChecker retries a direct endpoint a bounded number of times with a fixed delay.
type RetryChecker struct {
	verifier   EndpointVerifier
	maxRetries int
	delay      time.Duration
	sleep      SleepFunc
	logger     Logger
	recorder   ErrorRecorder
}

// NewRetryChecker wraps verifier. A nil sleep uses Sleep and a nil logger discards output.
func NewRetryChecker(verifier EndpointVerifier, settings Settings, sleep SleepFunc, logger Logger) *RetryChecker {
	if sleep == nil {
		sleep = Sleep
	}
	if logger == nil {
		logger = discardLogger
	}
	return &RetryChecker{
		verifier:   verifier,
		maxRetries: settings.MaxRetries,
		delay:      settings.RetryDelay,
		sleep:      sleep,
		logger:     logger,
		recorder:   nopRecorder{},
	}
}

// SetRecorder reports every attempt to rec. A nil rec stops reporting.
func (r *RetryChecker) SetRecorder(rec ErrorRecorder) {
	if rec == nil {
		rec = nopRecorder{}
	}
	r.recorder = rec
}

// Check makes up to MaxRetries attempts against url and returns the first verified domain.
// RetryDelay is waited between attempts, never after the last one. When every attempt fails the
// error of the final attempt is returned as is. A cancelled ctx ends the loop with ctx.Err().
func (r *RetryChecker) Check(ctx context.Context, url, clientData string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		r.recorder.ClearError()
		domain, err := r.verifier.Verify(ctx, url, clientData)
		if err == nil {
			return domain, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		lastErr = err
		r.recorder.RecordError(err)
		r.logger.Printf("Attempt %d/%d for %s failed: %v", attempt, r.maxRetries, url, err)

		if attempt < r.maxRetries {
			if err := r.sleep(ctx, r.delay); err != nil {
				return "", err
			}
		}
	}
	return "", lastErr
}
