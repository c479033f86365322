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
	"strings"
	"time"

	"github.com/x-stp/passgfw/internal/metrics"
)

// ListResolver fetches a list endpoint and checks the URLs it names.
// Sub-endpoints are checked through a Checker at depth+1 and are never added to the detector's
// endpoint set: a list is fetched again every time its endpoint comes up.
type ListResolver struct {
	transport Transport
	checker   Checker
	interval  time.Duration
	sleep     SleepFunc
	logger    Logger
}

// NewListResolver builds a resolver that recurses through checker.
// A nil sleep uses Sleep and a nil logger discards output.
func NewListResolver(transport Transport, checker Checker, settings Settings, sleep SleepFunc, logger Logger) *ListResolver {
	if sleep == nil {
		sleep = Sleep
	}
	if logger == nil {
		logger = discardLogger
	}
	return &ListResolver{
		transport: transport,
		checker:   checker,
		interval:  settings.URLInterval,
		sleep:     sleep,
		logger:    logger,
	}
}

// Resolve fetches endpoint (a URL ending in '#') and returns the first sub-endpoint that checks out.
func (l *ListResolver) Resolve(ctx context.Context, endpoint, clientData string, depth int) (string, error) {
	listURL := strings.TrimSuffix(endpoint, string(ListSuffix))
	if listURL == "" {
		return "", newError(KindInvalidListURL, endpoint, "empty list URL")
	}

	urls, err := l.fetch(ctx, listURL)
	metrics.RecordListFetch(err == nil, len(urls))
	if err != nil {
		return "", err
	}
	l.logger.Printf("List %s holds %d endpoint(s) at depth %d", listURL, len(urls), depth)

	var lastErr error
	for i, sub := range urls {
		if i > 0 {
			if err := l.sleep(ctx, l.interval); err != nil {
				return "", err
			}
		}

		domain, err := l.checker.Check(ctx, sub, clientData, depth+1)
		if err == nil {
			return domain, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		lastErr = err
		l.logger.Printf("List entry %s failed: %v", sub, err)
	}
	return "", wrapError(KindAllSubEndpointsFailed, listURL, lastErr, "all %d list entries failed", len(urls))
}

// fetch downloads and parses the list document at listURL.
func (l *ListResolver) fetch(ctx context.Context, listURL string) ([]string, error) {
	resp := l.transport.Get(ctx, listURL)
	if !resp.Success {
		return nil, newError(KindTransportFailed, listURL, "GET request failed: %s", resp.Error)
	}

	content := resp.Body
	if strings.Contains(strings.ToLower(resp.ContentType), "html") {
		text, err := ExtractListText(strings.NewReader(resp.Body))
		if err != nil {
			l.logger.Printf("[debug] HTML list %s only partly readable: %v", listURL, err)
		}
		content = text
	}

	urls := ParseList(content)
	if len(urls) == 0 {
		return nil, newError(KindListEmptyOrUnparsable, listURL, "no endpoints in list")
	}
	return urls, nil
}
