package client

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
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/x-stp/passgfw/internal/core"
	"github.com/x-stp/passgfw/internal/metrics"
)

// HTTPTransport implements core.Transport over an *http.Client.
// Requests are paced by a shared token bucket; failures are reported in the Response, never as
// a Go error.
type HTTPTransport struct {
	client      *http.Client
	limiter     *rate.Limiter
	userAgent   string
	maxBodySize int64
}

var _ core.Transport = (*HTTPTransport)(nil)

// NewHTTPTransport builds a transport from config, which is copied and never modified.
// A nil client means a private client built from config, or the shared client when config is
// nil as well.
func NewHTTPTransport(client *http.Client, config *Config) *HTTPTransport {
	if client == nil {
		if config == nil {
			client = GetHTTPClient()
		} else {
			client = newHTTPClient(withDefaults(config))
		}
	}
	config = withDefaults(config)

	limit := rate.Limit(config.RequestsPerSecond)
	if config.RequestsPerSecond < 0 {
		limit = rate.Inf
	}

	return &HTTPTransport{
		client:      client,
		limiter:     rate.NewLimiter(limit, config.Burst),
		userAgent:   config.UserAgent,
		maxBodySize: config.MaxBodySize,
	}
}

// Get fetches url.
func (t *HTTPTransport) Get(ctx context.Context, url string) core.Response {
	return t.do(ctx, http.MethodGet, url, "")
}

// Post sends jsonBody to url as application/json.
func (t *HTTPTransport) Post(ctx context.Context, url, jsonBody string) core.Response {
	return t.do(ctx, http.MethodPost, url, jsonBody)
}

func (t *HTTPTransport) do(ctx context.Context, method, url, body string) core.Response {
	if err := t.wait(ctx); err != nil {
		return core.Response{Error: fmt.Sprintf("rate limiter: %v", err)}
	}

	defer metrics.MeasureDuration(metrics.GetMetrics().NetworkRequestDuration, prometheus.Labels{"method": method})()

	var reqBody io.Reader
	if method == http.MethodPost {
		reqBody = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		metrics.RecordNetworkRequest(method, 0, "invalid_request")
		return core.Response{Error: fmt.Sprintf("invalid request: %v", err)}
	}
	req.Header.Set("User-Agent", t.userAgent)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		metrics.RecordNetworkRequest(method, 0, classifyError(err))
		return core.Response{Error: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodySize+1))
	if err != nil {
		metrics.RecordNetworkRequest(method, resp.StatusCode, classifyError(err))
		return core.Response{StatusCode: resp.StatusCode, Error: fmt.Sprintf("reading body: %v", err)}
	}
	metrics.RecordNetworkRequest(method, resp.StatusCode, "")

	out := core.Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if int64(len(data)) > t.maxBodySize {
		out.Error = fmt.Sprintf("response body exceeds %d bytes", t.maxBodySize)
		return out
	}
	out.Body = string(data)
	if resp.StatusCode != http.StatusOK {
		out.Error = fmt.Sprintf("HTTP error: %d", resp.StatusCode)
		return out
	}
	out.Success = true
	return out
}

// wait blocks on the limiter and records how long that took.
func (t *HTTPTransport) wait(ctx context.Context) error {
	start := time.Now()
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.RecordRateLimitDelay(d)
	}
	return nil
}

// classifyError maps a request error to a metric label.
func classifyError(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	default:
		return "network"
	}
}
