package metrics

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

/*
Package metrics exposes Prometheus instrumentation for endpoint discovery.

All collectors live on a private registry and are only updated once EnableMetrics has been called,
so library users that never opt in pay nothing beyond a boolean check. The CLI enables them when
--metrics-addr is set and serves the registry with StartMetricsServer.
*/

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry           = prometheus.NewRegistry()
	defaultRegisterer  = promauto.With(registry)
	metricsInitialized sync.Once
	metricsEnabled     bool
	metricsServer      *http.Server
)

// Metrics contains all the Prometheus metrics for the application
type Metrics struct {
	// Discovery metrics
	EndpointChecksTotal   *prometheus.CounterVec
	EndpointFailuresTotal *prometheus.CounterVec
	VerifyDuration        *prometheus.HistogramVec
	ListFetchesTotal      *prometheus.CounterVec
	ListSizes             prometheus.Histogram
	PassesTotal           *prometheus.CounterVec
	ServersFoundTotal     prometheus.Counter

	// Network metrics
	NetworkRequestDuration *prometheus.HistogramVec
	NetworkRequestsTotal   *prometheus.CounterVec
	NetworkErrorsTotal     *prometheus.CounterVec
	RateLimitDelay         prometheus.Histogram

	// Responder metrics
	ResponderRequestsTotal *prometheus.CounterVec
}

// Global instance of metrics
var globalMetrics *Metrics
var metricsOnce sync.Once

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics()
	})
	return globalMetrics
}

// EnableMetrics enables metrics collection
func EnableMetrics() {
	metricsEnabled = true
}

// IsMetricsEnabled returns whether metrics collection is enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// Registry returns the private registry the collectors are registered on.
func Registry() *prometheus.Registry {
	return registry
}

// newMetrics creates and registers all metrics
func newMetrics() *Metrics {
	buckets := []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

	m := &Metrics{
		EndpointChecksTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passgfw_endpoint_checks_total",
				Help: "Total number of endpoint checks by endpoint kind and result",
			},
			[]string{"kind", "result"},
		),
		EndpointFailuresTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passgfw_endpoint_failures_total",
				Help: "Total number of failed endpoint checks by error kind",
			},
			[]string{"error_kind"},
		),
		VerifyDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "passgfw_verify_duration_seconds",
				Help:    "Time spent on a single challenge-response attempt",
				Buckets: buckets,
			},
			[]string{"result"},
		),
		ListFetchesTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passgfw_list_fetches_total",
				Help: "Total number of list documents fetched by result",
			},
			[]string{"result"},
		),
		ListSizes: defaultRegisterer.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "passgfw_list_size_urls",
				Help:    "Number of URLs parsed out of fetched lists",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
			},
		),
		PassesTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passgfw_passes_total",
				Help: "Total number of passes over the endpoint set by outcome",
			},
			[]string{"outcome"},
		),
		ServersFoundTotal: defaultRegisterer.NewCounter(
			prometheus.CounterOpts{
				Name: "passgfw_servers_found_total",
				Help: "Total number of successful discoveries",
			},
		),

		// Network metrics
		NetworkRequestDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "passgfw_network_request_duration_seconds",
				Help:    "Time spent on network requests",
				Buckets: buckets,
			},
			[]string{"method"},
		),
		NetworkRequestsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passgfw_network_requests_total",
				Help: "Total number of network requests",
			},
			[]string{"method", "status"},
		),
		NetworkErrorsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passgfw_network_errors_total",
				Help: "Total number of network errors",
			},
			[]string{"method", "error_type"},
		),
		RateLimitDelay: defaultRegisterer.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "passgfw_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the outbound request limiter",
				Buckets: buckets,
			},
		),

		ResponderRequestsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passgfw_responder_requests_total",
				Help: "Total number of challenges handled by the reference responder",
			},
			[]string{"result"},
		),
	}

	return m
}

// StartMetricsServer starts an HTTP server to expose Prometheus metrics
func StartMetricsServer(addr string) error {
	if !metricsEnabled {
		return nil
	}

	// Only start once
	metricsInitialized.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		metricsServer = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			log.Printf("Starting metrics server on %s", addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	})

	return nil
}

// ShutdownMetricsServer gracefully shuts down the metrics server
func ShutdownMetricsServer(ctx context.Context) error {
	if metricsServer != nil {
		log.Println("Shutting down metrics server...")
		return metricsServer.Shutdown(ctx)
	}
	return nil
}

// MeasureDuration starts a timer and returns the func that observes it into histogram.
// Transports defer it around each request.
func MeasureDuration(histogram *prometheus.HistogramVec, labels prometheus.Labels) func() {
	if !metricsEnabled {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		histogram.With(labels).Observe(duration.Seconds())
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ObserveVerification records one challenge-response attempt that began at start.
// errorKind is only counted for failed attempts.
func ObserveVerification(start time.Time, ok bool, errorKind string) {
	if !metricsEnabled {
		return
	}
	m := GetMetrics()
	m.VerifyDuration.WithLabelValues(result(ok)).Observe(time.Since(start).Seconds())
	if !ok {
		m.EndpointFailuresTotal.WithLabelValues(errorKind).Inc()
	}
}

// RecordEndpointCheck counts a dispatched check of a direct or list endpoint.
func RecordEndpointCheck(kind string, ok bool) {
	if !metricsEnabled {
		return
	}
	GetMetrics().EndpointChecksTotal.WithLabelValues(kind, result(ok)).Inc()
}

// RecordListFetch counts a list fetch and, when it parsed, the number of URLs it held.
func RecordListFetch(ok bool, urls int) {
	if !metricsEnabled {
		return
	}
	m := GetMetrics()
	m.ListFetchesTotal.WithLabelValues(result(ok)).Inc()
	if ok {
		m.ListSizes.Observe(float64(urls))
	}
}

// RecordPass counts one finished pass over the endpoint set.
func RecordPass(found bool) {
	if !metricsEnabled {
		return
	}
	m := GetMetrics()
	if found {
		m.PassesTotal.WithLabelValues("found").Inc()
		m.ServersFoundTotal.Inc()
		return
	}
	m.PassesTotal.WithLabelValues("exhausted").Inc()
}

// RecordNetworkRequest counts an outbound request; its latency is measured with MeasureDuration.
// errorType is empty for requests that produced an HTTP response.
func RecordNetworkRequest(method string, status int, errorType string) {
	if !metricsEnabled {
		return
	}
	m := GetMetrics()
	if errorType != "" {
		m.NetworkErrorsTotal.WithLabelValues(method, errorType).Inc()
		m.NetworkRequestsTotal.WithLabelValues(method, "error").Inc()
		return
	}
	m.NetworkRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// RecordRateLimitDelay records time spent blocked on the request limiter.
func RecordRateLimitDelay(d time.Duration) {
	if !metricsEnabled {
		return
	}
	GetMetrics().RateLimitDelay.Observe(d.Seconds())
}

// RecordResponderRequest counts a challenge handled by the reference responder.
func RecordResponderRequest(outcome string) {
	if !metricsEnabled {
		return
	}
	GetMetrics().ResponderRequestsTotal.WithLabelValues(outcome).Inc()
}
