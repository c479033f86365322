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

/*
Package client provides the HTTP side of endpoint discovery: a shared, tuned *http.Client and an
HTTPTransport that adapts it to core.Transport.

The package manages a shared global HTTP client instance that can be configured once and then retrieved by multiple
parts of the application. This promotes reuse of TCP connections and consistent client behavior.
*/

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/x-stp/passgfw/internal/core"
)

// HTTP client-specific constants.
const (
	// DialTimeout is the maximum amount of time a dial will wait for a connect to complete.
	DialTimeout = 5 * time.Second
	// KeepAliveTimeout is the interval between keep-alive probes for active network connections.
	KeepAliveTimeout = 60 * time.Second
	// RequestTimeout is the timeout for the entire HTTP request, including connection time, all redirects, and reading the response body.
	RequestTimeout = core.RequestTimeout
	// MaxIdleConnsPerHost is the maximum number of idle (keep-alive) connections to keep per-host.
	// Discovery talks to one host at a time, so a small pool is enough.
	MaxIdleConnsPerHost = 2
)

// Transport-level defaults.
const (
	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "passgfw/1.0"
	// DefaultRequestsPerSecond paces outbound requests across all endpoints.
	DefaultRequestsPerSecond = 5.0
	// DefaultBurst is the number of requests allowed back to back before pacing applies.
	DefaultBurst = 2
	// DefaultMaxBodySize caps the bytes read from any response.
	DefaultMaxBodySize = 1 << 20
)

var (
	// defaultDialTimeout specifies the default timeout for establishing a new connection.
	defaultDialTimeout = DialTimeout
	// defaultKeepAliveTimeout specifies the default keep-alive period for an active network connection.
	defaultKeepAliveTimeout = KeepAliveTimeout
	// defaultIdleConnTimeout is the maximum amount of time an idle (keep-alive) connection will remain
	// idle before closing itself.
	defaultIdleConnTimeout = 90 * time.Second
	// defaultMaxIdleConns controls the maximum number of idle (keep-alive) connections across all hosts.
	defaultMaxIdleConns = 16
	// defaultMaxConnsPerHost controls the maximum number of connections per host (includes dial, active, and idle).
	defaultMaxConnsPerHost = 4
	// defaultRequestTimeout specifies the default timeout for a complete HTTP request.
	defaultRequestTimeout = RequestTimeout

	// sharedClient is the global HTTP client instance used by the application.
	// It is lazily initialized on first use or when explicitly configured.
	sharedClient *http.Client
	// sharedClientLock protects access to sharedClient and clientInitialized.
	sharedClientLock sync.RWMutex
	// clientInitialized indicates whether the sharedClient has been initialized.
	clientInitialized bool
)

// Config holds configuration parameters for the HTTP client and the transport built on it.
// A zero-value Config will result in default settings being used.
type Config struct {
	// DialTimeout is the maximum duration for establishing a new connection.
	DialTimeout time.Duration
	// KeepAliveTimeout specifies the keep-alive period for an active network connection.
	KeepAliveTimeout time.Duration
	// IdleConnTimeout is the maximum amount of time an idle (keep-alive) connection
	// will remain idle before closing itself.
	IdleConnTimeout time.Duration
	// MaxIdleConns controls the maximum number of idle (keep-alive) connections across all hosts.
	MaxIdleConns int
	// MaxIdleConnsPerHost is the maximum number of idle (keep-alive) connections to keep per host.
	MaxIdleConnsPerHost int
	// MaxConnsPerHost controls the maximum number of connections per host, including connections in the dialing,
	// active, and idle states. On limit violation, dials will block.
	MaxConnsPerHost int
	// RequestTimeout is the timeout for the entire HTTP request, including connection time,
	// all redirects, and reading the response body.
	RequestTimeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string
	// RequestsPerSecond paces outbound requests. Negative disables pacing.
	RequestsPerSecond float64
	// Burst is the limiter's bucket size.
	Burst int
	// MaxBodySize caps the bytes read from a response body.
	MaxBodySize int64
}

// DefaultConfig returns a new Config struct populated with default HTTP client settings.
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:         defaultDialTimeout,
		KeepAliveTimeout:    defaultKeepAliveTimeout,
		IdleConnTimeout:     defaultIdleConnTimeout,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: MaxIdleConnsPerHost,
		MaxConnsPerHost:     defaultMaxConnsPerHost,
		RequestTimeout:      defaultRequestTimeout,
		UserAgent:           DefaultUserAgent,
		RequestsPerSecond:   DefaultRequestsPerSecond,
		Burst:               DefaultBurst,
		MaxBodySize:         DefaultMaxBodySize,
	}
}

// withDefaults returns a copy of config with every zero field filled; config itself is left
// untouched. A nil config yields DefaultConfig.
func withDefaults(config *Config) *Config {
	if config == nil {
		return DefaultConfig()
	}
	c := *config
	c.applyDefaults()
	return &c
}

// applyDefaults fills every zero field of config from DefaultConfig.
func (config *Config) applyDefaults() {
	// Any non zero vals coming in from e.g. a config file
	// or potential libs calling this - set something; don't
	// assume.
	if config.DialTimeout == 0 {
		config.DialTimeout = defaultDialTimeout
	}
	if config.KeepAliveTimeout == 0 {
		config.KeepAliveTimeout = defaultKeepAliveTimeout
	}
	if config.IdleConnTimeout == 0 {
		config.IdleConnTimeout = defaultIdleConnTimeout
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = defaultMaxIdleConns
	}
	if config.MaxIdleConnsPerHost == 0 {
		config.MaxIdleConnsPerHost = MaxIdleConnsPerHost
	}
	if config.MaxConnsPerHost == 0 {
		config.MaxConnsPerHost = defaultMaxConnsPerHost
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = defaultRequestTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = DefaultBurst
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
}

// newHTTPClient builds an *http.Client from a config with defaults applied.
func newHTTPClient(config *Config) *http.Client {
	// ForceAttemptHTTP2 is enabled to prefer HTTP/2 if available.
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment, // Respect standard proxy environment variables.
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAliveTimeout, // Enables TCP keep-alives.
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.RequestTimeout,
		ResponseHeaderTimeout: config.RequestTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.RequestTimeout, // Overall request timeout.
	}
}

// InitHTTPClient initializes or reconfigures the shared global HTTP client with the provided configuration.
// If a nil config is provided, it uses the default configuration obtained from DefaultConfig().
// This function is thread-safe.
func InitHTTPClient(config *Config) {
	sharedClientLock.Lock()
	defer sharedClientLock.Unlock()

	config = withDefaults(config)

	// If we're reinitializing an existing client, close idle connections on the old transport.
	// This helps avoid leaking idle keep-alive connections across reconfigs.
	if sharedClient != nil {
		if oldTransport, ok := sharedClient.Transport.(*http.Transport); ok && oldTransport != nil {
			oldTransport.CloseIdleConnections()
		}
	}

	sharedClient = newHTTPClient(config)
	clientInitialized = true
}

// GetHTTPClient returns the shared global HTTP client instance.
// If the client has not been initialized, it will be initialized with default settings.
// This function is thread-safe.
func GetHTTPClient() *http.Client {
	sharedClientLock.RLock() // Use RLock for initial check to allow concurrent reads.
	if !clientInitialized {
		sharedClientLock.RUnlock()
		// Client not initialized, need to acquire a write lock.
		InitHTTPClient(nil)
		sharedClientLock.RLock()
	}
	client := sharedClient
	sharedClientLock.RUnlock()
	return client
}

// ConfigureHTTPClient reconfigures the shared HTTP client from config and returns it.
// The CLI calls it once with the loaded config file so every command shares one pool.
func ConfigureHTTPClient(config *Config) *http.Client {
	InitHTTPClient(config) // InitHTTPClient handles locking.
	return GetHTTPClient()
}
