// Package passgfw is the embedding API: a handle-based facade over the discovery detector for
// host applications and language bindings.
//
// A handle owns one detector. GetFinalServer blocks until an endpoint verifies; Destroy cancels
// any discovery in flight and invalidates the handle for every later call.
package passgfw

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

	"github.com/x-stp/passgfw/internal/client"
	"github.com/x-stp/passgfw/internal/codec"
	"github.com/x-stp/passgfw/internal/config"
	"github.com/x-stp/passgfw/internal/core"
	"github.com/x-stp/passgfw/internal/crypto"
)

// Handle identifies a detector created by Create. The zero Handle is never valid.
type Handle uint64

var (
	// ErrInvalidHandle is returned for unknown or destroyed handles.
	ErrInvalidHandle = errors.New("passgfw: invalid handle")
	// ErrEmptyEndpoint is returned by AddEndpoint for an empty URL.
	ErrEmptyEndpoint = errors.New("passgfw: empty endpoint")
)

type instance struct {
	detector *core.Detector
	ctx      context.Context
	cancel   context.CancelFunc
}

var (
	registryMu sync.RWMutex
	registry   = make(map[Handle]*instance)
	nextHandle Handle
)

type options struct {
	cfg       *config.Config
	logger    core.Logger
	transport core.Transport
	crypto    core.Crypto
	endpoints []string
	settings  *core.Settings
}

// Option customizes Create.
type Option func(*options)

// WithConfig uses cfg for endpoints, key, transport and discovery settings.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sends detector progress to l.
func WithLogger(l core.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTransport replaces the HTTP transport.
func WithTransport(t core.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithCrypto replaces the RSA provider built from the configured public key.
func WithCrypto(c core.Crypto) Option {
	return func(o *options) { o.crypto = c }
}

// WithEndpoints replaces the initial endpoint set.
func WithEndpoints(endpoints ...string) Option {
	return func(o *options) { o.endpoints = append([]string(nil), endpoints...) }
}

// WithSettings replaces the discovery tunables.
func WithSettings(s core.Settings) Option {
	return func(o *options) { o.settings = &s }
}

// Create builds a detector preloaded with the built-in endpoints and key, or those of the
// config passed with WithConfig.
func Create(opts ...Option) (Handle, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.cfg
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	cryptoProvider := o.crypto
	if cryptoProvider == nil {
		pemData, err := cfg.PublicKeyPEM()
		if err != nil {
			return 0, err
		}
		rsaProvider, err := crypto.NewRSA(pemData)
		if err != nil {
			return 0, fmt.Errorf("loading public key: %w", err)
		}
		cryptoProvider = rsaProvider
	}

	transport := o.transport
	if transport == nil {
		transport = client.NewHTTPTransport(nil, cfg.HTTPClientConfig())
	}

	endpoints := o.endpoints
	if endpoints == nil {
		endpoints = cfg.Endpoints
	}
	settings := cfg.Settings()
	if o.settings != nil {
		settings = *o.settings
	}

	detector, err := core.NewDetector(core.DetectorConfig{
		Transport: transport,
		Crypto:    cryptoProvider,
		Codec:     codec.New(),
		Logger:    o.logger,
		Settings:  settings,
		Endpoints: endpoints,
	})
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	registryMu.Lock()
	nextHandle++
	h := nextHandle
	registry[h] = &instance{detector: detector, ctx: ctx, cancel: cancel}
	registryMu.Unlock()
	return h, nil
}

func lookup(h Handle) (*instance, error) {
	registryMu.RLock()
	inst, ok := registry[h]
	registryMu.RUnlock()
	if !ok {
		return nil, ErrInvalidHandle
	}
	return inst, nil
}

// Destroy cancels discovery in flight on h and invalidates it.
func Destroy(h Handle) error {
	registryMu.Lock()
	inst, ok := registry[h]
	delete(registry, h)
	registryMu.Unlock()
	if !ok {
		return ErrInvalidHandle
	}
	inst.cancel()
	return nil
}

// GetFinalServer blocks until an endpoint verifies and returns its asserted domain.
// It fails only when h is invalid or destroyed while the search runs.
func GetFinalServer(h Handle, clientData string) (string, error) {
	return GetFinalServerContext(context.Background(), h, clientData)
}

// GetFinalServerContext is GetFinalServer bounded by ctx as well. It returns ctx.Err() when ctx
// ends the search and ErrInvalidHandle when Destroy does.
func GetFinalServerContext(ctx context.Context, h Handle, clientData string) (string, error) {
	inst, err := lookup(h)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(inst.ctx, cancel)
	defer stop()

	domain, err := inst.detector.FindServer(ctx, clientData)
	if err != nil {
		if inst.ctx.Err() != nil {
			return "", ErrInvalidHandle
		}
		return "", err
	}
	return domain, nil
}

// SetEndpointList replaces the endpoint set of h.
func SetEndpointList(h Handle, endpoints []string) error {
	inst, err := lookup(h)
	if err != nil {
		return err
	}
	inst.detector.SetEndpoints(endpoints)
	return nil
}

// AddEndpoint appends url to the endpoint set of h.
func AddEndpoint(h Handle, url string) error {
	if url == "" {
		return ErrEmptyEndpoint
	}
	inst, err := lookup(h)
	if err != nil {
		return err
	}
	inst.detector.AddEndpoint(url)
	return nil
}

// GetLastError returns the most recent failure message of h.
func GetLastError(h Handle) (string, error) {
	inst, err := lookup(h)
	if err != nil {
		return "", err
	}
	return inst.detector.LastError(), nil
}
