package server

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
Package server is a reference responder for the discovery protocol.

It answers challenges on POST /passgfw: the envelope is decrypted with the server's private key,
the client's nonce is echoed next to the domain the server wants clients to use, and the
assertion is signed. It also serves GET /health and, when configured, a marker list at GET /list
so a single process can act as both a list host and an endpoint in tests and small deployments.
*/

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/x-stp/passgfw/internal/codec"
	"github.com/x-stp/passgfw/internal/core"
	"github.com/x-stp/passgfw/internal/crypto"
	"github.com/x-stp/passgfw/internal/metrics"
)

// maxRequestBody bounds the envelope a client may send. An 8192-bit ciphertext is 1 KiB
// before base64, so this leaves ample room.
const maxRequestBody = 64 << 10

// Config configures a Server.
type Config struct {
	// Domain is asserted to clients. Empty means the request's Host header.
	Domain string
	// Routes maps a client_data value to a domain asserted instead of Domain.
	Routes map[string]string
	// List is served at /list. Empty disables the route.
	List []string
	// AccessLog enables chi's request logger.
	AccessLog bool
	// Logger receives errors. Nil discards them.
	Logger core.Logger
}

// Server answers discovery challenges.
type Server struct {
	keys   *crypto.KeyPair
	codec  *codec.JSON
	cfg    Config
	logger core.Logger
}

// New creates a responder signing with keys.
func New(keys *crypto.KeyPair, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		keys:   keys,
		codec:  codec.New(),
		cfg:    cfg,
		logger: logger,
	}
}

// RegisterRoutes registers the responder's routes on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	if s.cfg.AccessLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	r.Post("/passgfw", s.handleChallenge)
	r.Get("/health", s.handleHealth)
	if len(s.cfg.List) > 0 {
		r.Get("/list", s.handleList)
	}
}

// Handler returns a router with all routes registered.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.RegisterRoutes(r)
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       core.RequestTimeout,
		WriteTimeout:      core.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Respond builds the signed response body for an encrypted envelope.
// host is used as the asserted domain when no domain is configured.
func (s *Server) Respond(envelope, host string) (string, error) {
	req, err := s.codec.ParseJSON(envelope)
	if err != nil {
		return "", fmt.Errorf("invalid request body: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(req[core.FieldData])
	if err != nil || len(ct) == 0 {
		return "", errors.New("invalid request body")
	}
	pt, err := s.keys.Decrypt(ct)
	if err != nil {
		return "", errors.New("decryption failed")
	}
	payload, err := s.codec.ParseJSON(string(pt))
	if err != nil || payload[core.FieldNonce] == "" {
		return "", errors.New("invalid payload")
	}

	data, err := s.codec.ToJSON(map[string]string{
		core.FieldNonce:        payload[core.FieldNonce],
		core.FieldServerDomain: s.domainFor(payload[core.FieldClientData], host),
	})
	if err != nil {
		return "", err
	}
	sig, err := s.keys.Sign([]byte(data))
	if err != nil {
		return "", err
	}
	return s.codec.ToJSON(map[string]string{
		core.FieldData:      data,
		core.FieldSignature: base64.StdEncoding.EncodeToString(sig),
	})
}

func (s *Server) domainFor(clientData, host string) string {
	if d, ok := s.cfg.Routes[clientData]; ok && d != "" {
		return d
	}
	if s.cfg.Domain != "" {
		return s.cfg.Domain
	}
	return host
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.Respond(string(body), r.Host)
	if err != nil {
		s.logger.Printf("challenge from %s rejected: %v", r.RemoteAddr, err)
		metrics.RecordResponderRequest("rejected")
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	metrics.RecordResponderRequest("answered")

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"status":"ok"}`)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, core.FormatList(s.cfg.List))
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	body, err := s.codec.ToJSON(map[string]string{"error": msg})
	if err != nil {
		http.Error(w, msg, status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
