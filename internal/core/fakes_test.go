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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/x-stp/passgfw/internal/codec"
)

// fakeCrypto encrypts with the identity function and signs with an HMAC, so a fake server
// can read the payload and produce signatures the client accepts.
type fakeCrypto struct {
	mu         sync.Mutex
	randErr    error
	encErr     error
	emptyRand  bool
	counter    byte
	plaintexts [][]byte
}

var fakeSigningKey = []byte("fake signing key")

func fakeSign(data []byte) []byte {
	mac := hmac.New(sha256.New, fakeSigningKey)
	mac.Write(data)
	return mac.Sum(nil)
}

func (c *fakeCrypto) GenerateRandom(n int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.randErr != nil {
		return nil, c.randErr
	}
	if c.emptyRand {
		return nil, nil
	}
	c.counter++
	b := make([]byte, n)
	for i := range b {
		b[i] = c.counter + byte(i)
	}
	return b, nil
}

func (c *fakeCrypto) EncryptWithPublicKey(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encErr != nil {
		return nil, c.encErr
	}
	c.plaintexts = append(c.plaintexts, append([]byte(nil), plaintext...))
	return append([]byte(nil), plaintext...), nil
}

func (c *fakeCrypto) VerifySignature(data, signature []byte) bool {
	return hmac.Equal(fakeSign(data), signature)
}

func (c *fakeCrypto) lastPlaintext() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.plaintexts) == 0 {
		return nil
	}
	return c.plaintexts[len(c.plaintexts)-1]
}

// fakeTransport answers GET from a map of bodies and POST through per-URL handlers.
type fakeTransport struct {
	mu    sync.Mutex
	lists map[string]Response
	posts map[string]func(body string) Response
	log   []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		lists: make(map[string]Response),
		posts: make(map[string]func(string) Response),
	}
}

func (f *fakeTransport) Get(_ context.Context, url string) Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, "GET "+url)
	if resp, ok := f.lists[url]; ok {
		return resp
	}
	return Response{Error: "connection refused"}
}

func (f *fakeTransport) Post(_ context.Context, url, body string) Response {
	f.mu.Lock()
	handler, ok := f.posts[url]
	f.log = append(f.log, "POST "+url)
	f.mu.Unlock()
	if ok {
		return handler(body)
	}
	return Response{Error: "connection refused"}
}

func (f *fakeTransport) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

func (f *fakeTransport) count(req string) int {
	n := 0
	for _, r := range f.requests() {
		if r == req {
			n++
		}
	}
	return n
}

func (f *fakeTransport) serveList(url, body string) {
	f.lists[url] = Response{Success: true, StatusCode: 200, Body: body, ContentType: "text/plain"}
}

// responder builds a POST handler that behaves like a genuine server asserting domain.
// tamper, when set, may rewrite the assertion before it is signed.
func responder(t *testing.T, domain string, tamper func(assertion map[string]string)) func(string) Response {
	t.Helper()
	c := codec.New()
	return func(body string) Response {
		envelope, err := c.ParseJSON(body)
		if err != nil {
			return Response{Success: true, StatusCode: 200, Body: "{}"}
		}
		plaintext, err := base64.StdEncoding.DecodeString(envelope[FieldData])
		if err != nil {
			return Response{Success: true, StatusCode: 200, Body: "{}"}
		}
		payload, err := c.ParseJSON(string(plaintext))
		if err != nil {
			return Response{Success: true, StatusCode: 200, Body: "{}"}
		}

		assertion := map[string]string{
			FieldNonce:        payload[FieldNonce],
			FieldServerDomain: domain,
		}
		if tamper != nil {
			tamper(assertion)
		}
		data, _ := c.ToJSON(assertion)
		resp, _ := c.ToJSON(map[string]string{
			FieldData:      data,
			FieldSignature: base64.StdEncoding.EncodeToString(fakeSign([]byte(data))),
		})
		return Response{Success: true, StatusCode: 200, Body: resp}
	}
}

// sleepRecorder is a SleepFunc that records delays instead of waiting.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	hook   func(d time.Duration)
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(d)
	}
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

var errBoom = errors.New("boom")
