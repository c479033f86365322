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
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"github.com/x-stp/passgfw/internal/codec"
)

const verifyURL = "https://good.example.com/passgfw"

func newTestVerifier(transport Transport, crypto Crypto) *Verifier {
	return NewVerifier(transport, crypto, codec.New(), DefaultSettings(), nil)
}

func TestVerifySuccess(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	transport.posts[verifyURL] = responder(t, "final.example.com", nil)
	crypto := &fakeCrypto{}

	domain, err := newTestVerifier(transport, crypto).Verify(context.Background(), verifyURL, "hello")
	require.NoError(t, err)
	require.Equal(t, "final.example.com", domain)

	payload, err := codec.New().ParseJSON(string(crypto.lastPlaintext()))
	require.NoError(t, err)
	require.Equal(t, "hello", payload[FieldClientData])
	nonce, err := base64.StdEncoding.DecodeString(payload[FieldNonce])
	require.NoError(t, err)
	require.Len(t, nonce, NonceSize)
}

func TestVerifyDomainComesFromAssertion(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	transport.posts[verifyURL] = responder(t, "elsewhere.example.net:8443", nil)

	domain, err := newTestVerifier(transport, &fakeCrypto{}).Verify(context.Background(), verifyURL, "")
	require.NoError(t, err)
	require.Equal(t, "elsewhere.example.net:8443", domain)
}

func TestVerifyTruncatesClientData(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	transport.posts[verifyURL] = responder(t, "final.example.com", nil)
	crypto := &fakeCrypto{}

	long := strings.Repeat("a", MaxClientDataSize) + strings.Repeat("b", 100)
	_, err := newTestVerifier(transport, crypto).Verify(context.Background(), verifyURL, long)
	require.NoError(t, err)

	payload, err := codec.New().ParseJSON(string(crypto.lastPlaintext()))
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("a", MaxClientDataSize), payload[FieldClientData])
}

// limitedCrypto is a fakeCrypto with an RSA-style plaintext ceiling.
type limitedCrypto struct {
	fakeCrypto
	limit int
}

func (c *limitedCrypto) MaxPlaintext() int { return c.limit }

func (c *limitedCrypto) EncryptWithPublicKey(plaintext []byte) ([]byte, error) {
	if len(plaintext) > c.limit {
		return nil, fmt.Errorf("plaintext %d > %d bytes", len(plaintext), c.limit)
	}
	return c.fakeCrypto.EncryptWithPublicKey(plaintext)
}

func TestVerifyFitsEscapedClientDataUnderCeiling(t *testing.T) {
	t.Parallel()

	// 318 is the OAEP-SHA256 ceiling of the 3072-bit built-in key.
	const limit = 318
	tests := []struct {
		name       string
		clientData string
	}{
		{"quotes", strings.Repeat(`"`, MaxClientDataSize)},
		{"html", strings.Repeat("<", MaxClientDataSize)},
		{"control", strings.Repeat("\x01", MaxClientDataSize)},
		{"mixed", strings.Repeat("a\"<>&\\\x01\né", 40)},
		{"plain", strings.Repeat("a", MaxClientDataSize)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			transport := newFakeTransport()
			transport.posts[verifyURL] = responder(t, "final.example.com", nil)
			crypto := &limitedCrypto{limit: limit}

			domain, err := newTestVerifier(transport, crypto).Verify(context.Background(), verifyURL, tt.clientData)
			require.NoError(t, err)
			require.Equal(t, "final.example.com", domain)
			require.Equal(t, 1, transport.count("POST "+verifyURL))

			plaintext := crypto.lastPlaintext()
			require.LessOrEqual(t, len(plaintext), limit)
			payload, err := codec.New().ParseJSON(string(plaintext))
			require.NoError(t, err)
			sent := payload[FieldClientData]
			require.True(t, utf8.ValidString(sent))
			require.True(t, strings.HasPrefix(tt.clientData, sent))
			require.NotEmpty(t, sent)
		})
	}
}

func TestVerifyPlainClientDataIsNotCutFurther(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	transport.posts[verifyURL] = responder(t, "final.example.com", nil)
	crypto := &limitedCrypto{limit: 318}

	data := strings.Repeat("a", MaxClientDataSize)
	_, err := newTestVerifier(transport, crypto).Verify(context.Background(), verifyURL, data)
	require.NoError(t, err)

	payload, err := codec.New().ParseJSON(string(crypto.lastPlaintext()))
	require.NoError(t, err)
	require.Equal(t, data, payload[FieldClientData])
}

func TestTruncateUTF8(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"abc", 5, "abc"},
		{"abc", 2, "ab"},
		{"aé", 2, "a"},
		{"éé", 3, "é"},
		{"a€b", 3, "a"},
		{"€", 0, ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, truncateUTF8(tt.in, tt.n), "%q[:%d]", tt.in, tt.n)
	}
}

func TestVerifyNonceSingleBitMutation(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	transport.posts[verifyURL] = responder(t, "final.example.com", func(a map[string]string) {
		nonce, err := base64.StdEncoding.DecodeString(a[FieldNonce])
		if err != nil || len(nonce) == 0 {
			return
		}
		nonce[len(nonce)-1] ^= 0x01
		a[FieldNonce] = base64.StdEncoding.EncodeToString(nonce)
	})

	_, err := newTestVerifier(transport, &fakeCrypto{}).Verify(context.Background(), verifyURL, "")
	require.ErrorIs(t, err, ErrNonceMismatch)
	require.Equal(t, KindNonceMismatch, KindOf(err))
}

func TestVerifyFailures(t *testing.T) {
	t.Parallel()

	signed := func(data string) string {
		body, _ := codec.New().ToJSON(map[string]string{
			FieldData:      data,
			FieldSignature: base64.StdEncoding.EncodeToString(fakeSign([]byte(data))),
		})
		return body
	}
	fixed := func(resp Response) func(string) Response {
		return func(string) Response { return resp }
	}
	ok := func(body string) Response {
		return Response{Success: true, StatusCode: 200, Body: body}
	}

	tests := []struct {
		name      string
		crypto    *fakeCrypto
		handler   func(string) Response
		wantKind  ErrorKind
		wantPosts int
	}{
		{
			name:     "random generation error",
			crypto:   &fakeCrypto{randErr: errBoom},
			wantKind: KindRandomGenerationFailed,
		},
		{
			name:     "random generation empty",
			crypto:   &fakeCrypto{emptyRand: true},
			wantKind: KindRandomGenerationFailed,
		},
		{
			name:     "encryption error",
			crypto:   &fakeCrypto{encErr: errBoom},
			wantKind: KindEncryptionFailed,
		},
		{
			name:      "transport failure",
			handler:   fixed(Response{Error: "HTTP error: 503", StatusCode: 503}),
			wantKind:  KindTransportFailed,
			wantPosts: 1,
		},
		{
			name:      "body not json",
			handler:   fixed(ok("<html>blocked</html>")),
			wantKind:  KindMalformedResponse,
			wantPosts: 1,
		},
		{
			name:      "missing signature",
			handler:   fixed(ok(`{"data":"{}"}`)),
			wantKind:  KindMalformedResponse,
			wantPosts: 1,
		},
		{
			name:      "signature not base64",
			handler:   fixed(ok(`{"data":"{}","signature":"%%%"}`)),
			wantKind:  KindSignatureInvalid,
			wantPosts: 1,
		},
		{
			name:      "signature from another key",
			handler:   fixed(ok(`{"data":"{\"nonce\":\"x\",\"server_domain\":\"evil.com\"}","signature":"c2lnbmF0dXJl"}`)),
			wantKind:  KindSignatureInvalid,
			wantPosts: 1,
		},
		{
			name:      "signed data not json",
			handler:   fixed(ok(signed("plain text"))),
			wantKind:  KindMalformedResponse,
			wantPosts: 1,
		},
		{
			name:      "signed data missing domain",
			handler:   fixed(ok(signed(`{"nonce":"AAAA"}`))),
			wantKind:  KindMalformedResponse,
			wantPosts: 1,
		},
		{
			name:      "replayed nonce",
			handler:   fixed(ok(signed(`{"nonce":"AAAA","server_domain":"final.example.com"}`))),
			wantKind:  KindNonceMismatch,
			wantPosts: 1,
		},
		{
			name:      "empty server domain",
			handler:   responder(t, "", nil),
			wantKind:  KindMalformedResponse,
			wantPosts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			transport := newFakeTransport()
			if tt.handler != nil {
				transport.posts[verifyURL] = tt.handler
			}
			crypto := tt.crypto
			if crypto == nil {
				crypto = &fakeCrypto{}
			}

			domain, err := newTestVerifier(transport, crypto).Verify(context.Background(), verifyURL, "data")
			require.Error(t, err)
			require.Empty(t, domain)
			require.Equal(t, tt.wantKind, KindOf(err), "error: %v", err)
			require.Equal(t, tt.wantPosts, transport.count("POST "+verifyURL))
		})
	}
}

func TestVerifyTransportMessageIsKept(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	transport.posts[verifyURL] = func(string) Response {
		return Response{Error: "HTTP error: 403", StatusCode: 403}
	}

	_, err := newTestVerifier(transport, &fakeCrypto{}).Verify(context.Background(), verifyURL, "")
	require.ErrorIs(t, err, ErrTransportFailed)
	require.Contains(t, err.Error(), "HTTP error: 403")
	require.Contains(t, err.Error(), verifyURL)
}
