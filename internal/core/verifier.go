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
	"crypto/subtle"
	"encoding/base64"
	"time"
	"unicode/utf8"

	"github.com/x-stp/passgfw/internal/metrics"
)

// Wire field names of the challenge-response exchange.
const (
	FieldNonce        = "nonce"
	FieldClientData   = "client_data"
	FieldData         = "data"
	FieldSignature    = "signature"
	FieldServerDomain = "server_domain"
)

// Verifier runs one challenge-response exchange against a direct endpoint.
//
// The client sends a fresh nonce (plus optional client data) encrypted to the server's public
// key. A genuine server decrypts it and answers with a signed assertion echoing the nonce and
// naming its current domain. Only a holder of the private key can produce that answer for this
// nonce, so a spoofed or replayed response fails either the signature or the nonce check.
type Verifier struct {
	transport Transport
	crypto    Crypto
	codec     Codec
	logger    Logger

	nonceSize         int
	maxClientDataSize int
}

// NewVerifier wires a Verifier to its collaborators.
// A nil logger discards output.
func NewVerifier(transport Transport, crypto Crypto, codec Codec, settings Settings, logger Logger) *Verifier {
	if logger == nil {
		logger = discardLogger
	}
	return &Verifier{
		transport:         transport,
		crypto:            crypto,
		codec:             codec,
		logger:            logger,
		nonceSize:         settings.NonceSize,
		maxClientDataSize: settings.MaxClientDataSize,
	}
}

// Verify performs a single attempt against url and returns the domain the server asserts.
// Every failure is returned as an *Error; nothing is retried here.
func (v *Verifier) Verify(ctx context.Context, url, clientData string) (string, error) {
	start := time.Now()
	domain, err := v.verify(ctx, url, clientData)
	metrics.ObserveVerification(start, err == nil, KindOf(err).String())
	return domain, err
}

func (v *Verifier) verify(ctx context.Context, url, clientData string) (string, error) {
	// 1. Challenge.
	nonce, err := v.crypto.GenerateRandom(v.nonceSize)
	if err != nil {
		return "", wrapError(KindRandomGenerationFailed, url, err, "failed to generate nonce")
	}
	if len(nonce) == 0 {
		return "", newError(KindRandomGenerationFailed, url, "failed to generate nonce")
	}
	nonceB64 := base64.StdEncoding.EncodeToString(nonce)
	v.logger.Printf("[debug] verifying %s with nonce %s", url, fingerprint(nonce))

	// 2. Client data, cut to the plaintext budget.
	if len(clientData) > v.maxClientDataSize {
		v.logger.Printf("[debug] client data truncated from %d to %d bytes", len(clientData), v.maxClientDataSize)
		clientData = truncateUTF8(clientData, v.maxClientDataSize)
	}

	// 3. Payload, shrunk until its encoded form fits the key.
	payload, err := v.encodePayload(nonceB64, clientData)
	if err != nil {
		return "", wrapError(KindPayloadEncodingFailed, url, err, "failed to encode payload")
	}

	// 4. Encryption.
	ciphertext, err := v.crypto.EncryptWithPublicKey([]byte(payload))
	if err != nil {
		return "", wrapError(KindEncryptionFailed, url, err, "failed to encrypt payload")
	}
	if len(ciphertext) == 0 {
		return "", newError(KindEncryptionFailed, url, "failed to encrypt payload")
	}

	// 5. Envelope and POST.
	request, err := v.codec.ToJSON(map[string]string{
		FieldData: base64.StdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return "", wrapError(KindPayloadEncodingFailed, url, err, "failed to encode request")
	}
	resp := v.transport.Post(ctx, url, request)

	// 6. Transport.
	if !resp.Success {
		return "", newError(KindTransportFailed, url, "POST request failed: %s", resp.Error)
	}

	// 7. Envelope shape.
	envelope, err := v.codec.ParseJSON(resp.Body)
	if err != nil {
		return "", wrapError(KindMalformedResponse, url, err, "failed to parse response")
	}
	data, hasData := envelope[FieldData]
	sigB64, hasSig := envelope[FieldSignature]
	if !hasData || !hasSig {
		return "", newError(KindMalformedResponse, url, "response missing required fields")
	}

	// 8. Authenticity.
	signature, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil || !v.crypto.VerifySignature([]byte(data), signature) {
		return "", newError(KindSignatureInvalid, url, "signature verification failed")
	}

	// 9. Assertion shape.
	assertion, err := v.codec.ParseJSON(data)
	if err != nil {
		return "", wrapError(KindMalformedResponse, url, err, "failed to parse signed data")
	}
	echoed, hasNonce := assertion[FieldNonce]
	domain, hasDomain := assertion[FieldServerDomain]
	if !hasNonce || !hasDomain {
		return "", newError(KindMalformedResponse, url, "signed data missing required fields")
	}

	// 10. Freshness.
	if !nonceMatches(nonce, echoed) {
		return "", newError(KindNonceMismatch, url, "nonce mismatch")
	}

	// 11. The server names itself.
	if domain == "" {
		return "", newError(KindMalformedResponse, url, "empty server domain")
	}
	v.logger.Printf("[debug] %s verified, server domain %s", url, domain)
	return domain, nil
}

// encodePayload builds the JSON payload. When the crypto provider reports a plaintext ceiling
// and the escaped payload exceeds it, the longest rune-aligned prefix of client data that fits
// is sent instead.
func (v *Verifier) encodePayload(nonceB64, clientData string) (string, error) {
	encode := func(data string) (string, error) {
		return v.codec.ToJSON(map[string]string{
			FieldNonce:      nonceB64,
			FieldClientData: data,
		})
	}
	payload, err := encode(clientData)
	if err != nil {
		return "", err
	}
	limiter, bounded := v.crypto.(PlaintextLimiter)
	if !bounded || len(payload) <= limiter.MaxPlaintext() {
		return payload, nil
	}
	limit := limiter.MaxPlaintext()

	// The prefix of length lo fits (or lo is 0); the prefix of length hi does not.
	best, err := encode("")
	if err != nil {
		return "", err
	}
	lo, hi := 0, len(clientData)
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		p, err := encode(truncateUTF8(clientData, mid))
		if err != nil {
			return "", err
		}
		if len(p) <= limit {
			lo, best = mid, p
		} else {
			hi = mid
		}
	}
	v.logger.Printf("[debug] client data cut to %d bytes to fit the %d byte plaintext limit", len(truncateUTF8(clientData, lo)), limit)
	return best, nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a multi-byte rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for back := 0; n > 0 && back < utf8.UTFMax-1 && !utf8.RuneStart(s[n]); back++ {
		n--
	}
	return s[:n]
}

// nonceMatches decodes the echoed nonce and compares it to the challenge in constant time.
func nonceMatches(challenge []byte, echoed string) bool {
	got, err := base64.StdEncoding.DecodeString(echoed)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(challenge, got) == 1
}
