package crypto

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
Package crypto implements the public-key side of endpoint verification with RSA.

Clients hold only the server's public key: payloads are encrypted with RSA-OAEP over SHA-256 and
server signatures are checked as RSA-PKCS#1 v1.5 or RSA-PSS over SHA-256. The KeyPair type is the
server half used by the reference responder and the keygen command.
*/

import (
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
)

// Key size bounds accepted by GenerateKeyPair.
const (
	MinKeyBits = 1024
	MaxKeyBits = 8192
)

var (
	// ErrNoPEMBlock is returned when key material holds no PEM block.
	ErrNoPEMBlock = errors.New("no PEM block found")
	// ErrNotRSA is returned for keys of another algorithm.
	ErrNotRSA = errors.New("key is not an RSA key")
	// ErrPlaintextTooLong is returned when a payload exceeds the OAEP ceiling of the key.
	ErrPlaintextTooLong = errors.New("plaintext exceeds RSA-OAEP limit")
)

// RSA is the client-side crypto provider. It implements core.Crypto.
type RSA struct {
	pub    *rsa.PublicKey
	random io.Reader
}

// NewRSA parses a PEM encoded public key ("PUBLIC KEY" or "RSA PUBLIC KEY").
func NewRSA(publicKeyPEM []byte) (*RSA, error) {
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	return NewRSAFromKey(pub), nil
}

// NewRSAFromKey wraps an already parsed public key.
func NewRSAFromKey(pub *rsa.PublicKey) *RSA {
	return &RSA{pub: pub, random: rand.Reader}
}

// ParsePublicKey decodes a PKIX or PKCS#1 RSA public key from PEM.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrNoPEMBlock
	}

	switch block.Type {
	case "RSA PUBLIC KEY":
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing PKCS#1 public key: %w", err)
		}
		return pub, nil
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing PKIX public key: %w", err)
		}
		pub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, ErrNotRSA
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}

// GenerateRandom returns n bytes from crypto/rand.
func (r *RSA) GenerateRandom(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid random length %d", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.random, b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}

// MaxPlaintext is the largest payload EncryptWithPublicKey accepts for this key.
func (r *RSA) MaxPlaintext() int {
	return MaxOAEPPlaintext(r.pub)
}

// MaxOAEPPlaintext returns k - 2*hLen - 2 for SHA-256 OAEP, where k is the modulus size in bytes.
func MaxOAEPPlaintext(pub *rsa.PublicKey) int {
	return pub.Size() - 2*sha256.Size - 2
}

// EncryptWithPublicKey encrypts plaintext with RSA-OAEP SHA-256.
func (r *RSA) EncryptWithPublicKey(plaintext []byte) ([]byte, error) {
	if limit := r.MaxPlaintext(); len(plaintext) > limit {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrPlaintextTooLong, len(plaintext), limit)
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), r.random, r.pub, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("RSA-OAEP encryption: %w", err)
	}
	return ct, nil
}

// VerifySignature accepts an RSA-PKCS#1 v1.5 or RSA-PSS signature over SHA-256(data).
func (r *RSA) VerifySignature(data, signature []byte) bool {
	if len(signature) == 0 {
		return false
	}
	digest := sha256.Sum256(data)
	if rsa.VerifyPKCS1v15(r.pub, stdcrypto.SHA256, digest[:], signature) == nil {
		return true
	}
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: stdcrypto.SHA256}
	return rsa.VerifyPSS(r.pub, stdcrypto.SHA256, digest[:], signature, opts) == nil
}
