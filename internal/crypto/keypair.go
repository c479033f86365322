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

import (
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// KeyPair is the server half of the scheme: it decrypts client payloads and signs assertions.
type KeyPair struct {
	priv *rsa.PrivateKey
}

// GenerateKeyPair creates a fresh RSA key of the given size.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits < MinKeyBits || bits > MaxKeyBits {
		return nil, fmt.Errorf("key size %d outside %d-%d bits", bits, MinKeyBits, MaxKeyBits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key: %w", err)
	}
	return &KeyPair{priv: priv}, nil
}

// NewKeyPair wraps an existing private key.
func NewKeyPair(priv *rsa.PrivateKey) *KeyPair {
	return &KeyPair{priv: priv}
}

// LoadKeyPair parses a PEM private key in PKCS#1 ("RSA PRIVATE KEY") or PKCS#8 ("PRIVATE KEY") form.
func LoadKeyPair(data []byte) (*KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrNoPEMBlock
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing PKCS#1 private key: %w", err)
		}
		return &KeyPair{priv: priv}, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing PKCS#8 private key: %w", err)
		}
		priv, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, ErrNotRSA
		}
		return &KeyPair{priv: priv}, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}

// Public returns the client-side provider for this key pair.
func (k *KeyPair) Public() *RSA {
	return NewRSAFromKey(&k.priv.PublicKey)
}

// Bits returns the modulus size.
func (k *KeyPair) Bits() int {
	return k.priv.N.BitLen()
}

// Decrypt reverses EncryptWithPublicKey.
func (k *KeyPair) Decrypt(ciphertext []byte) ([]byte, error) {
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, k.priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("RSA-OAEP decryption: %w", err)
	}
	return pt, nil
}

// Sign produces an RSA-PKCS#1 v1.5 signature over SHA-256(data).
func (k *KeyPair) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, k.priv, stdcrypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}
	return sig, nil
}

// SignPSS produces an RSA-PSS signature over SHA-256(data).
func (k *KeyPair) SignPSS(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPSS(rand.Reader, k.priv, stdcrypto.SHA256, digest[:], nil)
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}
	return sig, nil
}

// PrivateKeyPEM encodes the private key as PKCS#1 PEM.
func (k *KeyPair) PrivateKeyPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(k.priv),
	})
}

// PublicKeyPEM encodes the public key as PKIX PEM.
func (k *KeyPair) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&k.priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("encoding public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
