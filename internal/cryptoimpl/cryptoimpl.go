// Package cryptoimpl provides the default ports.CryptoPort implementation:
// the handful of cryptographic primitives spec §6 carves out as an
// external collaborator (hashing, HMAC, constant-time comparison), built
// entirely on the standard library's crypto/* packages — the one place
// the rest of the pack (other_examples' massifs-rootsigner.go included)
// also reaches directly for stdlib crypto rather than a third-party
// wrapper.
package cryptoimpl

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// Crypto implements ports.CryptoPort.
type Crypto struct{}

// New returns the default CryptoPort implementation.
func New() *Crypto { return &Crypto{} }

// Hash returns hex(SHA-256(data)). "sha256" is the only supported
// algorithm name, per spec §6.
func (c *Crypto) Hash(algorithm string, data []byte) (string, error) {
	if algorithm != "sha256" {
		return "", fmt.Errorf("cryptoimpl: unsupported hash algorithm %q", algorithm)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HMAC returns HMAC-SHA256(key, data). "sha256" is the only supported
// algorithm name.
func (c *Crypto) HMAC(algorithm string, key []byte, data []byte) ([]byte, error) {
	if algorithm != "sha256" {
		return nil, fmt.Errorf("cryptoimpl: unsupported HMAC algorithm %q", algorithm)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// TimingSafeEqual compares a and b in constant time relative to their
// shared length. Mismatched lengths short-circuit (spec §4.9:
// "length-mismatch short-circuits").
func (c *Crypto) TimingSafeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
