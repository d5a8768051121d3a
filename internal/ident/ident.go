// Package ident generates the opaque identifiers and correlation nonces the
// protocol uses for channel names, app tokens and request binding.
package ident

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand/v2"
)

const (
	// DefaultIDLen is the identifier length in hex characters (20 random bytes).
	DefaultIDLen = 40

	NonceMin = 100000
	NonceMax = 9999999
)

// NewID returns a fresh identifier of the default length.
func NewID() (string, error) {
	return NewIDLen(DefaultIDLen)
}

// NewIDLen returns hexChars hex characters read from the CSPRNG. hexChars
// must be positive and even.
func NewIDLen(hexChars int) (string, error) {
	if hexChars <= 0 || hexChars%2 != 0 {
		return "", fmt.Errorf("identifier length must be a positive even number of hex chars, got %d", hexChars)
	}
	raw := make([]byte, hexChars/2)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// NewNonce draws a correlation nonce from the default range. The nonce binds
// a response to the request that solicited it; it is not a secret.
func NewNonce() int {
	return NewNonceRange(NonceMin, NonceMax)
}

// NewNonceRange draws uniformly from [min, max].
func NewNonceRange(min, max int) int {
	if max < min {
		min, max = max, min
	}
	return min + mrand.IntN(max-min+1)
}
