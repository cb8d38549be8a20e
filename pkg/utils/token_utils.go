// Package utils provides small helpers shared across the service.
package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

// RandomToken returns a URL-safe random string with n bytes of entropy.
// Session and refresh-token identifiers use n=32.
func RandomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure means the platform RNG is broken; nothing
		// sensible can be issued from here.
		panic(fmt.Sprintf("utils: crypto/rand unavailable: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// HashToken returns the hex-encoded SHA-256 of a raw bearer token. Raw token
// values are never stored; only this hash is.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewKeyID returns a ring key identifier derived from the current time plus
// random hex, e.g. "key_20250114_093045_a1b2c3d4e5f60718".
func NewKeyID(now time.Time) string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("utils: crypto/rand unavailable: %v", err))
	}
	return fmt.Sprintf("key_%s_%s", now.UTC().Format("20060102_150405"), hex.EncodeToString(b))
}
