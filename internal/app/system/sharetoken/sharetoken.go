// Package sharetoken issues and checks the opaque tokens behind public links.
package sharetoken

import (
	"crypto/rand"
	"encoding/base64"
	"io"
)

// Size is the number of random bytes in a token (256 bits).
const Size = 32

// Generator produces share tokens. Tests swap Source to force collisions.
type Generator struct {
	Source io.Reader
}

// New returns a generator backed by crypto/rand.
func New() *Generator {
	return &Generator{Source: rand.Reader}
}

// Generate returns a random URL-safe token.
func (g *Generator) Generate() (string, error) {
	b := make([]byte, Size)
	if _, err := io.ReadFull(g.Source, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Valid reports whether s has the shape of a token this package issues.
// It is a cheap pre-check before a database lookup, not an authorization.
func Valid(s string) bool {
	if len(s) != base64.RawURLEncoding.EncodedLen(Size) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil
}
