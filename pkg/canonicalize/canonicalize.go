// Package canonicalize serializes documents into RFC 8785 (JSON
// Canonicalization Scheme) form.
//
// Persisted documents must be byte-stable for audit: stable key order, no
// insignificant whitespace, no HTML escaping. Canonicalization is the single
// place that guarantees it for every store.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Document returns the canonical JSON bytes of a document tree.
func Document(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: transform: %w", err)
	}
	return out, nil
}

// String returns the canonical JSON form as a string.
func String(v any) (string, error) {
	b, err := Document(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Hash returns the SHA-256 hex digest of the canonical form of v. Two
// documents hash equal iff their canonical bytes are equal.
func Hash(v any) (string, error) {
	b, err := Document(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
