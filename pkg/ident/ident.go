// Package ident generates and validates short prefixed identifiers for
// prepd entities.
//
// ID format: <kind:2>-<base62_ts:4><base62_rand:4> (11 chars total including
// the dash).
//
// Kinds:
//   - mt = meeting
//   - cs = chat session
//
// The timestamp component uses microseconds since epoch modulo 62^4
// (~171 day cycle); the random component provides 14M+ combinations.
package ident

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"
)

// Entity kind prefixes.
const (
	KindMeeting = "mt"
	KindSession = "cs"
)

// base62 alphabet: 0-9, a-z, A-Z
const base62Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// base62Max is 62^4 = 14,776,336 (used for timestamp wrapping)
const base62Max = 62 * 62 * 62 * 62

var validKinds = map[string]bool{
	KindMeeting: true,
	KindSession: true,
}

// Errors
var (
	ErrInvalidFormat = errors.New("invalid id format")
	ErrInvalidKind   = errors.New("invalid id kind")
)

// ID is a parsed identifier.
type ID struct {
	Kind      string // entity kind prefix (mt, cs)
	Timestamp string // base62 encoded timestamp (4 chars)
	Random    string // base62 encoded random component (4 chars)
	Raw       string // original id string
}

// String returns the string representation of the ID.
func (i ID) String() string {
	return i.Raw
}

// New generates a new identifier of the given kind.
// Panics if kind is not a valid kind constant.
func New(kind string) string {
	if !validKinds[kind] {
		panic(fmt.Sprintf("ident: invalid kind: %q", kind))
	}

	ts := encodeBase62(uint64(time.Now().UnixNano()/1000) % base62Max)
	rnd := randomBase62(4)

	return fmt.Sprintf("%s-%s%s", kind, ts, rnd)
}

// Parse validates and parses an identifier string.
func Parse(id string) (ID, error) {
	if len(id) != 11 {
		return ID{}, fmt.Errorf("%w: expected 11 characters, got %d", ErrInvalidFormat, len(id))
	}

	if id[2] != '-' {
		return ID{}, fmt.Errorf("%w: missing dash at position 2", ErrInvalidFormat)
	}

	prefix := id[:2]
	if !validKinds[prefix] {
		return ID{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidKind, prefix)
	}

	suffix := id[3:]
	if !isValidBase62(suffix) {
		return ID{}, fmt.Errorf("%w: suffix contains invalid characters", ErrInvalidFormat)
	}

	return ID{
		Kind:      prefix,
		Timestamp: suffix[:4],
		Random:    suffix[4:],
		Raw:       id,
	}, nil
}

// IsValid checks if a string is a valid identifier.
func IsValid(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// KindFromID extracts the entity kind from an identifier.
// Returns empty string if the identifier is invalid.
func KindFromID(id string) string {
	if _, err := Parse(id); err != nil {
		return ""
	}
	return id[:2]
}

// encodeBase62 encodes a value as exactly 4 base62 characters.
func encodeBase62(v uint64) string {
	buf := [4]byte{}
	for i := 3; i >= 0; i-- {
		buf[i] = base62Alphabet[v%62]
		v /= 62
	}
	return string(buf[:])
}

// randomBase62 returns n cryptographically random base62 characters.
func randomBase62(n int) string {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		panic(fmt.Sprintf("ident: reading random bytes: %v", err))
	}
	out := make([]byte, n)
	for i, b := range raw {
		out[i] = base62Alphabet[int(b)%62]
	}
	return string(out)
}

func isValidBase62(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		default:
			return false
		}
	}
	return true
}
