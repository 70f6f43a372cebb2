// Package ident generates compact typed identifiers for termit entities.
//
// ID Format: <type:2>-<base62_ts:4><base62_rand:6> (13 chars total including dash)
//
// Types:
//   - to = term occurrence
//   - ot = occurrence target
//   - ts = text quote selector
//   - ar = text analysis record
//
// The timestamp component is microseconds since epoch modulo 62^4, the random
// component adds 62^6 combinations on top of it.
package ident

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"
)

const (
	TypeOccurrence = "to"
	TypeTarget     = "ot"
	TypeSelector   = "ts"
	TypeRecord     = "ar"
)

// base62 alphabet: 0-9, a-z, A-Z
const base62Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// base62Max is 62^4, used for timestamp wrapping.
const base62Max = 62 * 62 * 62 * 62

const (
	tsLen   = 4
	randLen = 6
	idLen   = 3 + tsLen + randLen
)

var validTypes = map[string]bool{
	TypeOccurrence: true,
	TypeTarget:     true,
	TypeSelector:   true,
	TypeRecord:     true,
}

var (
	ErrInvalidFormat = errors.New("invalid identifier format")
	ErrInvalidType   = errors.New("invalid identifier type")
)

// New generates a new identifier of the given type.
// Panics if typ is not one of the type constants.
func New(typ string) string {
	if !validTypes[typ] {
		panic(fmt.Sprintf("ident: invalid type: %q", typ))
	}

	ts := encodeBase62(uint64(time.Now().UnixNano()/1000) % base62Max)
	return typ + "-" + ts + randomBase62(randLen)
}

// Parse validates id and returns its type prefix.
func Parse(id string) (string, error) {
	if len(id) != idLen {
		return "", fmt.Errorf("%w: expected %d characters, got %d", ErrInvalidFormat, idLen, len(id))
	}
	if id[2] != '-' {
		return "", fmt.Errorf("%w: missing dash at position 2", ErrInvalidFormat)
	}
	prefix := id[:2]
	if !validTypes[prefix] {
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidType, prefix)
	}
	if !isValidBase62(id[3:]) {
		return "", fmt.Errorf("%w: suffix contains invalid characters", ErrInvalidFormat)
	}
	return prefix, nil
}

// IsValid reports whether id is a well-formed identifier of the given type.
func IsValid(id, typ string) bool {
	prefix, err := Parse(id)
	return err == nil && prefix == typ
}

func encodeBase62(n uint64) string {
	result := make([]byte, tsLen)
	for i := tsLen - 1; i >= 0; i-- {
		result[i] = base62Alphabet[n%62]
		n /= 62
	}
	return string(result)
}

// randomBase62 uses rejection sampling to avoid modulo bias.
func randomBase62(length int) string {
	result := make([]byte, length)

	// values 0-247 map evenly onto 0-61
	const maxUnbiased = 248

	var buf [16]byte
	for i := 0; i < length; {
		if _, err := rand.Read(buf[:]); err != nil {
			panic(fmt.Sprintf("ident: reading random bytes: %v", err))
		}
		for _, b := range buf {
			if i == length {
				break
			}
			if b < maxUnbiased {
				result[i] = base62Alphabet[b%62]
				i++
			}
		}
	}

	return string(result)
}

func isValidBase62(s string) bool {
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}
