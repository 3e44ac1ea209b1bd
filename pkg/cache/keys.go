package cache

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// KeyPrefix is prepended to every generated cache key.
const KeyPrefix = "exec:"

// ValidateKey checks if a cache key is valid.
// Returns nil if the key is valid, or an error describing the problem.
//
// Rules:
// - Non-empty string
// - Maximum length of 250 characters
// - No control characters (0x00-0x1F and 0x7F-0x9F)
// - No leading or trailing whitespace
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	if len(key) > 250 {
		return fmt.Errorf("%w: key too long (max 250 characters)", ErrInvalidKey)
	}

	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: key contains control character", ErrInvalidKey)
		}
	}

	if len(strings.TrimSpace(key)) != len(key) {
		return fmt.Errorf("%w: key has leading or trailing whitespace", ErrInvalidKey)
	}

	return nil
}

// GenerateKey derives the cache key for parts scoped to userKey.
//
// Parts are encoded in order with map keys sorted, so structurally equal
// values always produce the same key. The same parts under a different
// userKey produce a different key; pass GlobalUserKey to share an entry
// across users.
func GenerateKey(userKey string, parts ...interface{}) (string, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)

	if err := enc.EncodeString(userKey); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if err := enc.EncodeArrayLen(len(parts)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	for i, part := range parts {
		if err := enc.Encode(part); err != nil {
			return "", fmt.Errorf("%w: part %d: %v", ErrInvalidKey, i, err)
		}
	}

	var sum [8]byte
	h := xxhash.Sum64(buf.Bytes())
	for i := 0; i < 8; i++ {
		sum[7-i] = byte(h >> (8 * i))
	}

	return KeyPrefix + hex.EncodeToString(sum[:]), nil
}

// MustGenerateKey is like GenerateKey but panics if the parts cannot be encoded.
func MustGenerateKey(userKey string, parts ...interface{}) string {
	key, err := GenerateKey(userKey, parts...)
	if err != nil {
		panic(fmt.Sprintf("invalid key parts: %v", err))
	}
	return key
}
