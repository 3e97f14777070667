// SPDX-License-Identifier: MIT

// Package userkey normalizes and validates the opaque, email-shaped user
// keys clients authenticate with. All comparisons elsewhere in the service
// are bytewise on the normalized form.
package userkey

import (
	"errors"
	"strings"
	"unicode"
)

// ErrInvalid reports a user key that fails syntactic validation.
var ErrInvalid = errors.New("invalid user key")

// MaxLength bounds accepted keys; longer input is rejected before any
// further inspection.
const MaxLength = 254

// Normalize trims Unicode whitespace and invisible edge characters,
// lowercases the key, and validates its shape: exactly one "@", a nonempty
// local part, and a domain with at least one dot separating nonempty labels.
// The same predicate guards both the session auth path and the login path.
func Normalize(raw string) (string, error) {
	if len(raw) > MaxLength {
		return "", ErrInvalid
	}
	key := strings.ToLower(strings.TrimFunc(raw, func(r rune) bool {
		return unicode.IsSpace(r) ||
			r == '​' || // Zero Width Space
			r == '‌' || // Zero Width Non-Joiner
			r == '‍' || // Zero Width Joiner
			r == '\uFEFF' // Zero Width No-Break Space (BOM)
	}))
	if !wellFormed(key) {
		return "", ErrInvalid
	}
	return key, nil
}

func wellFormed(key string) bool {
	for _, r := range key {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	at := strings.IndexByte(key, '@')
	if at <= 0 || at != strings.LastIndexByte(key, '@') {
		return false
	}
	domain := key[at+1:]
	if !strings.ContainsRune(domain, '.') {
		return false
	}
	for _, label := range strings.Split(domain, ".") {
		if label == "" {
			return false
		}
	}
	return true
}
