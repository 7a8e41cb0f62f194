// Package authpw hashes and verifies admin and staff passwords.
//
// New digests are bcrypt. Documents written by the earlier Flask front end
// carry werkzeug digests ("pbkdf2:sha256:<iter>$salt$hex" or
// "scrypt:<n>:<r>:<p>$salt$hex"); those still verify so existing accounts
// keep working.
package authpw

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

var (
	ErrEmptyPassword   = errors.New("password required")
	ErrPasswordTooLong = errors.New("password longer than 72 bytes")
)

// Hash returns a bcrypt digest of password.
func Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > 72 {
		return "", ErrPasswordTooLong
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(digest), nil
}

// Check reports whether password matches digest.
func Check(digest, password string) bool {
	if digest == "" || password == "" {
		return false
	}
	if strings.HasPrefix(digest, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
	}
	return checkWerkzeug(digest, password)
}

// IsLegacy reports whether digest uses a werkzeug format.
func IsLegacy(digest string) bool {
	return strings.HasPrefix(digest, "pbkdf2:") || strings.HasPrefix(digest, "scrypt:")
}

func checkWerkzeug(digest, password string) bool {
	parts := strings.SplitN(digest, "$", 3)
	if len(parts) != 3 {
		return false
	}
	method, salt, expectedHex := parts[0], parts[1], parts[2]
	expected, err := hex.DecodeString(expectedHex)
	if err != nil || len(expected) == 0 {
		return false
	}

	var computed []byte
	params := strings.Split(method, ":")
	switch params[0] {
	case "pbkdf2":
		if len(params) < 2 {
			return false
		}
		newHash, ok := hashByName(params[1])
		if !ok {
			return false
		}
		iterations := 600000
		if len(params) > 2 {
			if iterations, err = strconv.Atoi(params[2]); err != nil || iterations <= 0 {
				return false
			}
		}
		computed = pbkdf2.Key([]byte(password), []byte(salt), iterations, len(expected), newHash)
	case "scrypt":
		n, r, p := 32768, 8, 1
		if len(params) == 4 {
			values := make([]int, 3)
			for i, raw := range params[1:] {
				if values[i], err = strconv.Atoi(raw); err != nil || values[i] <= 0 {
					return false
				}
			}
			n, r, p = values[0], values[1], values[2]
		}
		if computed, err = scrypt.Key([]byte(password), []byte(salt), n, r, p, len(expected)); err != nil {
			return false
		}
	default:
		return false
	}
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

func hashByName(name string) (func() hash.Hash, bool) {
	switch name {
	case "sha256":
		return sha256.New, true
	case "sha512":
		return sha512.New, true
	case "sha1":
		return sha1.New, true
	default:
		return nil, false
	}
}
