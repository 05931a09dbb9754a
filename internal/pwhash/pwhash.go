// Package pwhash implements the RFC 2307 style password hashing schemes used
// for the userPassword attribute.
package pwhash

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Scheme names a supported hashing scheme as declared in the view schema.
type Scheme string

const (
	SchemeSaltedSHA1 Scheme = "salted_sha1"
	SchemeBcrypt     Scheme = "bcrypt"
	SchemePlaintext  Scheme = "plaintext"
)

const sshaSaltLen = 4

// Known reports whether the scheme name is supported.
func Known(s Scheme) bool {
	switch s {
	case SchemeSaltedSHA1, SchemeBcrypt, SchemePlaintext:
		return true
	}
	return false
}

// Hash produces the stored representation of a plaintext under the scheme.
func Hash(scheme Scheme, plaintext string) (string, error) {
	switch scheme {
	case SchemeSaltedSHA1:
		salt := make([]byte, sshaSaltLen)
		if _, err := rand.Read(salt); err != nil {
			return "", fmt.Errorf("pwhash: salt: %w", err)
		}
		return sshaEncode([]byte(plaintext), salt), nil
	case SchemeBcrypt:
		digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
		if err != nil {
			return "", fmt.Errorf("pwhash: bcrypt: %w", err)
		}
		return "{CRYPT}" + string(digest), nil
	case SchemePlaintext:
		return plaintext, nil
	default:
		return "", fmt.Errorf("pwhash: unknown scheme %q", scheme)
	}
}

// Verify checks a plaintext candidate against a stored representation,
// dispatching on the {SCHEME} prefix. Unprefixed values are compared as
// plaintext.
func Verify(plaintext, stored string) bool {
	switch {
	case strings.HasPrefix(stored, "{SSHA}"):
		raw, err := base64.StdEncoding.DecodeString(stored[len("{SSHA}"):])
		if err != nil || len(raw) <= sha1.Size {
			return false
		}
		digest, salt := raw[:sha1.Size], raw[sha1.Size:]
		h := sha1.New()
		h.Write([]byte(plaintext))
		h.Write(salt)
		return subtle.ConstantTimeCompare(digest, h.Sum(nil)) == 1
	case strings.HasPrefix(stored, "{CRYPT}"):
		return bcrypt.CompareHashAndPassword([]byte(stored[len("{CRYPT}"):]), []byte(plaintext)) == nil
	default:
		return subtle.ConstantTimeCompare([]byte(stored), []byte(plaintext)) == 1
	}
}

func sshaEncode(plaintext, salt []byte) string {
	h := sha1.New()
	h.Write(plaintext)
	h.Write(salt)
	return "{SSHA}" + base64.StdEncoding.EncodeToString(append(h.Sum(nil), salt...))
}

const generateAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Generate synthesizes a random secret for autoGenerate password fields.
func Generate() (string, error) {
	const length = 24
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("pwhash: generate: %w", err)
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = generateAlphabet[int(b)%len(generateAlphabet)]
	}
	return string(out), nil
}
