package pwhash

import (
	"strings"
	"testing"

	_ "github.com/castellan-dir/castellan/testing"
)

func TestSaltedSHA1RoundTrip(t *testing.T) {
	stored, err := Hash(SchemeSaltedSHA1, "correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(stored, "{SSHA}") {
		t.Fatalf("unexpected representation %q", stored)
	}
	if !Verify("correct horse", stored) {
		t.Fatal("expected verification to succeed")
	}
	if Verify("wrong", stored) {
		t.Fatal("expected verification to fail")
	}
}

func TestBcryptRoundTrip(t *testing.T) {
	stored, err := Hash(SchemeBcrypt, "hunter2hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(stored, "{CRYPT}") {
		t.Fatalf("unexpected representation %q", stored)
	}
	if !Verify("hunter2hunter2", stored) {
		t.Fatal("expected verification to succeed")
	}
	if Verify("hunter3hunter3", stored) {
		t.Fatal("expected verification to fail")
	}
}

func TestPlaintext(t *testing.T) {
	stored, err := Hash(SchemePlaintext, "secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if stored != "secret" {
		t.Fatalf("unexpected representation %q", stored)
	}
	if !Verify("secret", "secret") || Verify("other", "secret") {
		t.Fatal("plaintext comparison broken")
	}
}

func TestUnknownScheme(t *testing.T) {
	if _, err := Hash(Scheme("md5"), "x"); err == nil {
		t.Fatal("expected error for unknown scheme")
	}
	if Known(Scheme("md5")) {
		t.Fatal("md5 must not be known")
	}
	if !Known(SchemeBcrypt) {
		t.Fatal("bcrypt must be known")
	}
}

func TestGenerate(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 16; i++ {
		secret, err := Generate()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(secret) != 24 {
			t.Fatalf("unexpected length %d", len(secret))
		}
		for _, c := range secret {
			if !strings.ContainsRune(generateAlphabet, c) {
				t.Fatalf("unexpected character %q", c)
			}
		}
		if seen[secret] {
			t.Fatal("duplicate secret generated")
		}
		seen[secret] = true
	}
}
