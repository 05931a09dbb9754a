package auth

import (
	"errors"
	"testing"

	"github.com/castellan-dir/castellan/internal/schema"
	"github.com/castellan-dir/castellan/internal/shared"
)

func TestAntiSpamChallengeAndVerify(t *testing.T) {
	gate, err := NewAntiSpam([]schema.Question{
		{Question: "Name of the maintainer?", Answer: "^[lL]ukas$"},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !gate.Enabled() {
		t.Fatal("expected gate to be enabled")
	}

	question, token := gate.Challenge()
	if question != "Name of the maintainer?" {
		t.Fatalf("unexpected question %q", question)
	}
	_, again := gate.Challenge()
	if token != again {
		t.Fatal("token must be deterministic per question")
	}

	for _, answer := range []string{"lukas", "Lukas"} {
		if err := gate.Verify(token, answer); err != nil {
			t.Fatalf("answer %q rejected: %v", answer, err)
		}
	}
	for _, answer := range []string{"bob", "lukass", " lukas"} {
		if err := gate.Verify(token, answer); !errors.Is(err, shared.ErrChallengeFailed) {
			t.Fatalf("answer %q: expected ErrChallengeFailed, got %v", answer, err)
		}
	}
	if err := gate.Verify("bogus-token", "lukas"); !errors.Is(err, shared.ErrChallengeFailed) {
		t.Fatalf("expected ErrChallengeFailed for unknown token, got %v", err)
	}
}

func TestAntiSpamDisabledWithoutQuestions(t *testing.T) {
	gate, err := NewAntiSpam(nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if gate.Enabled() {
		t.Fatal("expected gate to be disabled")
	}
}

func TestAntiSpamRejectsBadPattern(t *testing.T) {
	if _, err := NewAntiSpam([]schema.Question{{Question: "q", Answer: "["}}); err == nil {
		t.Fatal("expected compile error")
	}
}
