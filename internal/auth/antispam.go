package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"regexp"

	"github.com/castellan-dir/castellan/internal/schema"
	"github.com/castellan-dir/castellan/internal/shared"
)

// AntiSpam gates self-registration behind a human-knowledge challenge. The
// token identifies which question was asked without a server-side session:
// it is a digest of the question text, verified on submission.
type AntiSpam struct {
	questions []schema.Question
	patterns  []*regexp.Regexp
	byToken   map[string]int
}

// NewAntiSpam compiles the configured challenge questions. An empty question
// list disables the gate.
func NewAntiSpam(questions []schema.Question) (*AntiSpam, error) {
	a := &AntiSpam{
		questions: questions,
		byToken:   make(map[string]int, len(questions)),
	}
	for i, q := range questions {
		re, err := regexp.Compile("^(?:" + q.Answer + ")$")
		if err != nil {
			return nil, fmt.Errorf("auth: anti-spam question %d: %w", i, err)
		}
		a.patterns = append(a.patterns, re)
		a.byToken[challengeToken(q.Question)] = i
	}
	return a, nil
}

// Enabled reports whether any challenge is configured.
func (a *AntiSpam) Enabled() bool { return len(a.questions) > 0 }

// Challenge picks a random question and its submission token.
func (a *AntiSpam) Challenge() (question, token string) {
	q := a.questions[rand.IntN(len(a.questions))]
	return q.Question, challengeToken(q.Question)
}

// Verify checks a submitted answer against the question the token names.
// The answer must fully match the configured pattern.
func (a *AntiSpam) Verify(token, answer string) error {
	idx, ok := a.byToken[token]
	if !ok {
		return shared.ErrChallengeFailed
	}
	if !a.patterns[idx].MatchString(answer) {
		return shared.ErrChallengeFailed
	}
	return nil
}

func challengeToken(question string) string {
	sum := sha256.Sum256([]byte(question))
	return hex.EncodeToString(sum[:])
}
