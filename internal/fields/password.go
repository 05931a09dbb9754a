package fields

import (
	"context"

	"github.com/castellan-dir/castellan/internal/breach"
	"github.com/castellan-dir/castellan/internal/directory"
	"github.com/castellan-dir/castellan/internal/pwhash"
	"github.com/castellan-dir/castellan/internal/schema"
	"github.com/castellan-dir/castellan/internal/shared"
)

// passwordField hashes credentials under the declared scheme. Plaintext never
// reaches the store (unless the scheme says so) and never appears in a
// projection; readers only learn whether a credential is set.
type passwordField struct {
	base
	scheme  pwhash.Scheme
	checker breach.Checker
}

func compilePassword(def *schema.FieldDef, checker breach.Checker) (*passwordField, error) {
	if checker == nil {
		checker = breach.Disabled{}
	}
	return &passwordField{
		base:    base{def},
		scheme:  pwhash.Scheme(def.Hashing),
		checker: checker,
	}, nil
}

func (f *passwordField) Project(entry directory.Entry) (any, bool) {
	if !f.def.Readable {
		return nil, false
	}
	return len(entry.Attrs[f.def.Field]) > 0, true
}

// parseInput accepts either a plain string or, for verify fields, a
// two-element [password, confirmation] pair.
func (f *passwordField) parseInput(wctx *WriteContext, value any) (string, bool) {
	if pair, ok := value.([]any); ok {
		if !f.def.Verify || len(pair) != 2 {
			wctx.Errs.Add(f.def.Key, "must be a string")
			return "", false
		}
		first, ok1 := asString(pair[0])
		second, ok2 := asString(pair[1])
		if !ok1 || !ok2 {
			wctx.Errs.Add(f.def.Key, "must be a string")
			return "", false
		}
		if first != second {
			wctx.Errs.Add(f.def.Key, "passwords do not match")
			return "", false
		}
		return first, true
	}
	s, ok := asString(value)
	if !ok {
		wctx.Errs.Add(f.def.Key, "must be a string")
		return "", false
	}
	return s, true
}

func (f *passwordField) vet(ctx context.Context, wctx *WriteContext, plaintext string) (bool, error) {
	if !f.def.BreachCheck {
		return true, nil
	}
	compromised, err := f.checker.Compromised(ctx, plaintext)
	if err != nil {
		return false, err
	}
	if compromised {
		wctx.Errs.AddCause(f.def.Key, shared.ErrWeakCredential, "found in known data breaches, choose another")
		return false, nil
	}
	return true, nil
}

func (f *passwordField) stage(wctx *WriteContext, plaintext string, create bool) error {
	hashed, err := pwhash.Hash(f.scheme, plaintext)
	if err != nil {
		return err
	}
	if create {
		wctx.Plan.SetAttr(f.def.Field, hashed)
	} else {
		wctx.Plan.AddMod(directory.ModReplace, f.def.Field, hashed)
	}
	return nil
}

func (f *passwordField) PlanCreate(ctx context.Context, wctx *WriteContext, value any, present bool) error {
	plaintext := ""
	if present {
		s, ok := f.parseInput(wctx, value)
		if !ok {
			return nil
		}
		plaintext = s
	}
	if plaintext == "" {
		if f.def.AutoGenerate {
			generated, err := pwhash.Generate()
			if err != nil {
				return err
			}
			wctx.Plan.SetGenerated(f.def.Key, generated)
			return f.stage(wctx, generated, true)
		}
		if f.def.Required {
			wctx.Errs.Add(f.def.Key, "required")
		}
		return nil
	}
	ok, err := f.vet(ctx, wctx, plaintext)
	if err != nil || !ok {
		return err
	}
	return f.stage(wctx, plaintext, true)
}

func (f *passwordField) PlanModify(ctx context.Context, wctx *WriteContext, _ directory.Entry, value any) error {
	plaintext, ok := f.parseInput(wctx, value)
	if !ok {
		return nil
	}
	// An empty submission keeps the stored credential.
	if plaintext == "" {
		return nil
	}
	ok, err := f.vet(ctx, wctx, plaintext)
	if err != nil || !ok {
		return err
	}
	return f.stage(wctx, plaintext, false)
}
