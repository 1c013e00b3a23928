package identity

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// EmailChangeFlow rebinds an account to a new address behind four strictly
// ordered gates: prove control of the current inbox, then of the new one.
// A single challenge record keyed by user ID accumulates state across gates
// instead of being replaced, so each step can assert the previous one
// actually happened.
type EmailChangeFlow struct {
	flowDeps
}

func NewEmailChangeFlow(users Users, challenges ChallengeStore, mailer Mailer, tokens *TokenService) *EmailChangeFlow {
	return &EmailChangeFlow{flowDeps: newFlowDeps(users, challenges, mailer, tokens)}
}

func (f *EmailChangeFlow) WithLogger(logger Logger) *EmailChangeFlow {
	if logger != nil {
		f.logger = logger
	}
	return f
}

// WithCodeWindow overrides the one-time code validity window.
func (f *EmailChangeFlow) WithCodeWindow(ttl time.Duration) *EmailChangeFlow {
	if ttl > 0 {
		f.codeTTL = ttl
	}
	return f
}

// WithCodeLength overrides the number of digits in generated codes.
func (f *EmailChangeFlow) WithCodeLength(n int) *EmailChangeFlow {
	if n > 0 {
		f.codeLength = n
	}
	return f
}

// WithClock overrides the time source.
func (f *EmailChangeFlow) WithClock(now func() time.Time) *EmailChangeFlow {
	if now != nil {
		f.now = now
	}
	return f
}

// RequestOldCode opens the flow: a code goes to the address currently on the
// account. Any in-flight change for the same user is discarded.
func (f *EmailChangeFlow) RequestOldCode(ctx context.Context, userID string) error {
	if err := ctxGuard(ctx, "email change opening"); err != nil {
		return err
	}

	user, err := f.users.FindByID(ctx, userID)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return goerrors.New("account no longer exists", goerrors.CategoryNotFound).
				WithCode(goerrors.CodeNotFound)
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up account")
	}
	if !user.IsActive {
		return goerrors.New("account has been deactivated", goerrors.CategoryAuthz).
			WithCode(goerrors.CodeForbidden)
	}

	code, hash, expiresAt, err := f.issueCode()
	if err != nil {
		return err
	}

	record := EmailChangeChallenge{OldCodeHash: hash, OldExpiresAt: expiresAt}
	if err := f.challenges.Put(ctx, KindEmailChange, userID, record, storeTTL(f.codeTTL)); err != nil {
		return err
	}

	return f.dispatchCode(ctx, user.Email, "Confirm your email change", code)
}

// VerifyOldCodePayload carries the code sent to the current address.
type VerifyOldCodePayload struct {
	Code string `json:"code"`
}

func (p VerifyOldCodePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Code, validation.Required, is.Digit),
	)
}

// VerifyOldCode marks the first gate passed. The mark is written back onto
// the same record in place; the record survives so the later gates can read
// it.
func (f *EmailChangeFlow) VerifyOldCode(ctx context.Context, userID string, p VerifyOldCodePayload) error {
	if err := ctxGuard(ctx, "email change old-address verification"); err != nil {
		return err
	}

	if err := p.Validate(); err != nil {
		return wrapValidation(err)
	}

	record := EmailChangeChallenge{}
	err := f.challenges.Update(ctx, KindEmailChange, userID, &record, storeTTL(f.codeTTL), func() error {
		if v := VerifyCode(p.Code, record.OldCodeHash, record.OldExpiresAt, f.now()); v != CodeValid {
			return verdictError(v)
		}
		record.OldVerified = true
		return nil
	})

	if goerrors.Is(err, ErrChallengeNotFound) {
		return newSequenceError("no email change in progress, request a code first")
	}
	return err
}

// RequestNewCodePayload names the address the account should move to.
type RequestNewCodePayload struct {
	NewEmail string `json:"new_email"`
}

func (p RequestNewCodePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.NewEmail, validation.Required, is.Email),
	)
}

// RequestNewCode is the third gate. It requires the old-address gate to have
// passed, rejects an address already claimed by any account, and accumulates
// the new-address code onto the in-flight record. Calling it again with a
// different address simply re-targets the change.
func (f *EmailChangeFlow) RequestNewCode(ctx context.Context, userID string, p RequestNewCodePayload) error {
	if err := ctxGuard(ctx, "email change new-address issuance"); err != nil {
		return err
	}

	if err := p.Validate(); err != nil {
		return wrapValidation(err)
	}

	newEmail := NormalizeEmail(p.NewEmail)

	// The ordering gate runs before the uniqueness check: an out-of-order
	// step must read as a sequence error even when the target is claimed.
	gate := EmailChangeChallenge{}
	if err := f.challenges.Get(ctx, KindEmailChange, userID, &gate); err != nil {
		if goerrors.Is(err, ErrChallengeNotFound) {
			return newSequenceError("no email change in progress, request a code first")
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read email change state")
	}
	if !gate.OldVerified {
		return newSequenceError("verify your current email before choosing a new one")
	}

	if _, err := f.users.FindByEmail(ctx, newEmail); err == nil {
		return goerrors.New("email is already in use", goerrors.CategoryConflict).
			WithCode(goerrors.CodeConflict)
	} else if !goerrors.IsNotFound(err) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
	}

	code, hash, expiresAt, err := f.issueCode()
	if err != nil {
		return err
	}

	record := EmailChangeChallenge{}
	err = f.challenges.Update(ctx, KindEmailChange, userID, &record, storeTTL(f.codeTTL), func() error {
		if !record.OldVerified {
			return newSequenceError("verify your current email before choosing a new one")
		}
		record.NewEmail = newEmail
		record.NewCodeHash = hash
		record.NewExpiresAt = expiresAt
		return nil
	})

	if goerrors.Is(err, ErrChallengeNotFound) {
		return newSequenceError("no email change in progress, request a code first")
	}
	if err != nil {
		return err
	}

	return f.dispatchCode(ctx, newEmail, "Verify your new email", code)
}

// VerifyNewCodePayload carries the code sent to the new address.
type VerifyNewCodePayload struct {
	Code string `json:"code"`
}

func (p VerifyNewCodePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Code, validation.Required, is.Digit),
	)
}

// VerifyNewCode is the final gate: on success the account's email is
// rewritten and the challenge consumed. A failed or out-of-order attempt
// leaves the record untouched so the caller can retry within the window.
func (f *EmailChangeFlow) VerifyNewCode(ctx context.Context, userID string, p VerifyNewCodePayload) (*Profile, error) {
	if err := ctxGuard(ctx, "email change new-address verification"); err != nil {
		return nil, err
	}

	if err := p.Validate(); err != nil {
		return nil, wrapValidation(err)
	}

	record := EmailChangeChallenge{}
	if err := f.challenges.Get(ctx, KindEmailChange, userID, &record); err != nil {
		if goerrors.Is(err, ErrChallengeNotFound) {
			return nil, newSequenceError("no email change in progress, request a code first")
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read email change state")
	}

	if !record.OldVerified {
		return nil, newSequenceError("verify your current email before confirming the new one")
	}
	if !record.HasNewCode() {
		return nil, newSequenceError("request a code for the new email first")
	}

	if v := VerifyCode(p.Code, record.NewCodeHash, record.NewExpiresAt, f.now()); v != CodeValid {
		return nil, verdictError(v)
	}

	if err := f.users.UpdateEmail(ctx, userID, record.NewEmail); err != nil {
		if goerrors.IsNotFound(err) {
			return nil, goerrors.New("account no longer exists", goerrors.CategoryNotFound).
				WithCode(goerrors.CodeNotFound)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not rebind email")
	}

	if err := f.challenges.Delete(ctx, KindEmailChange, userID); err != nil {
		f.logger.Warn("failed to consume email change challenge: %v", err)
	}

	user, err := f.users.FindByID(ctx, userID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reload account")
	}

	return user.Profile(), nil
}
