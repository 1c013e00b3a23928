package identity

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// PasswordResetFlow lets an unauthenticated holder of an inbox regain
// access: Request -> VerifyCode (single use, capability token) -> Reset.
type PasswordResetFlow struct {
	flowDeps
}

func NewPasswordResetFlow(users Users, challenges ChallengeStore, mailer Mailer, tokens *TokenService) *PasswordResetFlow {
	return &PasswordResetFlow{flowDeps: newFlowDeps(users, challenges, mailer, tokens)}
}

func (f *PasswordResetFlow) WithLogger(logger Logger) *PasswordResetFlow {
	if logger != nil {
		f.logger = logger
	}
	return f
}

// WithCodeWindow overrides the one-time code validity window.
func (f *PasswordResetFlow) WithCodeWindow(ttl time.Duration) *PasswordResetFlow {
	if ttl > 0 {
		f.codeTTL = ttl
	}
	return f
}

// WithCodeLength overrides the number of digits in generated codes.
func (f *PasswordResetFlow) WithCodeLength(n int) *PasswordResetFlow {
	if n > 0 {
		f.codeLength = n
	}
	return f
}

// WithClock overrides the time source.
func (f *PasswordResetFlow) WithClock(now func() time.Time) *PasswordResetFlow {
	if now != nil {
		f.now = now
	}
	return f
}

// RequestResetPayload asks for a reset code.
type RequestResetPayload struct {
	Email string `json:"email"`
}

func (p RequestResetPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
	)
}

// Request returns the same success message whether or not the account
// exists; a code is only stored and dispatched when it does. Unlike
// registration, this endpoint never confirms that an address is taken.
func (f *PasswordResetFlow) Request(ctx context.Context, p RequestResetPayload) (string, error) {
	if err := ctxGuard(ctx, "password reset request"); err != nil {
		return "", err
	}

	if err := p.Validate(); err != nil {
		return "", wrapValidation(err)
	}

	email := NormalizeEmail(p.Email)

	if _, err := f.users.FindByEmail(ctx, email); err != nil {
		if goerrors.IsNotFound(err) {
			return MsgCodeDispatched, nil
		}
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up account")
	}

	code, hash, expiresAt, err := f.issueCode()
	if err != nil {
		return "", err
	}

	record := PasswordResetChallenge{CodeHash: hash, ExpiresAt: expiresAt}
	if err := f.challenges.Put(ctx, KindPasswordReset, email, record, storeTTL(f.codeTTL)); err != nil {
		return "", err
	}

	if err := f.dispatchCode(ctx, email, "Your password reset code", code); err != nil {
		return "", err
	}

	return MsgCodeDispatched, nil
}

// VerifyResetCodePayload carries the emailed code back.
type VerifyResetCodePayload struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (p VerifyResetCodePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Code, validation.Required, is.Digit),
	)
}

// VerifyCode checks the code expiry-first and consumes the challenge
// immediately on success: the returned reset capability token is the sole
// credential from here on.
func (f *PasswordResetFlow) VerifyCode(ctx context.Context, p VerifyResetCodePayload) (string, error) {
	if err := ctxGuard(ctx, "password reset verification"); err != nil {
		return "", err
	}

	if err := p.Validate(); err != nil {
		return "", wrapValidation(err)
	}

	email := NormalizeEmail(p.Email)

	record := PasswordResetChallenge{}
	if err := f.challenges.Get(ctx, KindPasswordReset, email, &record); err != nil {
		return "", challengeLookupError(err)
	}

	if v := VerifyCode(p.Code, record.CodeHash, record.ExpiresAt, f.now()); v != CodeValid {
		return "", verdictError(v)
	}

	if err := f.challenges.Delete(ctx, KindPasswordReset, email); err != nil {
		f.logger.Warn("failed to consume password reset challenge: %v", err)
	}

	return f.tokens.IssueCapabilityToken(email, PurposeReset)
}

// ResetPasswordPayload finalizes the reset with the capability token.
type ResetPasswordPayload struct {
	Token           string `json:"token"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (p ResetPasswordPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Token, validation.Required),
		validation.Field(&p.NewPassword, validation.Required),
		validation.Field(&p.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(p.NewPassword)),
		),
	)
}

// Reset validates the token's purpose and expiry, re-resolves the account by
// the bound email, and persists the new password hash.
func (f *PasswordResetFlow) Reset(ctx context.Context, p ResetPasswordPayload) error {
	if err := ctxGuard(ctx, "password reset finalization"); err != nil {
		return err
	}

	if err := p.Validate(); err != nil {
		return wrapValidation(err)
	}

	claims, err := f.tokens.ValidateCapabilityToken(p.Token, PurposeReset)
	if err != nil {
		return err
	}

	user, err := f.users.FindByEmail(ctx, NormalizeEmail(claims.Email))
	if err != nil {
		if goerrors.IsNotFound(err) {
			return goerrors.New("account no longer exists", goerrors.CategoryNotFound).
				WithCode(goerrors.CodeNotFound)
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up account")
	}

	hash, err := HashPassword(p.NewPassword)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	if err := f.users.UpdatePassword(ctx, user.ID.String(), hash); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password")
	}

	return nil
}
