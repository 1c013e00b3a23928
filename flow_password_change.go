package identity

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// PasswordChangeFlow is the authenticated variant of a password reset: the
// caller's session identifies the account and a one-time code sent to its
// inbox authorizes the rotation.
type PasswordChangeFlow struct {
	flowDeps
}

func NewPasswordChangeFlow(users Users, challenges ChallengeStore, mailer Mailer, tokens *TokenService) *PasswordChangeFlow {
	return &PasswordChangeFlow{flowDeps: newFlowDeps(users, challenges, mailer, tokens)}
}

func (f *PasswordChangeFlow) WithLogger(logger Logger) *PasswordChangeFlow {
	if logger != nil {
		f.logger = logger
	}
	return f
}

// WithCodeWindow overrides the one-time code validity window.
func (f *PasswordChangeFlow) WithCodeWindow(ttl time.Duration) *PasswordChangeFlow {
	if ttl > 0 {
		f.codeTTL = ttl
	}
	return f
}

// WithCodeLength overrides the number of digits in generated codes.
func (f *PasswordChangeFlow) WithCodeLength(n int) *PasswordChangeFlow {
	if n > 0 {
		f.codeLength = n
	}
	return f
}

// WithClock overrides the time source.
func (f *PasswordChangeFlow) WithClock(now func() time.Time) *PasswordChangeFlow {
	if now != nil {
		f.now = now
	}
	return f
}

// RequestCode issues a change code for the authenticated account. The caller
// is already identified by their session, so there is no payload; the uniform
// message is still returned when the account has vanished or is inactive so a
// stale session cannot probe account state.
func (f *PasswordChangeFlow) RequestCode(ctx context.Context, userID string) (string, error) {
	if err := ctxGuard(ctx, "password change request"); err != nil {
		return "", err
	}

	user, err := f.users.FindByID(ctx, userID)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return MsgCodeDispatched, nil
		}
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up account")
	}
	if !user.IsActive {
		return MsgCodeDispatched, nil
	}

	code, hash, expiresAt, err := f.issueCode()
	if err != nil {
		return "", err
	}

	record := PasswordChangeChallenge{CodeHash: hash, ExpiresAt: expiresAt}
	if err := f.challenges.Put(ctx, KindPasswordChange, userID, record, storeTTL(f.codeTTL)); err != nil {
		return "", err
	}

	if err := f.dispatchCode(ctx, user.Email, "Your password change code", code); err != nil {
		return "", err
	}

	return MsgCodeDispatched, nil
}

// ChangePasswordPayload carries the code and the replacement password. The
// emailed code is the whole proof here; the session already authenticated
// the caller, so the current password is not requested again.
type ChangePasswordPayload struct {
	Code            string `json:"code"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (p ChangePasswordPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Code, validation.Required, is.Digit),
		validation.Field(&p.NewPassword, validation.Required),
		validation.Field(&p.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(p.NewPassword)),
		),
	)
}

// Change verifies the code and persists the new hash, consuming the
// challenge only after the write succeeds.
func (f *PasswordChangeFlow) Change(ctx context.Context, userID string, p ChangePasswordPayload) error {
	if err := ctxGuard(ctx, "password change"); err != nil {
		return err
	}

	if err := p.Validate(); err != nil {
		return wrapValidation(err)
	}

	record := PasswordChangeChallenge{}
	if err := f.challenges.Get(ctx, KindPasswordChange, userID, &record); err != nil {
		return challengeLookupError(err)
	}

	if v := VerifyCode(p.Code, record.CodeHash, record.ExpiresAt, f.now()); v != CodeValid {
		return verdictError(v)
	}

	hash, err := HashPassword(p.NewPassword)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	if err := f.users.UpdatePassword(ctx, userID, hash); err != nil {
		if goerrors.IsNotFound(err) {
			return goerrors.New("account no longer exists", goerrors.CategoryNotFound).
				WithCode(goerrors.CodeNotFound)
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password")
	}

	if err := f.challenges.Delete(ctx, KindPasswordChange, userID); err != nil {
		f.logger.Warn("failed to consume password change challenge: %v", err)
	}

	return nil
}
