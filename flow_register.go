package identity

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
)

// RegistrationFlow turns an unverified signup attempt into a durable
// account: SendCode -> VerifyCode (capability token) -> Complete. The
// account is only created at Complete so a client can confirm before
// finalizing.
type RegistrationFlow struct {
	flowDeps
	phoneRegion string
}

func NewRegistrationFlow(users Users, challenges ChallengeStore, mailer Mailer, tokens *TokenService) *RegistrationFlow {
	return &RegistrationFlow{
		flowDeps:    newFlowDeps(users, challenges, mailer, tokens),
		phoneRegion: DefaultPhoneRegion,
	}
}

func (f *RegistrationFlow) WithLogger(logger Logger) *RegistrationFlow {
	if logger != nil {
		f.logger = logger
	}
	return f
}

// WithCodeWindow overrides the one-time code validity window.
func (f *RegistrationFlow) WithCodeWindow(ttl time.Duration) *RegistrationFlow {
	if ttl > 0 {
		f.codeTTL = ttl
	}
	return f
}

// WithCodeLength overrides the number of digits in generated codes.
func (f *RegistrationFlow) WithCodeLength(n int) *RegistrationFlow {
	if n > 0 {
		f.codeLength = n
	}
	return f
}

// WithClock overrides the time source; tests use it to cross expiry without
// waiting.
func (f *RegistrationFlow) WithClock(now func() time.Time) *RegistrationFlow {
	if now != nil {
		f.now = now
	}
	return f
}

// WithPhoneRegion overrides the locale used for the phone-format check.
func (f *RegistrationFlow) WithPhoneRegion(region string) *RegistrationFlow {
	if region != "" {
		f.phoneRegion = region
	}
	return f
}

// SendRegisterCodePayload is the signup attempt.
type SendRegisterCodePayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
}

func (p SendRegisterCodePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Username, validation.Required, validation.Length(1, 100)),
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required),
	)
}

// SendCode validates the attempt, stores a PendingRegistration keyed by the
// normalized email (replacing any earlier attempt for that address), and
// dispatches the code. A claimed email is rejected here: registration is the
// one flow where uniqueness must surface immediately.
func (f *RegistrationFlow) SendCode(ctx context.Context, p SendRegisterCodePayload) error {
	if err := ctxGuard(ctx, "registration code issuance"); err != nil {
		return err
	}

	if err := p.Validate(); err != nil {
		return wrapValidation(err)
	}

	if p.Phone != "" && !ValidatePhone(p.Phone, f.phoneRegion) {
		return invalidPhoneError()
	}

	email := NormalizeEmail(p.Email)

	if _, err := f.users.FindByEmail(ctx, email); err == nil {
		return goerrors.New("email is already in use", goerrors.CategoryConflict).
			WithCode(goerrors.CodeConflict)
	} else if !goerrors.IsNotFound(err) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
	}

	code, hash, expiresAt, err := f.issueCode()
	if err != nil {
		return err
	}

	record := PendingRegistration{
		Username:  p.Username,
		Email:     email,
		Password:  p.Password,
		Phone:     p.Phone,
		Address:   p.Address,
		CodeHash:  hash,
		ExpiresAt: expiresAt,
	}

	if err := f.challenges.Put(ctx, KindRegistration, email, record, storeTTL(f.codeTTL)); err != nil {
		return err
	}

	return f.dispatchCode(ctx, email, "Your registration code", code)
}

// VerifyRegisterCodePayload carries the emailed code back.
type VerifyRegisterCodePayload struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (p VerifyRegisterCodePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Code, validation.Required, is.Digit),
	)
}

// VerifyCode checks the code against the pending registration and, on
// success, returns a short-lived capability token bound to the normalized
// email. The account is not created yet and the pending record stays put:
// Complete still needs it.
func (f *RegistrationFlow) VerifyCode(ctx context.Context, p VerifyRegisterCodePayload) (string, error) {
	if err := ctxGuard(ctx, "registration code verification"); err != nil {
		return "", err
	}

	if err := p.Validate(); err != nil {
		return "", wrapValidation(err)
	}

	email := NormalizeEmail(p.Email)

	record := PendingRegistration{}
	if err := f.challenges.Get(ctx, KindRegistration, email, &record); err != nil {
		return "", challengeLookupError(err)
	}

	if v := VerifyCode(p.Code, record.CodeHash, record.ExpiresAt, f.now()); v != CodeValid {
		return "", verdictError(v)
	}

	return f.tokens.IssueCapabilityToken(email, PurposeRegister)
}

// CompleteRegisterPayload finalizes a verified registration.
type CompleteRegisterPayload struct {
	Token string `json:"token"`
}

func (p CompleteRegisterPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Token, validation.Required),
	)
}

// Complete validates the capability token, re-checks that the email is still
// unclaimed (another registration may have landed between verify and
// complete), hashes the password, persists the account, and consumes the
// pending record.
func (f *RegistrationFlow) Complete(ctx context.Context, p CompleteRegisterPayload) (*Profile, error) {
	if err := ctxGuard(ctx, "registration completion"); err != nil {
		return nil, err
	}

	if err := p.Validate(); err != nil {
		return nil, wrapValidation(err)
	}

	claims, err := f.tokens.ValidateCapabilityToken(p.Token, PurposeRegister)
	if err != nil {
		return nil, err
	}

	email := NormalizeEmail(claims.Email)

	record := PendingRegistration{}
	if err := f.challenges.Get(ctx, KindRegistration, email, &record); err != nil {
		if goerrors.Is(err, ErrChallengeNotFound) {
			return nil, newSequenceError("registration attempt not found or expired, start over")
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read pending registration")
	}

	if _, err := f.users.FindByEmail(ctx, email); err == nil {
		return nil, goerrors.New("email is already in use", goerrors.CategoryConflict).
			WithCode(goerrors.CodeConflict)
	} else if !goerrors.IsNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
	}

	hash, err := HashPassword(record.Password)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password provided")
	}

	user := &User{
		Username:     record.Username,
		Email:        email,
		Phone:        record.Phone,
		Address:      record.Address,
		Role:         RoleUser,
		PasswordHash: hash,
		IsActive:     true,
	}
	if id, err := hashid.NewUUID(email); err == nil {
		user.ID = id
	}

	created, err := f.users.Create(ctx, user)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
	}

	// A failed delete leaves the record stale but inert: re-verifying
	// just hits the claimed-email conflict above.
	if err := f.challenges.Delete(ctx, KindRegistration, email); err != nil {
		f.logger.Warn("failed to consume pending registration: %v", err)
	}

	return created.Profile(), nil
}
