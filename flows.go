package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
)

// MsgCodeDispatched is the uniform response for account-enumeration-sensitive
// request endpoints: identical whether or not the account exists.
const MsgCodeDispatched = "If the email exists, a verification code has been sent"

// DefaultPhoneRegion is the locale used for phone validation when none is
// configured.
const DefaultPhoneRegion = "VN"

// DefaultCodeTTL is the validity window for one-time codes. Deployments keep
// flip-flopping between very short and ten-minute windows, so it is a config
// knob, not a constant baked into the flows.
const DefaultCodeTTL = 10 * time.Minute

// flowDeps are the collaborators every verification flow shares.
type flowDeps struct {
	users      Users
	challenges ChallengeStore
	mailer     Mailer
	tokens     *TokenService
	codeTTL    time.Duration
	codeLength int
	logger     Logger
	now        func() time.Time
}

func newFlowDeps(users Users, challenges ChallengeStore, mailer Mailer, tokens *TokenService) flowDeps {
	return flowDeps{
		users:      users,
		challenges: challenges,
		mailer:     mailer,
		tokens:     tokens,
		codeTTL:    DefaultCodeTTL,
		codeLength: DefaultCodeLength,
		logger:     defLogger{},
		now:        time.Now,
	}
}

// issueCode generates a fresh one-time code and its digest plus the expiry
// instant for the configured window.
func (d *flowDeps) issueCode() (code, hash string, expiresAt time.Time, err error) {
	code, err = GenerateCode(d.codeLength)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return code, HashCode(code), d.now().Add(d.codeTTL), nil
}

// dispatchCode sends a code notification; a failure surfaces as a dispatch
// fault so the transport layer renders a server error.
func (d *flowDeps) dispatchCode(ctx context.Context, to, subject, code string) error {
	body := fmt.Sprintf("Your verification code is %s. It expires in %s.", code, d.codeTTL)
	if err := d.mailer.Send(ctx, MailMessage{To: to, Subject: subject, Body: body}); err != nil {
		if HasTextCode(err, TextCodeDispatchFailed) {
			return err
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to dispatch mail").
			WithTextCode(TextCodeDispatchFailed)
	}
	return nil
}

// ctxGuard fails fast when the request context is already done.
func ctxGuard(ctx context.Context, op string) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during "+op)
	default:
		return nil
	}
}

// ValidatePhone runs the locale phone-format check used at registration and
// profile update. Mirrors the legacy bounds on digit count.
func ValidatePhone(phone, region string) bool {
	if region == "" {
		region = DefaultPhoneRegion
	}
	if len(phone) < 9 || len(phone) > 12 {
		return false
	}

	num, err := phonenumbers.Parse(phone, region)
	if err != nil {
		return false
	}
	return phonenumbers.IsValidNumber(num)
}

func invalidPhoneError() *goerrors.Error {
	return goerrors.New("phone number is not valid", goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest)
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values do not match")
		}
		return nil
	}
}

func wrapValidation(err error) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid payload").
		WithCode(goerrors.CodeBadRequest)
}
