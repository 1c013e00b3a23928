package identity

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// SessionEngine exchanges credentials for token pairs and mints replacement
// access tokens. Each account carries at most one live refresh token: a new
// login overwrites the stored value and strands any session still holding
// the old one.
type SessionEngine struct {
	users  Users
	tokens *TokenService
	logger Logger
}

func NewSessionEngine(users Users, tokens *TokenService) *SessionEngine {
	return &SessionEngine{
		users:  users,
		tokens: tokens,
		logger: defLogger{},
	}
}

func (s *SessionEngine) WithLogger(logger Logger) *SessionEngine {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// LoginPayload are the primary credentials.
type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (p LoginPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required),
	)
}

// LoginResult is the freshly minted session.
type LoginResult struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	User         *Profile `json:"user"`
}

// Login verifies the credentials and issues a fresh access/refresh pair. An
// unknown email and a wrong password surface as the same credential error.
func (s *SessionEngine) Login(ctx context.Context, p LoginPayload) (*LoginResult, error) {
	if err := ctxGuard(ctx, "login"); err != nil {
		return nil, err
	}

	if err := p.Validate(); err != nil {
		return nil, wrapValidation(err)
	}

	user, err := s.users.FindByEmail(ctx, NormalizeEmail(p.Email))
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, ErrMismatchedHashAndPassword
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up account")
	}

	if err := ComparePasswordAndHash(p.Password, user.PasswordHash); err != nil {
		return nil, err
	}

	access, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}

	refresh, err := s.tokens.IssueRefreshToken(user)
	if err != nil {
		return nil, err
	}

	if err := s.users.StoreRefreshToken(ctx, user.ID.String(), &refresh); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist session")
	}

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         user.Profile(),
	}, nil
}

// RefreshPayload carries the long-lived token back.
type RefreshPayload struct {
	RefreshToken string `json:"refresh_token"`
}

func (p RefreshPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.RefreshToken, validation.Required),
	)
}

// Refresh trades a valid refresh token for a new access token. The token
// must byte-for-byte equal the one on record: a later login replaces the
// record, so an older token fails here even though its signature and expiry
// still check out. The refresh token itself is not rotated.
func (s *SessionEngine) Refresh(ctx context.Context, p RefreshPayload) (string, error) {
	if err := ctxGuard(ctx, "session refresh"); err != nil {
		return "", err
	}

	if err := p.Validate(); err != nil {
		return "", wrapValidation(err)
	}

	claims, err := s.tokens.ValidateRefreshToken(p.RefreshToken)
	if err != nil {
		return "", err
	}

	user, err := s.users.FindByID(ctx, claims.UID)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return "", goerrors.New("session is no longer valid", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized).
				WithTextCode(TextCodeRefreshRevoked)
		}
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up account")
	}

	if user.RefreshToken == nil || *user.RefreshToken != p.RefreshToken {
		return "", goerrors.New("refresh token has been superseded", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized).
			WithTextCode(TextCodeRefreshRevoked)
	}

	return s.tokens.IssueAccessToken(user)
}

// Logout clears the stored refresh token so future refresh attempts fail.
func (s *SessionEngine) Logout(ctx context.Context, userID string) error {
	if err := ctxGuard(ctx, "logout"); err != nil {
		return err
	}

	if err := s.users.StoreRefreshToken(ctx, userID, nil); err != nil {
		if goerrors.IsNotFound(err) {
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to clear session")
	}
	return nil
}
