package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Token purposes. The same signing key backs session and capability tokens,
// so the purpose tag is mandatory and checked on every validation:
// cross-purpose replay must fail.
const (
	PurposeAccess   = "access"
	PurposeRefresh  = "refresh"
	PurposeRegister = "register"
	PurposeReset    = "reset"
)

// Claims are the signed claims on every token the service issues.
type Claims struct {
	jwt.RegisteredClaims
	UID      string `json:"uid,omitempty"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	UserRole string `json:"role,omitempty"`
	Purpose  string `json:"purpose"`
}

// TokenService signs and validates the three token families: short-lived
// access tokens, long-lived refresh tokens, and 5-minute capability tokens
// that bridge a verified code to its commit step.
type TokenService struct {
	signingKey    []byte
	refreshKey    []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	capabilityTTL time.Duration
	logger        Logger
}

// NewTokenService creates a TokenService. refreshKey may be nil, in which
// case refresh tokens share the signing key.
func NewTokenService(signingKey, refreshKey []byte, issuer string, logger Logger) *TokenService {
	if len(refreshKey) == 0 {
		refreshKey = signingKey
	}
	if logger == nil {
		logger = defLogger{}
	}

	return &TokenService{
		signingKey:    signingKey,
		refreshKey:    refreshKey,
		issuer:        issuer,
		accessTTL:     time.Hour,
		refreshTTL:    7 * 24 * time.Hour,
		capabilityTTL: 5 * time.Minute,
		logger:        logger,
	}
}

// WithTTLs overrides the token lifetimes; zero values keep the defaults.
func (ts *TokenService) WithTTLs(access, refresh, capability time.Duration) *TokenService {
	if access > 0 {
		ts.accessTTL = access
	}
	if refresh > 0 {
		ts.refreshTTL = refresh
	}
	if capability > 0 {
		ts.capabilityTTL = capability
	}
	return ts
}

// IssueAccessToken signs a short-lived session token for the user.
func (ts *TokenService) IssueAccessToken(user *User) (string, error) {
	return ts.sign(ts.identityClaims(user, PurposeAccess, ts.accessTTL), ts.signingKey)
}

// IssueRefreshToken signs a long-lived renewal token for the user. The
// caller persists the value on the user record; issuance alone does not make
// it redeemable.
func (ts *TokenService) IssueRefreshToken(user *User) (string, error) {
	return ts.sign(ts.identityClaims(user, PurposeRefresh, ts.refreshTTL), ts.refreshKey)
}

// IssueCapabilityToken signs a short-lived token binding a normalized email
// to a flow purpose (register or reset).
func (ts *TokenService) IssueCapabilityToken(email, purpose string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   email,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.capabilityTTL)),
		},
		Email:   email,
		Purpose: purpose,
	}
	return ts.sign(claims, ts.signingKey)
}

// ValidateAccessToken parses and validates a session token.
func (ts *TokenService) ValidateAccessToken(raw string) (*Claims, error) {
	return ts.validate(raw, ts.signingKey, PurposeAccess)
}

// ValidateRefreshToken parses and validates a renewal token. The caller must
// additionally compare the raw value against the one stored on the user.
func (ts *TokenService) ValidateRefreshToken(raw string) (*Claims, error) {
	return ts.validate(raw, ts.refreshKey, PurposeRefresh)
}

// ValidateCapabilityToken parses a capability token and enforces its purpose
// tag.
func (ts *TokenService) ValidateCapabilityToken(raw, purpose string) (*Claims, error) {
	return ts.validate(raw, ts.signingKey, purpose)
}

func (ts *TokenService) identityClaims(user *User, purpose string, ttl time.Duration) *Claims {
	now := time.Now()
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   user.ID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UID:      user.ID.String(),
		Email:    user.Email,
		Username: user.Username,
		UserRole: user.Role,
		Purpose:  purpose,
	}
}

func (ts *TokenService) sign(claims *Claims, key []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(key)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token")
	}
	return signed, nil
}

func (ts *TokenService) validate(raw string, key []byte, purpose string) (*Claims, error) {
	parserOptions := []jwt.ParserOption{}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("token validate encountered unexpected signing method: %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	}, parserOptions...)

	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return nil, newCodeError(TextCodeTokenExpired, "token has expired")
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "token is malformed or invalid").
			WithCode(goerrors.CodeUnauthorized).
			WithTextCode(TextCodeTokenInvalid)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, newCodeError(TextCodeTokenInvalid, "token is malformed or invalid")
	}

	if claims.Purpose != purpose {
		return nil, newCodeError(TextCodePurposeMismatch, "token was issued for a different purpose")
	}

	return claims, nil
}
