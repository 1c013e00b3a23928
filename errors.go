package identity

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

// Machine-readable discriminators carried on rich errors. SequenceError is
// the important one: clients must be able to tell "start the flow over" apart
// from "wrong code".
const (
	TextCodeSequence        = "SEQUENCE_ERROR"
	TextCodeCodeInvalid     = "CODE_INVALID"
	TextCodeCodeExpired     = "CODE_EXPIRED"
	TextCodeCodeMismatch    = "CODE_MISMATCH"
	TextCodeTokenExpired    = "TOKEN_EXPIRED"
	TextCodeTokenInvalid    = "TOKEN_INVALID"
	TextCodePurposeMismatch = "TOKEN_PURPOSE_MISMATCH"
	TextCodeRefreshRevoked  = "REFRESH_SUPERSEDED"
	TextCodeDispatchFailed  = "DISPATCH_FAILED"
)

// ErrChallengeNotFound is returned by ChallengeStore implementations when no
// live record exists for a (kind, key) pair.
var ErrChallengeNotFound = errors.New("challenge not found")

// ErrMismatchedHashAndPassword is the uniform bad-credentials failure for
// login; it deliberately does not distinguish unknown account from wrong
// password.
var ErrMismatchedHashAndPassword = goerrors.New(
	"invalid email or password",
	goerrors.CategoryAuth,
).WithCode(goerrors.CodeUnauthorized).WithTextCode("INVALID_CREDENTIALS")

// ErrNoEmptyString rejects blank secrets before hashing.
var ErrNoEmptyString = goerrors.New(
	"value must not be an empty string",
	goerrors.CategoryValidation,
).WithCode(goerrors.CodeBadRequest)

func newSequenceError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(TextCodeSequence)
}

func newCodeError(textCode, message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryAuth).
		WithCode(goerrors.CodeUnauthorized).
		WithTextCode(textCode)
}

// HasTextCode reports whether err carries the given text code.
func HasTextCode(err error, code string) bool {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode == code
	}
	return false
}

// IsSequenceError reports whether err means a flow step ran out of order.
func IsSequenceError(err error) bool {
	return HasTextCode(err, TextCodeSequence)
}

// verdictError translates a code verdict into the client-facing failure.
// Callers handle CodeValid themselves.
func verdictError(v CodeVerdict) error {
	switch v {
	case CodeExpired:
		return newCodeError(TextCodeCodeExpired, "verification code has expired")
	case CodeMismatch:
		return newCodeError(TextCodeCodeMismatch, "verification code is incorrect")
	default:
		return nil
	}
}

// challengeLookupError maps store failures on a Get: an absent record reads
// as invalid-or-expired, anything else is a storage fault.
func challengeLookupError(err error) error {
	if errors.Is(err, ErrChallengeNotFound) {
		return newCodeError(TextCodeCodeInvalid, "verification code is invalid or has expired")
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read pending verification")
}
