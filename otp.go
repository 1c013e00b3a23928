package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// DefaultCodeLength is the number of decimal digits in an issued code.
const DefaultCodeLength = 6

// CodeVerdict is the outcome of verifying a one-time code.
type CodeVerdict int

const (
	// CodeValid means the code matched inside its validity window.
	CodeValid CodeVerdict = iota
	// CodeExpired means the window has passed; reported even when the
	// digits match.
	CodeExpired
	// CodeMismatch means the code was wrong inside a live window.
	CodeMismatch
)

func (v CodeVerdict) String() string {
	switch v {
	case CodeValid:
		return "valid"
	case CodeExpired:
		return "expired"
	case CodeMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

var decimal = big.NewInt(10)

// GenerateCode produces a decimal one-time code of the given length, each
// digit drawn uniformly from a cryptographically secure source.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		length = DefaultCodeLength
	}

	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, decimal)
		if err != nil {
			return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate verification code")
		}
		buf[i] = byte('0' + n.Int64())
	}

	return string(buf), nil
}

// HashCode returns the one-way digest stored at rest; the cleartext code is
// never persisted.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// VerifyCode checks a candidate against a stored digest. Expiry is evaluated
// before equality: a correct code past its window is Expired, not Mismatch.
func VerifyCode(candidate, storedHash string, expiresAt, now time.Time) CodeVerdict {
	if now.After(expiresAt) {
		return CodeExpired
	}
	if HashCode(candidate) != storedHash {
		return CodeMismatch
	}
	return CodeValid
}
