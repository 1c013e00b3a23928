package identity

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

// SessionContextKey is the Locals key the middleware stores validated claims
// under.
const SessionContextKey = "session"

// SessionFromCtx retrieves the claims the middleware attached, nil when the
// request never went through Protected.
func SessionFromCtx(c *fiber.Ctx) *Claims {
	claims, _ := c.Locals(SessionContextKey).(*Claims)
	return claims
}

// Protected rejects requests without a valid bearer access token and attaches
// the claims to the request locals.
func Protected(tokens *TokenService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, err := bearerToken(c)
		if err != nil {
			return err
		}

		claims, err := tokens.ValidateAccessToken(raw)
		if err != nil {
			return err
		}

		c.Locals(SessionContextKey, claims)
		c.SetUserContext(WithClaimsContext(c.UserContext(), claims))
		return c.Next()
	}
}

// RequireRole gates a route on the role carried in the validated claims. It
// must run after Protected.
func RequireRole(role UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := SessionFromCtx(c)
		if claims == nil {
			return goerrors.New("authentication required", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized)
		}

		if claims.UserRole != string(role) {
			return goerrors.New("insufficient role", goerrors.CategoryAuthz).
				WithCode(goerrors.CodeForbidden)
		}

		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) (string, error) {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return "", goerrors.New("missing authorization header", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized)
	}

	const scheme = "Bearer"
	if len(header) <= len(scheme)+1 || !strings.EqualFold(header[:len(scheme)], scheme) {
		return "", goerrors.New("malformed authorization header", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized)
	}

	return strings.TrimSpace(header[len(scheme):]), nil
}
