package identity_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veriflow-io/identity"
)

type httpFixture struct {
	app    *fiber.App
	users  *memoryUsers
	mailer *capturingMailer
	tokens *identity.TokenService
}

func newHTTPFixture() *httpFixture {
	f := &httpFixture{
		users:  newMemoryUsers(),
		mailer: &capturingMailer{},
		tokens: newTestTokenService(),
	}

	store := identity.NewMemoryChallengeStore()

	register := identity.NewRegistrationFlow(f.users, store, f.mailer, f.tokens)
	reset := identity.NewPasswordResetFlow(f.users, store, f.mailer, f.tokens)
	pwChange := identity.NewPasswordChangeFlow(f.users, store, f.mailer, f.tokens)
	emailChange := identity.NewEmailChangeFlow(f.users, store, f.mailer, f.tokens)
	sessions := identity.NewSessionEngine(f.users, f.tokens)

	f.app = fiber.New(fiber.Config{
		ErrorHandler: identity.NewErrorHandler(nil),
	})

	identity.NewAuthController(register, reset, sessions).RegisterRoutes(f.app)
	identity.NewProfileController(f.users, f.tokens, sessions, pwChange, emailChange).RegisterRoutes(f.app)
	identity.NewAdminController(f.users, f.tokens).RegisterRoutes(f.app)

	return f
}

func (f *httpFixture) request(t *testing.T, method, path string, body any, token string) *http.Response {
	t.Helper()

	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	res, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return res
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()

	out := map[string]any{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func (f *httpFixture) login(t *testing.T, email, password string) (string, string) {
	t.Helper()

	res := f.request(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	body := decodeBody(t, res)
	return body["access_token"].(string), body["refresh_token"].(string)
}

func TestAuthEndpoints(t *testing.T) {
	t.Run("registration round trip", func(t *testing.T) {
		f := newHTTPFixture()

		res := f.request(t, http.MethodPost, "/auth/register/send-code", map[string]string{
			"username": "webuser",
			"email":    "web@example.com",
			"password": "web-pass",
		}, "")
		require.Equal(t, http.StatusOK, res.StatusCode)
		code := f.mailer.lastCode(t)

		res = f.request(t, http.MethodPost, "/auth/register/verify-code", map[string]string{
			"email": "web@example.com",
			"code":  code,
		}, "")
		require.Equal(t, http.StatusOK, res.StatusCode)
		token := decodeBody(t, res)["token"].(string)

		res = f.request(t, http.MethodPost, "/auth/register/complete", map[string]string{
			"token": token,
		}, "")
		require.Equal(t, http.StatusCreated, res.StatusCode)

		access, _ := f.login(t, "web@example.com", "web-pass")
		assert.NotEmpty(t, access)
	})

	t.Run("duplicate email maps to 409", func(t *testing.T) {
		f := newHTTPFixture()
		mustCreateUser(t, f.users, "dup@example.com", "pw")

		res := f.request(t, http.MethodPost, "/auth/register/send-code", map[string]string{
			"username": "dup",
			"email":    "dup@example.com",
			"password": "pw",
		}, "")
		assert.Equal(t, http.StatusConflict, res.StatusCode)
	})

	t.Run("wrong code maps to 401 with a text code", func(t *testing.T) {
		f := newHTTPFixture()

		res := f.request(t, http.MethodPost, "/auth/register/send-code", map[string]string{
			"username": "x",
			"email":    "x@example.com",
			"password": "pw",
		}, "")
		require.Equal(t, http.StatusOK, res.StatusCode)

		res = f.request(t, http.MethodPost, "/auth/register/verify-code", map[string]string{
			"email": "x@example.com",
			"code":  "000000",
		}, "")
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

		body := decodeBody(t, res)
		errBody := body["error"].(map[string]any)
		assert.Equal(t, identity.TextCodeCodeMismatch, errBody["text_code"])
	})

	t.Run("invalid payload maps to 400", func(t *testing.T) {
		f := newHTTPFixture()

		res := f.request(t, http.MethodPost, "/auth/login", map[string]string{
			"email": "not-an-email",
		}, "")
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})
}

func TestProtectedEndpoints(t *testing.T) {
	t.Run("profile requires a token", func(t *testing.T) {
		f := newHTTPFixture()

		res := f.request(t, http.MethodGet, "/profile/", nil, "")
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	})

	t.Run("profile returns the session's account", func(t *testing.T) {
		f := newHTTPFixture()
		mustCreateUser(t, f.users, "me@example.com", "pw")
		access, _ := f.login(t, "me@example.com", "pw")

		res := f.request(t, http.MethodGet, "/profile/", nil, access)
		require.Equal(t, http.StatusOK, res.StatusCode)

		body := decodeBody(t, res)
		user := body["user"].(map[string]any)
		assert.Equal(t, "me@example.com", user["email"])
	})

	t.Run("profile update", func(t *testing.T) {
		f := newHTTPFixture()
		mustCreateUser(t, f.users, "edit@example.com", "pw")
		access, _ := f.login(t, "edit@example.com", "pw")

		res := f.request(t, http.MethodPut, "/profile/", map[string]string{
			"username": "edited",
			"address":  "12 Example Street",
		}, access)
		require.Equal(t, http.StatusOK, res.StatusCode)

		body := decodeBody(t, res)
		user := body["user"].(map[string]any)
		assert.Equal(t, "edited", user["username"])
	})

	t.Run("refresh token is not an access token", func(t *testing.T) {
		f := newHTTPFixture()
		mustCreateUser(t, f.users, "sneak@example.com", "pw")
		_, refresh := f.login(t, "sneak@example.com", "pw")

		res := f.request(t, http.MethodGet, "/profile/", nil, refresh)
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	})
}

func TestAdminEndpoints(t *testing.T) {
	seedAdmin := func(t *testing.T, f *httpFixture) string {
		t.Helper()

		admin := mustCreateUser(t, f.users, "admin@example.com", "admin-pw")
		admin.Role = identity.RoleAdmin
		_, err := f.users.Update(context.Background(), admin)
		require.NoError(t, err)

		access, _ := f.login(t, "admin@example.com", "admin-pw")
		return access
	}

	t.Run("regular user is forbidden", func(t *testing.T) {
		f := newHTTPFixture()
		mustCreateUser(t, f.users, "plain@example.com", "pw")
		access, _ := f.login(t, "plain@example.com", "pw")

		res := f.request(t, http.MethodGet, "/admin/users/", nil, access)
		assert.Equal(t, http.StatusForbidden, res.StatusCode)
	})

	t.Run("admin lists active accounts", func(t *testing.T) {
		f := newHTTPFixture()
		access := seedAdmin(t, f)
		mustCreateUser(t, f.users, "member@example.com", "pw")

		res := f.request(t, http.MethodGet, "/admin/users/", nil, access)
		require.Equal(t, http.StatusOK, res.StatusCode)

		body := decodeBody(t, res)
		assert.Len(t, body["users"], 2)
	})

	t.Run("admin creates and deactivates an account", func(t *testing.T) {
		f := newHTTPFixture()
		access := seedAdmin(t, f)

		res := f.request(t, http.MethodPost, "/admin/users/", map[string]string{
			"username": "provisioned",
			"email":    "prov@example.com",
			"password": "prov-pw",
			"role":     "user",
		}, access)
		require.Equal(t, http.StatusCreated, res.StatusCode)

		body := decodeBody(t, res)
		id := body["user"].(map[string]any)["id"].(string)

		res = f.request(t, http.MethodDelete, "/admin/users/"+id, nil, access)
		require.Equal(t, http.StatusOK, res.StatusCode)

		res = f.request(t, http.MethodPost, "/auth/login", map[string]string{
			"email":    "prov@example.com",
			"password": "prov-pw",
		}, "")
		assert.Equal(t, http.StatusOK, res.StatusCode, "deactivation does not block login")
	})

	t.Run("bad id maps to 400", func(t *testing.T) {
		f := newHTTPFixture()
		access := seedAdmin(t, f)

		res := f.request(t, http.MethodGet, "/admin/users/not-a-uuid", nil, access)
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})
}
