package identity_test

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/veriflow-io/identity"
)

// memoryUsers is an in-memory Users implementation for exercising flows
// without a database.
type memoryUsers struct {
	mu      sync.Mutex
	records map[string]*identity.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{records: map[string]*identity.User{}}
}

func notFound(meta map[string]any) error {
	return goerrors.New("record not found", goerrors.CategoryNotFound).
		WithCode(goerrors.CodeNotFound).
		WithMetadata(meta)
}

func (m *memoryUsers) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email = identity.NormalizeEmail(email)
	for _, u := range m.records {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, notFound(map[string]any{"email": email})
}

func (m *memoryUsers) FindByID(ctx context.Context, id string) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.records[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, notFound(map[string]any{"id": id})
}

func (m *memoryUsers) Create(ctx context.Context, user *identity.User) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user.Email = identity.NormalizeEmail(user.Email)
	for _, u := range m.records {
		if u.Email == user.Email {
			return nil, goerrors.New("duplicate email", goerrors.CategoryConflict)
		}
	}

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.Role == "" {
		user.Role = identity.RoleUser
	}

	cp := *user
	m.records[user.ID.String()] = &cp
	return user, nil
}

func (m *memoryUsers) Update(ctx context.Context, user *identity.User) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[user.ID.String()]; !ok {
		return nil, notFound(map[string]any{"id": user.ID.String()})
	}

	cp := *user
	m.records[user.ID.String()] = &cp
	return user, nil
}

func (m *memoryUsers) ListActive(ctx context.Context) ([]*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*identity.User
	for _, u := range m.records {
		if u.IsActive {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memoryUsers) StoreRefreshToken(ctx context.Context, id string, token *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.records[id]
	if !ok {
		return notFound(map[string]any{"id": id})
	}
	u.RefreshToken = token
	return nil
}

func (m *memoryUsers) UpdatePassword(ctx context.Context, id string, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.records[id]
	if !ok {
		return notFound(map[string]any{"id": id})
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *memoryUsers) UpdateEmail(ctx context.Context, id string, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.records[id]
	if !ok {
		return notFound(map[string]any{"id": id})
	}
	u.Email = identity.NormalizeEmail(email)
	return nil
}

func (m *memoryUsers) Deactivate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.records[id]
	if !ok {
		return notFound(map[string]any{"id": id})
	}
	u.IsActive = false
	u.RefreshToken = nil
	return nil
}

// mustCreateUser seeds an active account with a hashed password.
func mustCreateUser(t *testing.T, users *memoryUsers, email, password string) *identity.User {
	t.Helper()

	hash, err := identity.HashPassword(password)
	require.NoError(t, err)

	user, err := users.Create(context.Background(), &identity.User{
		Username:     "tester",
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
	})
	require.NoError(t, err)
	return user
}

// capturingMailer records outbound messages instead of delivering them.
type capturingMailer struct {
	mu       sync.Mutex
	messages []identity.MailMessage
}

func (m *capturingMailer) Send(ctx context.Context, msg identity.MailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *capturingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func (m *capturingMailer) last(t *testing.T) identity.MailMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.messages, "expected at least one dispatched message")
	return m.messages[len(m.messages)-1]
}

var codePattern = regexp.MustCompile(`\d{4,10}`)

// lastCode pulls the one-time code out of the most recent message body.
func (m *capturingMailer) lastCode(t *testing.T) string {
	t.Helper()
	code := codePattern.FindString(m.last(t).Body)
	require.NotEmpty(t, code, "no code found in message body")
	return code
}

// failingMailer refuses every dispatch.
type failingMailer struct{}

func (failingMailer) Send(ctx context.Context, msg identity.MailMessage) error {
	return goerrors.New("relay unavailable", goerrors.CategoryInternal).
		WithTextCode(identity.TextCodeDispatchFailed)
}

// fixedClock is an adjustable time source for crossing expiry windows.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{t: time.Now()}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
