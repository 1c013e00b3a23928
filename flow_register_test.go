package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veriflow-io/identity"
)

type registerFixture struct {
	users  *memoryUsers
	store  *identity.MemoryChallengeStore
	mailer *capturingMailer
	tokens *identity.TokenService
	clock  *fixedClock
	flow   *identity.RegistrationFlow
}

func newRegisterFixture() *registerFixture {
	f := &registerFixture{
		users:  newMemoryUsers(),
		store:  identity.NewMemoryChallengeStore(),
		mailer: &capturingMailer{},
		tokens: newTestTokenService(),
		clock:  newFixedClock(),
	}
	f.flow = identity.NewRegistrationFlow(f.users, f.store, f.mailer, f.tokens).
		WithClock(f.clock.Now)
	return f
}

func (f *registerFixture) sendCode(t *testing.T, email string) string {
	t.Helper()
	err := f.flow.SendCode(context.Background(), identity.SendRegisterCodePayload{
		Username: "newcomer",
		Email:    email,
		Password: "secret-pass",
	})
	require.NoError(t, err)
	return f.mailer.lastCode(t)
}

func TestRegistrationFlow(t *testing.T) {
	ctx := context.Background()

	t.Run("full flow creates the account", func(t *testing.T) {
		f := newRegisterFixture()
		code := f.sendCode(t, "Newcomer@Example.com")

		token, err := f.flow.VerifyCode(ctx, identity.VerifyRegisterCodePayload{
			Email: "newcomer@example.com",
			Code:  code,
		})
		require.NoError(t, err)

		profile, err := f.flow.Complete(ctx, identity.CompleteRegisterPayload{Token: token})
		require.NoError(t, err)

		assert.Equal(t, "newcomer@example.com", profile.Email)
		assert.Equal(t, identity.RoleUser, profile.Role)
		assert.True(t, profile.IsActive)

		stored, err := f.users.FindByEmail(ctx, "newcomer@example.com")
		require.NoError(t, err)
		assert.NotEqual(t, "secret-pass", stored.PasswordHash)
		assert.NoError(t, identity.ComparePasswordAndHash("secret-pass", stored.PasswordHash))
	})

	t.Run("claimed email is rejected at send", func(t *testing.T) {
		f := newRegisterFixture()
		mustCreateUser(t, f.users, "taken@example.com", "pw")

		err := f.flow.SendCode(ctx, identity.SendRegisterCodePayload{
			Username: "someone",
			Email:    "taken@example.com",
			Password: "pw2",
		})
		require.Error(t, err)
		assert.Zero(t, f.mailer.count())
	})

	t.Run("wrong code", func(t *testing.T) {
		f := newRegisterFixture()
		f.sendCode(t, "a@example.com")

		_, err := f.flow.VerifyCode(ctx, identity.VerifyRegisterCodePayload{
			Email: "a@example.com",
			Code:  "000000",
		})
		require.Error(t, err)
		assert.True(t, identity.HasTextCode(err, identity.TextCodeCodeMismatch))
	})

	t.Run("correct code past the window reads expired", func(t *testing.T) {
		f := newRegisterFixture()
		code := f.sendCode(t, "b@example.com")

		f.clock.Advance(11 * time.Minute)

		_, err := f.flow.VerifyCode(ctx, identity.VerifyRegisterCodePayload{
			Email: "b@example.com",
			Code:  code,
		})
		require.Error(t, err)
		assert.True(t, identity.HasTextCode(err, identity.TextCodeCodeExpired))
	})

	t.Run("unknown email reads invalid", func(t *testing.T) {
		f := newRegisterFixture()

		_, err := f.flow.VerifyCode(ctx, identity.VerifyRegisterCodePayload{
			Email: "nobody@example.com",
			Code:  "123456",
		})
		require.Error(t, err)
		assert.True(t, identity.HasTextCode(err, identity.TextCodeCodeInvalid))
	})

	t.Run("resend replaces the earlier code", func(t *testing.T) {
		f := newRegisterFixture()
		first := f.sendCode(t, "c@example.com")
		second := f.sendCode(t, "c@example.com")

		if first != second {
			_, err := f.flow.VerifyCode(ctx, identity.VerifyRegisterCodePayload{
				Email: "c@example.com",
				Code:  first,
			})
			require.Error(t, err)
		}

		_, err := f.flow.VerifyCode(ctx, identity.VerifyRegisterCodePayload{
			Email: "c@example.com",
			Code:  second,
		})
		require.NoError(t, err)
	})

	t.Run("reset token cannot complete a registration", func(t *testing.T) {
		f := newRegisterFixture()
		f.sendCode(t, "d@example.com")

		wrongPurpose, err := f.tokens.IssueCapabilityToken("d@example.com", identity.PurposeReset)
		require.NoError(t, err)

		_, err = f.flow.Complete(ctx, identity.CompleteRegisterPayload{Token: wrongPurpose})
		require.Error(t, err)
		assert.True(t, identity.HasTextCode(err, identity.TextCodePurposeMismatch))
	})

	t.Run("complete is single use", func(t *testing.T) {
		f := newRegisterFixture()
		code := f.sendCode(t, "e@example.com")

		token, err := f.flow.VerifyCode(ctx, identity.VerifyRegisterCodePayload{
			Email: "e@example.com",
			Code:  code,
		})
		require.NoError(t, err)

		_, err = f.flow.Complete(ctx, identity.CompleteRegisterPayload{Token: token})
		require.NoError(t, err)

		_, err = f.flow.Complete(ctx, identity.CompleteRegisterPayload{Token: token})
		require.Error(t, err)
		assert.True(t, identity.IsSequenceError(err))
	})

	t.Run("dispatch failure surfaces", func(t *testing.T) {
		f := newRegisterFixture()
		flow := identity.NewRegistrationFlow(f.users, f.store, failingMailer{}, f.tokens)

		err := flow.SendCode(ctx, identity.SendRegisterCodePayload{
			Username: "unlucky",
			Email:    "unlucky@example.com",
			Password: "pw",
		})
		require.Error(t, err)
		assert.True(t, identity.HasTextCode(err, identity.TextCodeDispatchFailed))
	})

	t.Run("invalid payload", func(t *testing.T) {
		f := newRegisterFixture()

		err := f.flow.SendCode(ctx, identity.SendRegisterCodePayload{Email: "not-an-email"})
		require.Error(t, err)
		assert.Zero(t, f.mailer.count())
	})
}
