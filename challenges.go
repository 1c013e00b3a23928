package identity

import "time"

// Challenge kinds namespace the ChallengeStore. A correlation key is the
// normalized email for unauthenticated flows and the user id for
// authenticated ones.
const (
	KindRegistration   = "register"
	KindPasswordReset  = "password-reset"
	KindPasswordChange = "password-change"
	KindEmailChange    = "email-change"
)

// PendingRegistration holds a signup attempt until its code is verified and
// the account committed. Keyed by normalized email. The password travels in
// cleartext inside the record and is only hashed at commit time; the record
// itself never outlives its store TTL.
type PendingRegistration struct {
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Password  string    `json:"password"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	CodeHash  string    `json:"code_hash"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PasswordResetChallenge gates an unauthenticated reset. Keyed by normalized
// email.
type PasswordResetChallenge struct {
	CodeHash  string    `json:"code_hash"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PasswordChangeChallenge gates an authenticated password rotation. Keyed by
// user id.
type PasswordChangeChallenge struct {
	CodeHash  string    `json:"code_hash"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EmailChangeChallenge accumulates state across the four email-change gates.
// Keyed by user id. This is the one record that is mutated in place rather
// than replaced: OldVerified persists through steps 3 and 4, and the new
// email fields are attached without clearing it.
type EmailChangeChallenge struct {
	OldCodeHash  string    `json:"old_code_hash"`
	OldExpiresAt time.Time `json:"old_expires_at"`
	OldVerified  bool      `json:"old_verified"`
	NewEmail     string    `json:"new_email,omitempty"`
	NewCodeHash  string    `json:"new_code_hash,omitempty"`
	NewExpiresAt time.Time `json:"new_expires_at,omitempty"`
}

// HasNewCode reports whether step 3 populated the new-email gate.
func (c *EmailChangeChallenge) HasNewCode() bool {
	return c.NewEmail != "" && c.NewCodeHash != "" && !c.NewExpiresAt.IsZero()
}
