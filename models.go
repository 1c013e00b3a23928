package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the user's role
type UserRole = string

const (
	// RoleUser is a regular account
	RoleUser UserRole = "user"
	// RoleAdmin can manage other accounts
	RoleAdmin UserRole = "admin"
)

// ParseRole returns the role and whether it is one we know about.
func ParseRole(role string) (UserRole, bool) {
	switch role {
	case RoleUser, RoleAdmin:
		return role, true
	default:
		return "", false
	}
}

// User is the durable account record
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Username      string     `bun:"username,notnull,unique" json:"username,omitempty"`
	Email         string     `bun:"email,notnull,unique" json:"email,omitempty"`
	Phone         string     `bun:"phone_number" json:"phone_number,omitempty"`
	Address       string     `bun:"address" json:"address,omitempty"`
	Role          UserRole   `bun:"user_role,notnull" json:"user_role,omitempty"`
	PasswordHash  string     `bun:"password_hash" json:"password_hash,omitempty"`
	RefreshToken  *string    `bun:"refresh_token,nullzero" json:"refresh_token,omitempty"`
	IsActive      bool       `bun:"is_active" json:"is_active"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// Profile is the client-facing projection of a User. It never carries the
// password hash or the stored refresh token.
type Profile struct {
	ID        uuid.UUID  `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone"`
	Address   string     `json:"address"`
	Role      UserRole   `json:"role"`
	IsActive  bool       `json:"is_active"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Profile projects the user for responses.
func (u *User) Profile() *Profile {
	if u == nil {
		return nil
	}
	return &Profile{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Phone:     u.Phone,
		Address:   u.Address,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// NormalizeEmail lowercases and trims an email address. Every correlation
// key and uniqueness check goes through this.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
