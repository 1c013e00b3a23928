package identity

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Users is the durable account store the flows collaborate with. The package
// never deletes a record; admin removal is a deactivation.
type Users interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, user *User) (*User, error)
	Update(ctx context.Context, user *User) (*User, error)
	ListActive(ctx context.Context) ([]*User, error)

	StoreRefreshToken(ctx context.Context, id string, token *string) error
	UpdatePassword(ctx context.Context, id string, passwordHash string) error
	UpdateEmail(ctx context.Context, id string, email string) error
	Deactivate(ctx context.Context, id string) error
}

// Mailer dispatches flow notifications. Delivery is fire-and-forget with
// error propagation: callers decide whether a dispatch failure fails the
// request.
type Mailer interface {
	Send(ctx context.Context, msg MailMessage) error
}

// MailMessage is a plain-text outbound message.
type MailMessage struct {
	To      string
	Subject string
	Body    string
}

// NewLogger returns the package's plain printf logger. Callers with a real
// logging stack should satisfy Logger themselves.
func NewLogger() Logger {
	return defLogger{}
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
