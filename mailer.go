package identity

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// SMTPMailer sends plain-text mail through a single SMTP relay. This is the
// whole delivery story on purpose: the flows treat dispatch as
// fire-and-forget with error propagation.
type SMTPMailer struct {
	host string
	port int
	from string
	auth smtp.Auth
}

var _ Mailer = (*SMTPMailer)(nil)

func NewSMTPMailer(host string, port int, username, password, from string) *SMTPMailer {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	return &SMTPMailer{
		host: host,
		port: port,
		from: from,
		auth: auth,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, msg MailMessage) error {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	if err := smtp.SendMail(addr, m.auth, m.from, []string{msg.To}, []byte(b.String())); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to dispatch mail").
			WithTextCode(TextCodeDispatchFailed)
	}
	return nil
}

// LogMailer writes outbound mail to the logger instead of delivering it.
// Development use only.
type LogMailer struct {
	logger Logger
}

var _ Mailer = (*LogMailer)(nil)

func NewLogMailer(logger Logger) *LogMailer {
	if logger == nil {
		logger = defLogger{}
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg MailMessage) error {
	m.logger.Info("mail to=%s subject=%q body=%q", msg.To, msg.Subject, msg.Body)
	return nil
}
