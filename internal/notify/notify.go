// Package notify delivers operator-facing messages, such as failed merges.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"
)

// Notifier sends a message to the operators
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// LogNotifier writes notifications to the log only
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that only logs
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the message at warn level
func (n *LogNotifier) Notify(_ context.Context, subject, body string) error {
	n.logger.Warn("operator notification", "subject", subject, "body", body)
	return nil
}

// sendMailFunc matches smtp.SendMail
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// MailNotifier mails notifications to the configured admins
type MailNotifier struct {
	addr     string
	host     string
	from     string
	admins   []string
	auth     smtp.Auth
	sendMail sendMailFunc
	now      func() time.Time
}

// MailOptions configures a MailNotifier
type MailOptions struct {
	Host     string
	Port     int
	From     string
	Admins   []string
	Username string
	Password string
}

// NewMailNotifier creates a notifier sending mail through an SMTP relay
func NewMailNotifier(opts MailOptions) *MailNotifier {
	n := &MailNotifier{
		addr:     fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		host:     opts.Host,
		from:     opts.From,
		admins:   opts.Admins,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
	if opts.Username != "" {
		n.auth = smtp.PlainAuth("", opts.Username, opts.Password, opts.Host)
	}
	return n
}

// Notify sends one mail to all admins
func (n *MailNotifier) Notify(_ context.Context, subject, body string) error {
	if len(n.admins) == 0 {
		return nil
	}
	msg := n.compose(subject, body)
	if err := n.sendMail(n.addr, n.auth, n.from, n.admins, msg); err != nil {
		return fmt.Errorf("failed to send mail to admins: %w", err)
	}
	return nil
}

func (n *MailNotifier) compose(subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.admins, ", "))
	fmt.Fprintf(&b, "Subject: [posyncd] %s\r\n", strings.ReplaceAll(subject, "\n", " "))
	fmt.Fprintf(&b, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// Send delivers a notification and logs delivery failures instead of
// returning them
func Send(ctx context.Context, n Notifier, logger *slog.Logger, subject, body string) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, subject, body); err != nil {
		logger.Error("failed to notify operators", "subject", subject, "error", err)
	}
}
