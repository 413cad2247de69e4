// Package notify sends the re-auth-required notifications spec.md §7
// calls for: an SMTP email and/or an external script invocation. Both
// are fired only when the sync loop needs fresh credentials, never on
// transient transport errors (spec.md §7 "User-visible behavior").
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"os/exec"
	"strings"
	"time"
)

// Config carries the notification settings resolved from CLI flags or
// a config file (internal/config.Account's Notification*/SMTP* fields).
type Config struct {
	Email     string // recipient; empty disables email notification
	EmailFrom string // From header; defaults to Email when empty
	SMTPHost  string
	SMTPPort  int
	SMTPUser  string
	SMTPPass  string

	Script string // external command; empty disables script notification

	Timeout time.Duration // dial/send timeout; defaults to 30s
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}

	if c.EmailFrom == "" {
		c.EmailFrom = c.Email
	}

	return c
}

// Notifier fires the re-auth-required notification for one account.
type Notifier struct {
	cfg    Config
	logger *slog.Logger
}

// New builds a Notifier. A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}

	return &Notifier{cfg: cfg.withDefaults(), logger: logger}
}

// NotifyReauthRequired fires every configured channel for the given
// username. It logs failures but never returns an error: a failed
// notification must not turn into a fatal sync-loop error (spec.md §7
// scopes notification as a side channel, not part of the error
// taxonomy C8 reacts to).
func (n *Notifier) NotifyReauthRequired(ctx context.Context, username string, cause error) {
	subject := fmt.Sprintf("icloudpd-go: re-authentication required for %s", username)
	body := fmt.Sprintf("icloudpd-go could not refresh the session for account %q and needs new credentials.\n\nCause: %v\n", username, cause)

	if n.cfg.Email != "" {
		if err := n.sendEmail(ctx, subject, body); err != nil {
			n.logger.Warn("notification email failed", slog.String("username", username), slog.Any("error", err))
		}
	}

	if n.cfg.Script != "" {
		if err := n.runScript(ctx, username, cause); err != nil {
			n.logger.Warn("notification script failed", slog.String("username", username), slog.Any("error", err))
		}
	}
}

// sendEmail delivers a plain-text message over SMTP, using STARTTLS
// when the server offers it and falling back to PLAIN auth only when
// credentials are configured.
func (n *Notifier) sendEmail(ctx context.Context, subject, body string) error {
	if n.cfg.SMTPHost == "" {
		return fmt.Errorf("notify: smtp-host not configured")
	}

	addr := net.JoinHostPort(n.cfg.SMTPHost, fmt.Sprintf("%d", n.cfg.SMTPPort))

	msg := strings.Builder{}
	fmt.Fprintf(&msg, "From: %s\r\n", n.cfg.EmailFrom)
	fmt.Fprintf(&msg, "To: %s\r\n", n.cfg.Email)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("\r\n")
	msg.WriteString(body)

	dialer := &net.Dialer{Timeout: n.cfg.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("notify: dial smtp: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, n.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("notify: smtp client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: n.cfg.SMTPHost}); err != nil {
			return fmt.Errorf("notify: starttls: %w", err)
		}
	}

	if n.cfg.SMTPUser != "" {
		auth := smtp.PlainAuth("", n.cfg.SMTPUser, n.cfg.SMTPPass, n.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("notify: smtp auth: %w", err)
		}
	}

	if err := client.Mail(n.cfg.EmailFrom); err != nil {
		return fmt.Errorf("notify: MAIL FROM: %w", err)
	}

	if err := client.Rcpt(n.cfg.Email); err != nil {
		return fmt.Errorf("notify: RCPT TO: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("notify: DATA: %w", err)
	}

	if _, err := w.Write([]byte(msg.String())); err != nil {
		w.Close()
		return fmt.Errorf("notify: writing message: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("notify: closing message: %w", err)
	}

	return client.Quit()
}

// runScript invokes the configured external script with the username
// and failure cause as arguments, mirroring the teacher's use of
// exec.CommandContext for its own external-process invocation
// (auth.go's browser-open step) — bounded by the same timeout as the
// email path rather than left to run indefinitely.
func (n *Notifier) runScript(ctx context.Context, username string, cause error) error {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, n.cfg.Script, username, cause.Error())

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify: script %q: %w (output: %s)", n.cfg.Script, err, strings.TrimSpace(string(out)))
	}

	return nil
}
