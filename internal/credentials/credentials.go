// Package credentials implements icloud.CredentialProvider and
// icloud.MfaProvider for the acquisition methods spec.md §6 names on
// the `password_provider` flag: parameter (supplied directly in
// config), keyring (OS credential store), and console (interactive
// terminal prompt). `webui` is the fourth method the spec lists but is
// explicitly an external collaborator surface (an embedded browser
// driving Apple's sign-in page) with no analogue anywhere in the
// example pack; WebUIProvider here is a narrow stub returning
// ErrUnavailable so a Chain configured with it fails over to the next
// method instead of hanging.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/mutagen-io/gopass"
	"github.com/zalando/go-keyring"

	"github.com/tonimelisma/icloudpd-go/internal/icloud"
)

// ErrUnavailable is returned by a provider that cannot act in the
// current environment (no stored parameter, no TTY, keyring entry
// absent) so Chain can fall through to the next configured method.
var ErrUnavailable = errors.New("credentials: provider unavailable")

// ParameterProvider returns a password supplied directly by
// configuration (the `--password` flag materialized ahead of time).
// It is first in the default `password_provider` order because it
// requires no I/O.
type ParameterProvider struct {
	Password string
}

// Credentials implements icloud.CredentialProvider.
func (p ParameterProvider) Credentials(_ context.Context, _ string) (string, error) {
	if p.Password == "" {
		return "", fmt.Errorf("%w: no --password configured", ErrUnavailable)
	}

	return p.Password, nil
}

// keyringService is the OS keyring service name under which passwords
// are stored, one entry per username.
const keyringService = "icloudpd-go"

// KeyringProvider reads (and, after another provider in the chain
// supplies the password, writes) a password in the OS credential store via
// github.com/zalando/go-keyring — the only OS-keyring wrapper found in
// the example pack with first-class Linux/macOS/Windows backends.
type KeyringProvider struct{}

// Credentials implements icloud.CredentialProvider.
func (KeyringProvider) Credentials(_ context.Context, username string) (string, error) {
	pw, err := keyring.Get(keyringService, username)
	if err != nil {
		return "", fmt.Errorf("%w: keyring: %w", ErrUnavailable, err)
	}

	return pw, nil
}

// StoreKeyring saves a password to the OS keyring for future runs,
// called after any non-keyring provider supplies a password when
// keyring is configured anywhere in the provider chain.
func StoreKeyring(username, password string) error {
	return keyring.Set(keyringService, username, password)
}

// ConsoleProvider prompts on the controlling terminal using
// github.com/mutagen-io/gopass for echo-free input, refusing to block
// forever when stdin is not a TTY (detected via
// github.com/mattn/go-isatty) — e.g. when running under a watch-mode
// daemon with no attached terminal.
type ConsoleProvider struct {
	Stdin  *os.File
	Stdout *os.File
}

// NewConsoleProvider builds a ConsoleProvider bound to the process's
// standard streams.
func NewConsoleProvider() ConsoleProvider {
	return ConsoleProvider{Stdin: os.Stdin, Stdout: os.Stdout}
}

// Credentials implements icloud.CredentialProvider.
func (c ConsoleProvider) Credentials(_ context.Context, username string) (string, error) {
	if !isatty.IsTerminal(c.Stdin.Fd()) && !isatty.IsCygwinTerminal(c.Stdin.Fd()) {
		return "", fmt.Errorf("%w: console: stdin is not a terminal", ErrUnavailable)
	}

	pw, err := gopass.GetPasswdPrompt(fmt.Sprintf("iCloud password for %s: ", username), true, c.Stdin, c.Stdout)
	if err != nil {
		return "", fmt.Errorf("console: reading password: %w", err)
	}

	return string(pw), nil
}

// MfaCode implements icloud.MfaProvider, prompting for a one-time code
// on the same terminal (MFA codes are not masked — they are single-use
// and visible on the device screen that generated them).
func (c ConsoleProvider) MfaCode(_ context.Context, username string) (string, error) {
	if !isatty.IsTerminal(c.Stdin.Fd()) {
		return "", fmt.Errorf("%w: console: stdin is not a terminal", ErrUnavailable)
	}

	fmt.Fprintf(c.Stdout, "Enter the 6-digit verification code sent to %s's trusted device: ", username)

	var code string
	if _, err := fmt.Fscanln(c.Stdin, &code); err != nil {
		return "", fmt.Errorf("console: reading MFA code: %w", err)
	}

	return code, nil
}

// WebUIProvider is the stub for the `webui` acquisition method.
type WebUIProvider struct{}

// Credentials implements icloud.CredentialProvider.
func (WebUIProvider) Credentials(context.Context, string) (string, error) {
	return "", fmt.Errorf("%w: webui: no embedded browser configured", ErrUnavailable)
}

// MfaCode implements icloud.MfaProvider.
func (WebUIProvider) MfaCode(context.Context, string) (string, error) {
	return "", fmt.Errorf("%w: webui: no embedded browser configured", ErrUnavailable)
}

// Chain tries each CredentialProvider in order, returning the first
// result that does not report ErrUnavailable — the ordered, repeatable
// `password_provider` semantics from spec.md §6.
type Chain struct {
	Providers []icloud.CredentialProvider
}

// Credentials implements icloud.CredentialProvider. When the password
// comes from a provider other than the keyring but a KeyringProvider is
// also configured in the chain, the password is written back to the
// keyring so the next run finds it without a console prompt.
func (c Chain) Credentials(ctx context.Context, username string) (string, error) {
	var lastErr error

	for i, p := range c.Providers {
		pw, err := p.Credentials(ctx, username)
		if err == nil {
			if _, fromKeyring := p.(KeyringProvider); !fromKeyring {
				c.backfillKeyring(i, username, pw)
			}

			return pw, nil
		}

		if !errors.Is(err, ErrUnavailable) {
			return "", err
		}

		lastErr = err
	}

	return "", fmt.Errorf("credentials: no configured provider could supply a password: %w", lastErr)
}

// backfillKeyring stores pw in the OS keyring if any other provider in
// the chain is a KeyringProvider. Storage failures are not fatal — the
// password was already acquired successfully.
func (c Chain) backfillKeyring(skip int, username, pw string) {
	for i, p := range c.Providers {
		if i == skip {
			continue
		}

		if _, ok := p.(KeyringProvider); ok {
			_ = StoreKeyring(username, pw)

			return
		}
	}
}
