package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyReauthRequired_NoOpWithoutConfig(t *testing.T) {
	n := New(Config{}, nil)

	assert.NotPanics(t, func() {
		n.NotifyReauthRequired(context.Background(), "user@example.com", fmt.Errorf("session expired"))
	})
}

func TestRunScript_InvokesWithUsernameAndCause(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "out.txt")

	script := filepath.Join(dir, "notify.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"$1|$2\" > \""+marker+"\"\n"), 0o755))

	n := New(Config{Script: script}, nil)

	n.NotifyReauthRequired(context.Background(), "user@example.com", fmt.Errorf("session expired"))

	got, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com|session expired\n", string(got))
}

func TestRunScript_FailureIsLoggedNotReturned(t *testing.T) {
	n := New(Config{Script: "/nonexistent/path/to/script"}, nil)

	assert.NotPanics(t, func() {
		n.NotifyReauthRequired(context.Background(), "user@example.com", fmt.Errorf("boom"))
	})
}

func TestSendEmail_RequiresSMTPHost(t *testing.T) {
	n := New(Config{Email: "to@example.com"}, nil)

	err := n.sendEmail(context.Background(), "subject", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp-host")
}

func TestConfig_WithDefaults(t *testing.T) {
	c := Config{Email: "to@example.com"}.withDefaults()

	assert.Equal(t, "to@example.com", c.EmailFrom)
	assert.Greater(t, c.Timeout.Seconds(), 0.0)
}
