package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func setupAuthEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PREPD_CONFIG_DIR", t.TempDir())
	t.Setenv("PREPD_ENCRYPTION_KEY", testEncryptionKey)
}

func TestValidateProvider(t *testing.T) {
	for _, p := range []string{"calendar", "chat", "sms", "email"} {
		assert.NoError(t, validateProvider(p))
	}
	assert.Error(t, validateProvider("pager"))
}

func TestAuthSetAndShowToken(t *testing.T) {
	setupAuthEnv(t)

	set := newAuthSetTokenCommand()
	var out bytes.Buffer
	set.SetOut(&out)
	set.SetArgs([]string{"chat", "--token", "chat-secret-token-123", "--endpoint", "https://chat.internal"})
	require.NoError(t, set.Execute())
	assert.Contains(t, out.String(), "Stored chat token")
	assert.NotContains(t, out.String(), "chat-secret-token-123")

	show := newAuthShowCommand()
	out.Reset()
	show.SetOut(&out)
	show.SetArgs(nil)
	require.NoError(t, show.Execute())
	assert.Contains(t, out.String(), "chat")
	assert.Contains(t, out.String(), "https://chat.internal")
	assert.NotContains(t, out.String(), "chat-secret-token-123")
}

func TestAuthSetTokenRejectsUnknownProvider(t *testing.T) {
	setupAuthEnv(t)

	set := newAuthSetTokenCommand()
	set.SetOut(&bytes.Buffer{})
	set.SetErr(&bytes.Buffer{})
	set.SetArgs([]string{"pager", "--token", "x"})
	require.Error(t, set.Execute())
}

func TestAuthDeleteToken(t *testing.T) {
	setupAuthEnv(t)

	set := newAuthSetTokenCommand()
	set.SetOut(&bytes.Buffer{})
	set.SetArgs([]string{"email", "--token", "email-token"})
	require.NoError(t, set.Execute())

	del := newAuthDeleteCommand()
	var out bytes.Buffer
	del.SetOut(&out)
	del.SetArgs([]string{"email"})
	require.NoError(t, del.Execute())
	assert.Contains(t, out.String(), "Deleted email token")

	show := newAuthShowCommand()
	out.Reset()
	show.SetOut(&out)
	require.NoError(t, show.Execute())
	assert.Contains(t, out.String(), "No tokens stored")
}
