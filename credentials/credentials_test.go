package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// testEncryptionKey is a fixed 32-byte key for testing (hex-encoded to 64 chars)
const testEncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func newTestStore(t *testing.T) *Store {
	t.Helper()

	t.Setenv("PREPD_CONFIG_DIR", t.TempDir())
	t.Setenv("PREPD_ENCRYPTION_KEY", testEncryptionKey)

	store, err := NewStoreWithKeyProvider(NewEnvKeyProvider("PREPD_ENCRYPTION_KEY"))
	if err != nil {
		t.Fatalf("NewStoreWithKeyProvider() error = %v", err)
	}
	return store
}

func TestCredentialsDir(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		t.Setenv("PREPD_CONFIG_DIR", "")
		os.Unsetenv("PREPD_CONFIG_DIR")

		dir, err := CredentialsDir()
		if err != nil {
			t.Fatalf("CredentialsDir() error = %v", err)
		}

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, DefaultCredentialsDir)
		if dir != expected {
			t.Errorf("CredentialsDir() = %q, want %q", dir, expected)
		}
	})

	t.Run("env override", func(t *testing.T) {
		t.Setenv("PREPD_CONFIG_DIR", "/tmp/custom-prepd")

		dir, err := CredentialsDir()
		if err != nil {
			t.Fatalf("CredentialsDir() error = %v", err)
		}
		if dir != "/tmp/custom-prepd" {
			t.Errorf("CredentialsDir() = %q, want /tmp/custom-prepd", dir)
		}
	})
}

func TestSetAndGetToken(t *testing.T) {
	store := newTestStore(t)

	err := store.SetToken(ProviderCalendar, Token{
		Value:    "cal-secret-token-value",
		Endpoint: "https://calendar.internal/api",
	})
	if err != nil {
		t.Fatalf("SetToken() error = %v", err)
	}

	tok, err := store.GetToken(ProviderCalendar)
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if tok.Value != "cal-secret-token-value" {
		t.Errorf("GetToken() value = %q", tok.Value)
	}
	if tok.Endpoint != "https://calendar.internal/api" {
		t.Errorf("GetToken() endpoint = %q", tok.Endpoint)
	}
	if tok.LastUpdated.IsZero() {
		t.Error("GetToken() last_updated not set")
	}
}

func TestGetTokenUnknownProvider(t *testing.T) {
	store := newTestStore(t)

	if err := store.SetToken(ProviderChat, Token{Value: "x"}); err != nil {
		t.Fatalf("SetToken() error = %v", err)
	}

	_, err := store.GetToken(ProviderSMS)
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("GetToken() error = %v, want ErrUnknownProvider", err)
	}
}

func TestGetTokenNoCredentials(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetToken(ProviderChat)
	if !errors.Is(err, ErrNoCredentials) {
		t.Errorf("GetToken() error = %v, want ErrNoCredentials", err)
	}
}

func TestEnvTokenOverridesFile(t *testing.T) {
	store := newTestStore(t)

	if err := store.SetToken(ProviderChat, Token{Value: "from-file"}); err != nil {
		t.Fatalf("SetToken() error = %v", err)
	}

	t.Setenv("PREPD_CHAT_TOKEN", "from-env")
	tok, err := store.GetToken(ProviderChat)
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if tok.Value != "from-env" {
		t.Errorf("GetToken() value = %q, want from-env", tok.Value)
	}
}

func TestTokenEncryptedAtRest(t *testing.T) {
	store := newTestStore(t)

	const secret = "super-secret-chat-token"
	if err := store.SetToken(ProviderChat, Token{Value: secret}); err != nil {
		t.Fatalf("SetToken() error = %v", err)
	}

	path, err := CredentialsPath()
	if err != nil {
		t.Fatalf("CredentialsPath() error = %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	if strings.Contains(string(raw), secret) {
		t.Error("token stored in plaintext")
	}

	var onDisk Credentials
	if err := yaml.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if onDisk.Tokens[ProviderChat].Value == secret {
		t.Error("token value not encrypted")
	}
}

func TestDeleteToken(t *testing.T) {
	store := newTestStore(t)

	if err := store.SetToken(ProviderChat, Token{Value: "a"}); err != nil {
		t.Fatalf("SetToken() error = %v", err)
	}
	if err := store.SetToken(ProviderEmail, Token{Value: "b"}); err != nil {
		t.Fatalf("SetToken() error = %v", err)
	}

	if err := store.DeleteToken(ProviderChat); err != nil {
		t.Fatalf("DeleteToken() error = %v", err)
	}
	if _, err := store.GetToken(ProviderChat); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("GetToken() after delete error = %v, want ErrUnknownProvider", err)
	}

	// Other tokens survive.
	if _, err := store.GetToken(ProviderEmail); err != nil {
		t.Errorf("GetToken(email) error = %v", err)
	}

	// Deleting the last token removes the file.
	if err := store.DeleteToken(ProviderEmail); err != nil {
		t.Fatalf("DeleteToken() error = %v", err)
	}
	if store.Exists() {
		t.Error("credentials file should be removed after last token deleted")
	}

	// Deleting when nothing is stored is a no-op.
	if err := store.DeleteToken(ProviderEmail); err != nil {
		t.Errorf("DeleteToken() on empty store error = %v", err)
	}
}

func TestProviders(t *testing.T) {
	store := newTestStore(t)

	names, err := store.Providers()
	if err != nil {
		t.Fatalf("Providers() error = %v", err)
	}
	if len(names) != 0 {
		t.Errorf("Providers() = %v, want empty", names)
	}

	for _, p := range []string{ProviderEmail, ProviderCalendar, ProviderChat} {
		if err := store.SetToken(p, Token{Value: "t"}); err != nil {
			t.Fatalf("SetToken(%s) error = %v", p, err)
		}
	}

	names, err = store.Providers()
	if err != nil {
		t.Fatalf("Providers() error = %v", err)
	}
	want := []string{ProviderCalendar, ProviderChat, ProviderEmail}
	if len(names) != len(want) {
		t.Fatalf("Providers() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Providers()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	store := newTestStore(t)

	for _, plaintext := range []string{"", "short", strings.Repeat("long-token-", 50)} {
		encrypted, err := store.encrypt(plaintext)
		if err != nil {
			t.Fatalf("encrypt(%q) error = %v", plaintext, err)
		}
		decrypted, err := store.decrypt(encrypted)
		if err != nil {
			t.Fatalf("decrypt() error = %v", err)
		}
		if decrypted != plaintext {
			t.Errorf("round trip = %q, want %q", decrypted, plaintext)
		}
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	store := newTestStore(t)

	encrypted, err := store.encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt() error = %v", err)
	}

	other := &Store{
		credentialsDir: store.credentialsDir,
		encryptionKey:  make([]byte, keyLength),
	}
	if _, err := other.decrypt(encrypted); !errors.Is(err, ErrEncryptionFailed) {
		t.Errorf("decrypt() error = %v, want ErrEncryptionFailed", err)
	}
}

func TestMaskToken(t *testing.T) {
	if got := MaskToken("short"); got != "*****" {
		t.Errorf("MaskToken(short) = %q", got)
	}
	got := MaskToken("abcdefghijklmnopqrst")
	if !strings.HasPrefix(got, "abcd") || !strings.HasSuffix(got, "qrst") {
		t.Errorf("MaskToken() = %q", got)
	}
	if strings.Contains(got, "efgh") {
		t.Errorf("MaskToken() leaked middle: %q", got)
	}
}
