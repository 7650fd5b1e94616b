// Package credentials stores collaborator API tokens for the prepd CLI in
// ~/.prepd/credentials.yaml, encrypted at rest with AES-GCM.
//
// The encryption key lives in the system keyring:
// - macOS: Keychain
// - Windows: Credential Manager
// - Linux: Secret Service (libsecret)
//
// For CI/testing environments, set PREPD_ENCRYPTION_KEY to a 64-character
// hex string (32 bytes).
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Credential storage constants.
const (
	DefaultCredentialsDir  = ".prepd"
	DefaultCredentialsFile = "credentials.yaml"
)

// Provider names a collaborator whose token prepd stores.
const (
	ProviderCalendar = "calendar"
	ProviderChat     = "chat"
	ProviderSMS      = "sms"
	ProviderEmail    = "email"
)

// Common errors.
var (
	// ErrNoCredentials is returned when no credentials are stored.
	ErrNoCredentials = errors.New("no credentials stored")
	// ErrUnknownProvider is returned for a provider with no stored token.
	ErrUnknownProvider = errors.New("no token stored for provider")
	// ErrEncryptionFailed is returned when encryption/decryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
)

// Token is a stored collaborator token.
type Token struct {
	// Value is the token itself (encrypted at rest).
	Value string `yaml:"value"`
	// Endpoint is the collaborator endpoint this token authenticates to.
	Endpoint string `yaml:"endpoint,omitempty"`
	// LastUpdated is when the token was last set.
	LastUpdated time.Time `yaml:"last_updated"`
}

// Credentials holds the stored collaborator tokens keyed by provider name.
type Credentials struct {
	Tokens map[string]Token `yaml:"tokens"`
}

// Store manages credential storage operations.
type Store struct {
	credentialsDir string
	encryptionKey  []byte
	keyProvider    KeyProvider
}

// NewStore creates a credential store backed by the default key provider.
func NewStore() (*Store, error) {
	keyProvider, err := GetDefaultKeyProvider()
	if err != nil {
		return nil, fmt.Errorf("initializing key provider: %w", err)
	}
	return NewStoreWithKeyProvider(keyProvider)
}

// NewStoreWithKeyProvider creates a credential store with a custom key
// provider. This is primarily used for testing.
func NewStoreWithKeyProvider(keyProvider KeyProvider) (*Store, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return nil, fmt.Errorf("getting credentials directory: %w", err)
	}

	key, err := keyProvider.GetKey()
	if err != nil {
		return nil, fmt.Errorf("getting encryption key: %w", err)
	}

	return &Store{
		credentialsDir: dir,
		encryptionKey:  key,
		keyProvider:    keyProvider,
	}, nil
}

// CredentialsDir returns the credentials directory path.
// Uses $PREPD_CONFIG_DIR if set, otherwise ~/.prepd
func CredentialsDir() (string, error) {
	if dir := os.Getenv("PREPD_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultCredentialsDir), nil
}

// CredentialsPath returns the full path to the credentials file.
func CredentialsPath() (string, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultCredentialsFile), nil
}

// SetToken stores or replaces the token for a provider.
func (s *Store) SetToken(provider string, tok Token) error {
	creds, err := s.Load()
	if errors.Is(err, ErrNoCredentials) {
		creds = &Credentials{Tokens: make(map[string]Token)}
	} else if err != nil {
		return err
	}
	if creds.Tokens == nil {
		creds.Tokens = make(map[string]Token)
	}

	tok.LastUpdated = time.Now()
	creds.Tokens[provider] = tok
	return s.save(creds)
}

// GetToken returns the stored token for a provider. The environment variable
// PREPD_<PROVIDER>_TOKEN takes precedence over the file.
func (s *Store) GetToken(provider string) (*Token, error) {
	if v := os.Getenv("PREPD_" + strings.ToUpper(provider) + "_TOKEN"); v != "" {
		return &Token{Value: v}, nil
	}

	creds, err := s.Load()
	if err != nil {
		return nil, err
	}
	tok, ok := creds.Tokens[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return &tok, nil
}

// DeleteToken removes the stored token for a provider. Removing the last
// token deletes the credentials file.
func (s *Store) DeleteToken(provider string) error {
	creds, err := s.Load()
	if errors.Is(err, ErrNoCredentials) {
		return nil
	}
	if err != nil {
		return err
	}

	delete(creds.Tokens, provider)
	if len(creds.Tokens) == 0 {
		return s.deleteFile()
	}
	return s.save(creds)
}

// Providers lists the providers with a stored token, sorted.
func (s *Store) Providers() ([]string, error) {
	creds, err := s.Load()
	if errors.Is(err, ErrNoCredentials) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(creds.Tokens))
	for name := range creds.Tokens {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Load reads and decrypts the credentials file.
func (s *Store) Load() (*Credentials, error) {
	credPath := filepath.Join(s.credentialsDir, DefaultCredentialsFile)

	data, err := os.ReadFile(credPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}

	for name, tok := range creds.Tokens {
		decrypted, err := s.decrypt(tok.Value)
		if err != nil {
			return nil, fmt.Errorf("decrypting %s token: %w", name, err)
		}
		tok.Value = decrypted
		creds.Tokens[name] = tok
	}

	return &creds, nil
}

// save encrypts token values and writes the credentials file with
// restrictive permissions.
func (s *Store) save(creds *Credentials) error {
	if err := os.MkdirAll(s.credentialsDir, 0700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	storage := Credentials{Tokens: make(map[string]Token, len(creds.Tokens))}
	for name, tok := range creds.Tokens {
		encrypted, err := s.encrypt(tok.Value)
		if err != nil {
			return fmt.Errorf("encrypting %s token: %w", name, err)
		}
		tok.Value = encrypted
		storage.Tokens[name] = tok
	}

	data, err := yaml.Marshal(&storage)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	credPath := filepath.Join(s.credentialsDir, DefaultCredentialsFile)
	if err := os.WriteFile(credPath, data, 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}

	return nil
}

func (s *Store) deleteFile() error {
	credPath := filepath.Join(s.credentialsDir, DefaultCredentialsFile)
	if err := os.Remove(credPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing credentials file: %w", err)
	}
	return nil
}

// Exists checks if a credentials file exists.
func (s *Store) Exists() bool {
	credPath := filepath.Join(s.credentialsDir, DefaultCredentialsFile)
	_, err := os.Stat(credPath)
	return err == nil
}

// encrypt encrypts a string using AES-GCM.
func (s *Store) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts an AES-GCM encrypted string.
func (s *Store) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64: %v", ErrEncryptionFailed, err)
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrEncryptionFailed)
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed: %v", ErrEncryptionFailed, err)
	}

	return string(plaintext), nil
}

// MaskToken returns a masked token with first/last few characters visible.
func MaskToken(token string) string {
	if len(token) <= 12 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", 6) + token[len(token)-4:]
}
