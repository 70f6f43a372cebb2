// Package credentials keeps termit secrets out of the config file.
//
// The database password is stored in the system keyring:
// - macOS: Keychain
// - Windows: Credential Manager
// - Linux: Secret Service (libsecret)
//
// For CI/testing environments, set TERMIT_DATABASE_PASSWORD instead.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the system keyring.
	keyringService = "termit"

	// PasswordEnvVar overrides the keyring.
	PasswordEnvVar = "TERMIT_DATABASE_PASSWORD"
)

var (
	// ErrNoPassword is returned when no password is stored for an account.
	ErrNoPassword = errors.New("no password stored")
	// ErrKeyringUnavailable indicates the system keyring is not available.
	ErrKeyringUnavailable = errors.New("system keyring unavailable")
	// ErrReadOnly is returned when writing to a provider that cannot store secrets.
	ErrReadOnly = errors.New("password provider is read-only")
)

// Provider stores passwords by account.
type Provider interface {
	Password(account string) (string, error)
	SetPassword(account, password string) error
	DeletePassword(account string) error

	// Description returns a human-readable description of the storage mechanism.
	Description() string
}

// DatabaseAccount names the keyring entry of a database login.
func DatabaseAccount(user, host string, port int, database string) string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", user, host, port, database)
}

// KeyringProvider stores passwords in the system keyring.
type KeyringProvider struct {
	mu sync.Mutex
}

// NewKeyringProvider creates a new KeyringProvider.
func NewKeyringProvider() *KeyringProvider {
	return &KeyringProvider{}
}

func (p *KeyringProvider) Password(account string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pw, err := keyring.Get(keyringService, account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%s: %w", account, ErrNoPassword)
		}
		return "", fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}
	return pw, nil
}

func (p *KeyringProvider) SetPassword(account, password string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := keyring.Set(keyringService, account, password); err != nil {
		return fmt.Errorf("%w: storing password: %v", ErrKeyringUnavailable, err)
	}
	return nil
}

func (p *KeyringProvider) DeletePassword(account string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := keyring.Delete(keyringService, account)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: deleting password: %v", ErrKeyringUnavailable, err)
	}
	return nil
}

func (p *KeyringProvider) Description() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "windows":
		return "Windows Credential Manager"
	default:
		return "System Keyring (Secret Service)"
	}
}

// EnvProvider reads one password from an environment variable for every account.
type EnvProvider struct {
	envVar string
}

// NewEnvProvider creates a new EnvProvider reading envVar.
func NewEnvProvider(envVar string) *EnvProvider {
	return &EnvProvider{envVar: envVar}
}

func (p *EnvProvider) Password(account string) (string, error) {
	pw := os.Getenv(p.envVar)
	if pw == "" {
		return "", fmt.Errorf("environment variable %s not set: %w", p.envVar, ErrNoPassword)
	}
	return pw, nil
}

func (p *EnvProvider) SetPassword(account, password string) error {
	return fmt.Errorf("%s: %w", p.envVar, ErrReadOnly)
}

func (p *EnvProvider) DeletePassword(account string) error {
	return fmt.Errorf("%s: %w", p.envVar, ErrReadOnly)
}

func (p *EnvProvider) Description() string {
	return fmt.Sprintf("Environment variable (%s)", p.envVar)
}

// DefaultProvider returns the environment provider when TERMIT_DATABASE_PASSWORD
// is set, the system keyring otherwise.
func DefaultProvider() Provider {
	if os.Getenv(PasswordEnvVar) != "" {
		return NewEnvProvider(PasswordEnvVar)
	}
	return NewKeyringProvider()
}

// LookupPassword returns the stored password of account, or "" when none is
// stored. Other provider failures are returned.
func LookupPassword(p Provider, account string) (string, error) {
	pw, err := p.Password(account)
	if errors.Is(err, ErrNoPassword) {
		return "", nil
	}
	return pw, err
}
