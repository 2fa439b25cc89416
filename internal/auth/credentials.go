package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"gridops/internal/security/secretbox"
)

// Credentials is the token pair held on the client side.
type Credentials struct {
	Subject      string    `yaml:"subject,omitempty"`
	AccessToken  string    `yaml:"access_token"`
	RefreshToken string    `yaml:"refresh_token"`
	ExpiresAt    time.Time `yaml:"expires_at,omitempty"`
}

// CredentialStore persists Credentials between calls. Load returns the zero
// value when nothing is stored.
type CredentialStore interface {
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, c Credentials) error
	Clear(ctx context.Context) error
}

type MemoryCredentials struct {
	mu    sync.Mutex
	creds Credentials
}

func NewMemoryCredentials(c Credentials) *MemoryCredentials {
	return &MemoryCredentials{creds: c}
}

func (m *MemoryCredentials) Load(context.Context) (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds, nil
}

func (m *MemoryCredentials) Save(_ context.Context, c Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = c
	return nil
}

func (m *MemoryCredentials) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = Credentials{}
	return nil
}

// FileCredentials stores credentials as YAML. When a box is set the refresh
// token is sealed at rest.
type FileCredentials struct {
	path string
	box  *secretbox.Box
	mu   sync.Mutex
}

func NewFileCredentials(path string, box *secretbox.Box) *FileCredentials {
	return &FileCredentials{path: path, box: box}
}

func (f *FileCredentials) Path() string { return f.path }

func (f *FileCredentials) Load(context.Context) (Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credentials{}, nil
		}
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	var c Credentials
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials %s: %w", f.path, err)
	}
	if secretbox.IsSealed(c.RefreshToken) {
		if f.box == nil {
			return Credentials{}, errors.New("credentials are sealed but no key is configured")
		}
		plain, err := f.box.Open(c.RefreshToken)
		if err != nil {
			return Credentials{}, err
		}
		c.RefreshToken = plain
	}
	return c, nil
}

func (f *FileCredentials) Save(_ context.Context, c Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.box != nil && c.RefreshToken != "" {
		sealed, err := f.box.Seal(c.RefreshToken)
		if err != nil {
			return err
		}
		c.RefreshToken = sealed
	}
	raw, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f *FileCredentials) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
