package auth

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store persists the bearer token between runs.
type Store interface {
	// Load returns the stored token or an error when none is stored.
	Load() (string, error)
	// Save replaces the stored token.
	Save(token string, exp time.Time) error
	// Clear removes the stored token. Clearing an empty store is not an error.
	Clear() error
}

// ErrNoToken is returned by Load when nothing is stored.
var ErrNoToken = errors.New("no stored token")

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// DefaultDir returns $XDG_CONFIG_HOME/buyvia, falling back to ~/.config/buyvia.
func DefaultDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "buyvia")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "buyvia")
}

// FileStore keeps the token as JSON in Dir/token.json with 0600 permissions.
type FileStore struct {
	Dir string
}

// NewFileStore returns a FileStore rooted at dir, or DefaultDir when dir is empty.
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = DefaultDir()
	}
	return &FileStore{Dir: dir}
}

// Path returns the token file location.
func (f *FileStore) Path() string { return filepath.Join(f.Dir, "token.json") }

// Load reads the token file. Expired tokens are reported as ErrNoToken.
func (f *FileStore) Load() (string, error) {
	b, err := os.ReadFile(f.Path())
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", ErrNoToken
	}
	return tf.AccessToken, nil
}

// Save writes the token file, creating Dir if needed.
func (f *FileStore) Save(token string, exp time.Time) error {
	if err := os.MkdirAll(f.Dir, 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(tokenFile{AccessToken: token, ExpiresAt: exp}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path(), b, 0o600)
}

// Clear deletes the token file.
func (f *FileStore) Clear() error {
	err := os.Remove(f.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// MemoryStore keeps the token in memory.
type MemoryStore struct {
	mu    sync.Mutex
	token string
	exp   time.Time
}

// Load returns the stored token.
func (m *MemoryStore) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return "", ErrNoToken
	}
	return m.token, nil
}

// Save stores token.
func (m *MemoryStore) Save(token string, exp time.Time) error {
	m.mu.Lock()
	m.token, m.exp = token, exp
	m.mu.Unlock()
	return nil
}

// Clear forgets the token.
func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	m.token, m.exp = "", time.Time{}
	m.mu.Unlock()
	return nil
}
