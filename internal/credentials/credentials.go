// Package credentials persists broker tokens to a dotenv file without disturbing unrelated keys.
package credentials

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

// Keys used in the dotenv file.
const (
	KeyAPIKey       = "KITE_API_KEY"
	KeyAPISecret    = "KITE_API_SECRET"
	KeyRequestToken = "KITE_REQUEST_TOKEN"
	KeyAccessToken  = "KITE_ACCESS_TOKEN"
	KeyAdminPIN     = "ADMIN_PIN"
)

// Store is a durable sink for the two broker tokens.
type Store interface {
	// SaveTokens writes the non-empty tokens; an empty argument leaves that key untouched.
	SaveTokens(accessToken, requestToken string) error
}

// Secrets are the broker credentials read from the dotenv file.
type Secrets struct {
	APIKey       string
	APISecret    string
	RequestToken string
	AccessToken  string
	AdminPIN     string
}

// EnvFile is a Store backed by a dotenv file. All rewrites are serialized.
type EnvFile struct {
	path string
	mu   sync.Mutex
}

// NewEnvFile returns a store for path. The file is created on first write.
func NewEnvFile(path string) *EnvFile {
	return &EnvFile{path: path}
}

// Path returns the backing file path.
func (e *EnvFile) Path() string {
	return e.path
}

// Read returns the secrets currently in the file. A missing file yields zero Secrets.
func (e *EnvFile) Read() (Secrets, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	env, err := e.readLocked()
	if err != nil {
		return Secrets{}, err
	}
	return Secrets{
		APIKey:       env[KeyAPIKey],
		APISecret:    env[KeyAPISecret],
		RequestToken: env[KeyRequestToken],
		AccessToken:  env[KeyAccessToken],
		AdminPIN:     env[KeyAdminPIN],
	}, nil
}

func (e *EnvFile) SaveTokens(accessToken, requestToken string) error {
	fields := make(map[string]string, 2)
	if accessToken != "" {
		fields[KeyAccessToken] = accessToken
	}
	if requestToken != "" {
		fields[KeyRequestToken] = requestToken
	}
	return e.Update(fields)
}

// Update merges fields into the file. Keys not named in fields keep their values.
// The file is rewritten through a temp file and rename.
func (e *EnvFile) Update(fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	env, err := e.readLocked()
	if err != nil {
		return err
	}
	changed := false
	for k, v := range fields {
		if env[k] != v {
			env[k] = v
			changed = true
		}
	}
	if !changed {
		return nil
	}

	content, err := godotenv.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode env file: %w", err)
	}

	dir := filepath.Dir(e.path)
	tmp, err := os.CreateTemp(dir, ".env-*")
	if err != nil {
		return fmt.Errorf("failed to create temp env file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.WriteString(content + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp env file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp env file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("failed to set env file mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), e.path); err != nil {
		return fmt.Errorf("failed to replace env file: %w", err)
	}
	return nil
}

func (e *EnvFile) readLocked() (map[string]string, error) {
	env, err := godotenv.Read(e.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
	return env, nil
}

// Memory is an in-process Store used when no env file is configured.
type Memory struct {
	mu           sync.Mutex
	AccessToken  string
	RequestToken string
	Writes       int
}

func (m *Memory) SaveTokens(accessToken, requestToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if accessToken != "" {
		m.AccessToken = accessToken
	}
	if requestToken != "" {
		m.RequestToken = requestToken
	}
	m.Writes++
	return nil
}

// Tokens returns the last saved tokens.
func (m *Memory) Tokens() (accessToken, requestToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.AccessToken, m.RequestToken
}
