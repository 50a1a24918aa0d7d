package session

import (
	"os"
	"path/filepath"
)

// DefaultName is the session used when none is configured.
const DefaultName = "main"

// BaseDir returns ~/.wpp.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wpp")
}

// Layout names every file a session owns under <root>/sessions/<name>.
type Layout struct {
	Root string
	Name string
}

// NewLayout validates name and roots the layout at root. An empty root
// means BaseDir.
func NewLayout(root, name string) (Layout, error) {
	if err := ValidateName(name); err != nil {
		return Layout{}, err
	}
	if root == "" {
		root = BaseDir()
	}
	return Layout{Root: root, Name: name}, nil
}

// Dir returns the session-specific directory.
func (l Layout) Dir() string {
	return filepath.Join(l.Root, "sessions", l.Name)
}

// SaltPath holds the 32 byte KDF salt.
func (l Layout) SaltPath() string {
	return filepath.Join(l.Dir(), "salt")
}

// CredentialsPath holds the encrypted session token.
func (l Layout) CredentialsPath() string {
	return filepath.Join(l.Dir(), "credentials.enc")
}

// SessionDBPath is the plaintext protocol store. It exists only while the
// daemon runs.
func (l Layout) SessionDBPath() string {
	return filepath.Join(l.Dir(), "session.db")
}

// AppDBPath returns the row store path.
func (l Layout) AppDBPath() string {
	return filepath.Join(l.Dir(), "wpp.db")
}

func (l Layout) MediaDir() string {
	return filepath.Join(l.Dir(), "media")
}

func (l Layout) LogDir() string {
	return filepath.Join(l.Dir(), "logs")
}

// LogPath returns the daemon log file path.
func (l Layout) LogPath() string {
	return filepath.Join(l.LogDir(), "wppagent.log")
}

// ConfigPath returns the optional TOML file shared by all sessions.
func (l Layout) ConfigPath() string {
	return filepath.Join(l.Root, "config.toml")
}

// EnsureDirs creates the session directory tree with owner-only permissions.
func (l Layout) EnsureDirs() error {
	for _, d := range []string{l.Dir(), l.LogDir(), l.MediaDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
