// Package credentials keeps the protocol session artifact encrypted at rest.
//
// The protocol library works on a plaintext sqlite file while the process
// runs. Restore produces that file from the encrypted artifact at startup
// and Persist seals a consistent snapshot of it, WAL included, after every
// credential change.
package credentials

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/matheus3301/wppagent/internal/encryption"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// ErrWrongPassphrase is returned by Restore when the encrypted artifact
// cannot be opened. The artifact has been removed and the next start links
// a fresh session.
var ErrWrongPassphrase = errors.New("credentials: wrong passphrase or corrupted credentials, stored session removed; restart to link a new session")

// Cipher seals and opens the serialized session.
type Cipher interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(token string) ([]byte, error)
}

// Store moves the session artifact between its plaintext and encrypted forms.
type Store struct {
	cipher    Cipher
	plainPath string
	encPath   string
	logger    *zap.Logger

	mu sync.Mutex
}

// New creates a credential store.
func New(c Cipher, plainPath, encPath string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{cipher: c, plainPath: plainPath, encPath: encPath, logger: logger}
}

// PlainPath is where the protocol library reads and writes its session.
func (s *Store) PlainPath() string { return s.plainPath }

// Restore prepares the plaintext session before the protocol library opens it.
func (s *Store) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encInfo, encErr := os.Stat(s.encPath)
	plainAt, hasPlain := plainModTime(s.plainPath)
	hasEnc := encErr == nil

	switch {
	case !hasEnc && !hasPlain:
		s.logger.Info("no stored credentials, a new session will be linked")
		return nil
	case hasPlain && (!hasEnc || plainAt.After(encInfo.ModTime())):
		// Left behind by an unclean shutdown, or never encrypted yet.
		s.logger.Warn("plaintext session found on disk, encrypting it", zap.String("path", s.plainPath))
		return s.persistLocked()
	}

	token, err := os.ReadFile(s.encPath)
	if err != nil {
		return fmt.Errorf("credentials: read %s: %w", s.encPath, err)
	}
	plain, err := s.cipher.Decrypt(string(token))
	if err != nil {
		s.logger.Error("failed to decrypt stored credentials", zap.Error(err))
		if rmErr := s.removeAll(); rmErr != nil {
			s.logger.Warn("failed to remove corrupted credentials", zap.Error(rmErr))
		}
		return fmt.Errorf("%w: %v", ErrWrongPassphrase, err)
	}
	// sidecars from an older session would be replayed over the snapshot
	if err := removeFiles(plainFiles(s.plainPath)[1:]...); err != nil {
		return fmt.Errorf("credentials: remove stale journal: %w", err)
	}
	if err := writeAtomic(s.plainPath, plain); err != nil {
		return fmt.Errorf("credentials: write plaintext: %w", err)
	}
	s.logger.Info("credentials restored")
	return nil
}

// Persist encrypts the current plaintext session into the encrypted artifact.
// A missing plaintext file is not an error.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	plain, err := snapshot(s.plainPath)
	if err != nil {
		return fmt.Errorf("credentials: snapshot plaintext: %w", err)
	}
	if plain == nil {
		return nil
	}
	token, err := s.cipher.Encrypt(plain)
	if err != nil {
		return fmt.Errorf("credentials: encrypt: %w", err)
	}
	if err := writeAtomic(s.encPath, []byte(token)); err != nil {
		return fmt.Errorf("credentials: write encrypted: %w", err)
	}
	return nil
}

// DiscardPlaintext removes the plaintext session. Call it only after a
// successful Persist and once the protocol library has closed the file.
func (s *Store) DiscardPlaintext() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeFiles(plainFiles(s.plainPath)...)
}

// Erase removes every trace of the session.
func (s *Store) Erase() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeAll()
}

func (s *Store) removeAll() error {
	return removeFiles(append(plainFiles(s.plainPath), s.encPath)...)
}

// snapshot returns a self-contained copy of the sqlite database at path,
// including pages still held in its WAL. It returns nil when path does not
// exist.
func snapshot(path string) ([]byte, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".snap-*")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	// VACUUM INTO refuses an existing target
	if err := os.Remove(tmpPath); err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(tmpPath) }()

	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("VACUUM INTO ?", tmpPath); err != nil {
		return nil, err
	}
	return os.ReadFile(tmpPath)
}

// plainModTime is the latest write to the plaintext database or its WAL.
func plainModTime(path string) (time.Time, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	at := info.ModTime()
	if wal, err := os.Stat(path + "-wal"); err == nil && wal.ModTime().After(at) {
		at = wal.ModTime()
	}
	return at, true
}

func plainFiles(path string) []string {
	return []string{path, path + "-wal", path + "-shm", path + "-journal"}
}

func removeFiles(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

var _ Cipher = (*encryption.Service)(nil)
