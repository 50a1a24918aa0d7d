// Package encryption derives a passphrase key and seals opaque blobs with
// AES-256-GCM. Tokens are base64(nonce || tag || ciphertext).
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	// SaltSize is the length of the persisted salt file.
	SaltSize  = 32
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

var (
	// ErrNotInitialized is returned when Encrypt or Decrypt runs before Initialize.
	ErrNotInitialized = errors.New("encryption: service not initialized")
	// ErrDecryptionFailed covers every way a token can fail to open.
	ErrDecryptionFailed = errors.New("encryption: decryption failed")
)

// Params tunes the Argon2id key derivation.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultParams is deliberately slow.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 4}

// Option configures a Service.
type Option func(*Service)

// WithParams overrides the key derivation parameters.
func WithParams(p Params) Option {
	return func(s *Service) { s.params = p }
}

// Service holds the derived key for the lifetime of the process.
type Service struct {
	saltPath string
	params   Params

	mu   sync.RWMutex
	aead cipher.AEAD
	key  []byte
}

// New creates an uninitialized service whose salt lives at saltPath.
func New(saltPath string, opts ...Option) *Service {
	s := &Service{saltPath: saltPath, params: DefaultParams}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Initialize loads (or creates) the salt and derives the key from passphrase.
func (s *Service) Initialize(passphrase string) error {
	salt, err := LoadOrCreateSalt(s.saltPath)
	if err != nil {
		return err
	}
	key := argon2.IDKey([]byte(passphrase), salt, s.params.Time, s.params.Memory, s.params.Threads, keySize)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("encryption: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("encryption: gcm: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.zeroLocked()
	s.key = key
	s.aead = aead
	return nil
}

// Initialized reports whether a key is loaded.
func (s *Service) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aead != nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (s *Service) Encrypt(plaintext []byte) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.aead == nil {
		return "", ErrNotInitialized
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("encryption: nonce: %w", err)
	}
	sealed := s.aead.Seal(nil, nonce, plaintext, nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	buf := make([]byte, 0, nonceSize+tagSize+len(ct))
	buf = append(buf, nonce...)
	buf = append(buf, tag...)
	buf = append(buf, ct...)
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Decrypt opens a token produced by Encrypt. Any malformed or tampered token
// yields ErrDecryptionFailed.
func (s *Service) Decrypt(token string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.aead == nil {
		return nil, ErrNotInitialized
	}

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil || len(raw) < nonceSize+tagSize {
		return nil, ErrDecryptionFailed
	}
	nonce := raw[:nonceSize]
	tag := raw[nonceSize : nonceSize+tagSize]
	ct := raw[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	plaintext, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Zero wipes the key. The service must be initialized again before use.
func (s *Service) Zero() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zeroLocked()
}

func (s *Service) zeroLocked() {
	clear(s.key)
	s.key = nil
	s.aead = nil
}

// LoadOrCreateSalt reads the salt file, creating it with random bytes and
// mode 0600 on first use.
func LoadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != SaltSize {
			return nil, fmt.Errorf("encryption: salt file %s has %d bytes, want %d", path, len(salt), SaltSize)
		}
		return salt, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("encryption: read salt: %w", err)
	}

	salt = make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("encryption: generate salt: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("encryption: salt dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			// Lost a race with another creator; use theirs.
			return LoadOrCreateSalt(path)
		}
		return nil, fmt.Errorf("encryption: create salt: %w", err)
	}
	_, werr := f.Write(salt)
	if cerr := f.Close(); cerr != nil && werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("encryption: write salt: %w", werr)
	}
	return salt, nil
}
