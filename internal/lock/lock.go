// Package lock guarantees a single daemon per session directory.
package lock

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// FileName is the lock file created inside the session directory.
const FileName = "LOCK"

// Owner is what the holder writes into the lock file.
type Owner struct {
	PID   int
	Since time.Time
}

func (o Owner) String() string {
	if o.Since.IsZero() {
		return fmt.Sprintf("pid %d", o.PID)
	}
	return fmt.Sprintf("pid %d since %s", o.PID, o.Since.Format(time.RFC3339))
}

// HeldError is returned when another process owns the session directory.
type HeldError struct {
	Owner
	Path string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("session locked by %s (%s)", e.Owner, e.Path)
}

// Lock is an exclusive flock on the session directory.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes FileName in dir. A second acquirer, in this process or
// another, gets *HeldError.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		owner, _ := ReadOwner(path)
		return nil, &HeldError{Owner: owner, Path: path}
	}

	owner := Owner{PID: os.Getpid(), Since: time.Now().UTC().Truncate(time.Second)}
	if err := writeOwner(f, owner); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock owner: %w", err)
	}
	return &Lock{file: f, path: path}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release drops the lock. Safe on a nil receiver and idempotent.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadOwner parses the owner recorded in a lock file. Missing keys are left
// zero.
func ReadOwner(path string) (Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Owner{}, err
	}
	return decodeOwner(string(data)), nil
}

func writeOwner(f *os.File, o Owner) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.WriteAt([]byte(encodeOwner(o)), 0)
	return err
}

func encodeOwner(o Owner) string {
	return fmt.Sprintf("pid=%d\ntime=%s\n", o.PID, o.Since.Format(time.RFC3339))
}

func decodeOwner(s string) Owner {
	var o Owner
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			o.PID, _ = strconv.Atoi(val)
		case "time":
			o.Since, _ = time.Parse(time.RFC3339, val)
		}
	}
	return o
}
