package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLayoutPaths(t *testing.T) {
	l, err := NewLayout("/data", "work")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"dir", l.Dir(), "/data/sessions/work"},
		{"salt", l.SaltPath(), "/data/sessions/work/salt"},
		{"credentials", l.CredentialsPath(), "/data/sessions/work/credentials.enc"},
		{"session db", l.SessionDBPath(), "/data/sessions/work/session.db"},
		{"app db", l.AppDBPath(), "/data/sessions/work/wpp.db"},
		{"media", l.MediaDir(), "/data/sessions/work/media"},
		{"log", l.LogPath(), "/data/sessions/work/logs/wppagent.log"},
		{"config", l.ConfigPath(), "/data/config.toml"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestNewLayoutDefaultsRoot(t *testing.T) {
	l, err := NewLayout("", DefaultName)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(l.Dir(), filepath.Join(".wpp", "sessions", "main")) {
		t.Errorf("Dir() = %q, want suffix .wpp/sessions/main", l.Dir())
	}
}

func TestNewLayoutRejectsBadName(t *testing.T) {
	if _, err := NewLayout(t.TempDir(), "../escape"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("NewLayout error = %v, want ErrInvalidName", err)
	}
}

func TestEnsureDirs(t *testing.T) {
	l, err := NewLayout(t.TempDir(), "test")
	if err != nil {
		t.Fatal(err)
	}
	if err := l.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{l.Dir(), l.LogDir(), l.MediaDir()} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("%s not created: %v", d, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d)
		}
		if perm := info.Mode().Perm(); perm != 0700 {
			t.Errorf("%s permission = %o, want 0700", d, perm)
		}
	}
}
