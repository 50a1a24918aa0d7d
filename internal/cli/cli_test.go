package cli

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matheus3301/wppagent/internal/config"
)

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { RootCmd.SetArgs(nil); RootCmd.SetOut(nil) })

	if err := RootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != "wppagent "+Version {
		t.Fatalf("version output = %q", got)
	}
}

func TestLoadConfigFlagsOverrideEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WPP_PASSPHRASE", "a long enough passphrase")
	t.Setenv("WPP_SESSION", "fromenv")
	t.Setenv("WPP_STORE_DIR", dir)

	envFile = filepath.Join(dir, "missing.env")
	sessionFlag, storeFlag = "fromflag", filepath.Join(dir, "other")
	t.Cleanup(func() { envFile, sessionFlag, storeFlag = "", "", "" })

	cfg, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Session != "fromflag" || cfg.StoreDir != storeFlag {
		t.Fatalf("session=%q store=%q", cfg.Session, cfg.StoreDir)
	}
}

func TestLoadConfigRejectsShortPassphrase(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WPP_PASSPHRASE", "short")
	t.Setenv("WPP_STORE_DIR", dir)
	envFile = filepath.Join(dir, "missing.env")
	t.Cleanup(func() { envFile = "" })

	if _, err := loadConfig(); !errors.Is(err, config.ErrPassphraseTooShort) {
		t.Fatalf("err = %v, want ErrPassphraseTooShort", err)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"serve": false, "mcp": false, "version": false}
	for _, c := range RootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, ok := range want {
		if !ok {
			t.Errorf("command %s not registered", name)
		}
	}
}
