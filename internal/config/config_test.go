package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Listen == "" {
		t.Fatal("expected a non-empty default listen address")
	}
	if cfg.SerialCamera.Enabled {
		t.Fatal("serial camera must default to disabled")
	}
	if cfg.AuditLog.Enabled {
		t.Fatal("audit log must default to disabled")
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	want := DefaultConfig()
	if cfg.Listen != want.Listen || cfg.Admin.ListenAddr != want.Admin.ListenAddr {
		t.Fatalf("got %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "listen: \":9000\"\nadmin:\n  enabled: true\n  listen_addr: \":9001\"\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.Listen != ":9000" {
		t.Fatalf("got listen %q, want :9000", cfg.Listen)
	}
	if cfg.Admin.ListenAddr != ":9001" {
		t.Fatalf("got admin listen %q, want :9001", cfg.Admin.ListenAddr)
	}
}

func TestEnvOverrideWinsOverYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("listen: \":9000\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	os.Setenv("SPEEDD_LISTEN_ADDR", ":9999")
	defer os.Unsetenv("SPEEDD_LISTEN_ADDR")

	cfg := Load(path)
	if cfg.Listen != ":9999" {
		t.Fatalf("got listen %q, want :9999 (env override)", cfg.Listen)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := DefaultConfig()
	cfg.path = path
	cfg.Listen = ":1234"

	if err := cfg.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded := Load(path)
	if reloaded.Listen != ":1234" {
		t.Fatalf("got %q after reload, want :1234", reloaded.Listen)
	}
}
