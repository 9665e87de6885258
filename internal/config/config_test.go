package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if time.Duration(cfg.PollInterval) != time.Second {
		t.Fatalf("PollInterval = %v, want 1s", time.Duration(cfg.PollInterval))
	}
	if time.Duration(cfg.NegotiationTimeout) != 60*time.Second {
		t.Fatalf("NegotiationTimeout = %v, want 60s", time.Duration(cfg.NegotiationTimeout))
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
relayURL: http://relay.local:8787
session: demo
pollInterval: 250ms
stunServers:
  - stun:stun.example.org:3478
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RelayURL != "http://relay.local:8787" {
		t.Fatalf("RelayURL = %q", cfg.RelayURL)
	}
	if cfg.Session != "demo" {
		t.Fatalf("Session = %q", cfg.Session)
	}
	if time.Duration(cfg.PollInterval) != 250*time.Millisecond {
		t.Fatalf("PollInterval = %v, want 250ms", time.Duration(cfg.PollInterval))
	}
	// Unset fields keep their defaults.
	if time.Duration(cfg.NegotiationTimeout) != 60*time.Second {
		t.Fatalf("NegotiationTimeout = %v, want default 60s", time.Duration(cfg.NegotiationTimeout))
	}
	if len(cfg.STUNServers) != 1 || cfg.STUNServers[0] != "stun:stun.example.org:3478" {
		t.Fatalf("STUNServers = %v", cfg.STUNServers)
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	path := writeConfig(t, "pollInterval: soon\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted an unparseable duration")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load succeeded on a missing file")
	}
}
