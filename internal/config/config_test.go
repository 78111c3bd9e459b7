package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	mutate := func(fn func(*Config)) Config {
		cfg := Default()
		fn(&cfg)
		return cfg
	}

	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing key file", mutate(func(c *Config) { c.Identity.KeyFile = " " })},
		{"bad listen port", mutate(func(c *Config) { c.P2P.ListenPort = 70000 })},
		{"missing mdns tag", mutate(func(c *Config) { c.P2P.MdnsTag = "" })},
		{"zero ttl", mutate(func(c *Config) { c.Presence.TTLSec = 0 })},
		{"heartbeat above ttl", mutate(func(c *Config) { c.Presence.HeartbeatSec = 30; c.Presence.TTLSec = 20 })},
		{"negative ring timeout", mutate(func(c *Config) { c.Call.RingTimeoutSec = -1 })},
		{"bad stun scheme", mutate(func(c *Config) { c.Media.StunURLs = []string{"http://stun.example.com"} })},
		{"empty stun url", mutate(func(c *Config) { c.Media.StunURLs = []string{""} })},
		{"screening without script", mutate(func(c *Config) { c.Screen.Enabled = true; c.Screen.ScriptFile = "" })},
		{"screening timeout out of range", mutate(func(c *Config) { c.Screen.Enabled = true; c.Screen.TimeoutSeconds = 0 })},
		{"missing history path", mutate(func(c *Config) { c.History.Path = "" })},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	t.Run("turn urls accepted", func(t *testing.T) {
		cfg := mutate(func(c *Config) {
			c.Media.StunURLs = []string{"stun:stun.l.google.com:19302", "turns:turn.example.com:5349"}
		})
		if err := cfg.Validate(); err != nil {
			t.Fatalf("turn url rejected: %v", err)
		}
	})

	t.Run("zero ring timeout disables the timer", func(t *testing.T) {
		cfg := mutate(func(c *Config) { c.Call.RingTimeoutSec = 0 })
		if err := cfg.Validate(); err != nil {
			t.Fatalf("zero ring timeout rejected: %v", err)
		}
	})
}

func TestEnsureRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, created, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure (create): %v", err)
	}
	if !created {
		t.Fatal("expected a fresh config to be created")
	}
	if cfg.Viewer.HTTPAddr != Default().Viewer.HTTPAddr {
		t.Fatalf("fresh config is not the default: %+v", cfg)
	}

	again, created, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure (load): %v", err)
	}
	if created {
		t.Fatal("second Ensure must load, not create")
	}
	if again.Profile.DisplayName != cfg.Profile.DisplayName {
		t.Fatalf("round trip changed the config: %+v", again)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	// A sparse config keeps defaults for everything it doesn't mention.
	if err := os.WriteFile(path, []byte(`{"profile":{"display_name":"Alice"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Profile.DisplayName != "Alice" {
		t.Fatalf("explicit field lost: %q", cfg.Profile.DisplayName)
	}
	if cfg.History.Path != Default().History.Path {
		t.Fatalf("default not merged: %q", cfg.History.Path)
	}
}

func TestLoadStripsBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"profile":{"display_name":"Bob"}}`)...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load with BOM: %v", err)
	}
	if cfg.Profile.DisplayName != "Bob" {
		t.Fatalf("BOM config misread: %q", cfg.Profile.DisplayName)
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	cfg := Default()
	cfg.History.Path = ""
	if err := Save(filepath.Join(t.TempDir(), "config.json"), cfg); err == nil {
		t.Fatal("Save accepted an invalid config")
	}
}
