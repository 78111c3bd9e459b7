package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/petervdpas/klink/internal/util"
)

type Config struct {
	Identity Identity `json:"identity"`
	P2P      P2P      `json:"p2p"`
	Presence Presence `json:"presence"`
	Profile  Profile  `json:"profile"`
	Call     Call     `json:"call"`
	Media    Media    `json:"media"`
	Screen   Screen   `json:"screen"`
	History  History  `json:"history"`
	Viewer   Viewer   `json:"viewer"`
}

type Identity struct {
	KeyFile string `json:"key_file"`
}

type P2P struct {
	ListenPort int    `json:"listen_port"`
	MdnsTag    string `json:"mdns_tag"`
}

type Presence struct {
	TTLSec       int `json:"ttl_seconds"`
	HeartbeatSec int `json:"heartbeat_seconds"`
}

type Profile struct {
	DisplayName string `json:"display_name"`
}

type Call struct {
	// RingTimeoutSec is how long an unanswered incoming call rings before it
	// is reported missed to the caller. 0 disables the timeout.
	RingTimeoutSec int `json:"ring_timeout_seconds"`
}

type Media struct {
	StunURLs      []string `json:"stun_urls"`
	VideoDisabled bool     `json:"video_disabled"` // audio-only calls, no camera capture
}

type Screen struct {
	Enabled        bool   `json:"enabled"`
	ScriptFile     string `json:"script_file"` // relative to peer dir
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type History struct {
	Path string `json:"path"` // SQLite file, relative to peer dir
}

type Viewer struct {
	HTTPAddr string `json:"http_addr"`

	// TokenHash is a bcrypt hash of the API bearer token. Empty means the
	// control API is open to anyone who can reach HTTPAddr (bind to loopback).
	TokenHash string `json:"token_hash"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			KeyFile: "data/identity.key",
		},
		P2P: P2P{
			ListenPort: 0,
			MdnsTag:    "klink-mdns",
		},
		Presence: Presence{
			TTLSec:       20,
			HeartbeatSec: 5,
		},
		Profile: Profile{
			DisplayName: "klink peer",
		},
		Call: Call{
			RingTimeoutSec: 45,
		},
		Media: Media{
			StunURLs: []string{"stun:stun.l.google.com:19302"},
		},
		Screen: Screen{
			Enabled:        false,
			ScriptFile:     "screen.lua",
			TimeoutSeconds: 2,
		},
		History: History{
			Path: "data/calls.db",
		},
		Viewer: Viewer{
			HTTPAddr: "127.0.0.1:8642",
		},
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Identity.KeyFile) == "" {
		return errors.New("identity.key_file is required")
	}

	if c.P2P.ListenPort < 0 || c.P2P.ListenPort > 65535 {
		return errors.New("p2p.listen_port must be 0..65535")
	}
	if strings.TrimSpace(c.P2P.MdnsTag) == "" {
		return errors.New("p2p.mdns_tag is required")
	}

	if c.Presence.TTLSec <= 0 {
		return errors.New("presence.ttl_seconds must be > 0")
	}
	if c.Presence.HeartbeatSec <= 0 {
		return errors.New("presence.heartbeat_seconds must be > 0")
	}
	if c.Presence.HeartbeatSec >= c.Presence.TTLSec {
		return errors.New("presence.heartbeat_seconds must be < presence.ttl_seconds")
	}

	if c.Call.RingTimeoutSec < 0 {
		return errors.New("call.ring_timeout_seconds must be >= 0")
	}

	for _, u := range c.Media.StunURLs {
		if err := validateStunURL(u); err != nil {
			return fmt.Errorf("media.stun_urls: %w", err)
		}
	}

	if c.Screen.Enabled {
		if strings.TrimSpace(c.Screen.ScriptFile) == "" {
			return errors.New("screen.script_file is required when screening is enabled")
		}
		if c.Screen.TimeoutSeconds < 1 || c.Screen.TimeoutSeconds > 30 {
			return errors.New("screen.timeout_seconds must be 1..30")
		}
	}

	if strings.TrimSpace(c.History.Path) == "" {
		return errors.New("history.path is required")
	}

	return nil
}

func validateStunURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %v", raw, err)
	}
	if u.Scheme != "stun" && u.Scheme != "stuns" && u.Scheme != "turn" && u.Scheme != "turns" {
		return fmt.Errorf("%q: scheme must be stun, stuns, turn or turns", raw)
	}
	if u.Opaque == "" && u.Host == "" {
		return fmt.Errorf("%q: missing host", raw)
	}
	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
