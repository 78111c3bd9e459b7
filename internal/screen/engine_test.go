package screen

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/petervdpas/klink/internal/call"
)

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestEngine(t *testing.T, script string) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "screen.lua")
	if script != "" {
		writeScript(t, path, script)
	}
	e, err := NewEngine(path, 2*time.Second)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestVerdicts(t *testing.T) {
	e := newTestEngine(t, `
function on_incoming(call)
  if call.peer_id == "blocked-peer" then
    return "block"
  end
  if call.has_video then
    return "reject"
  end
  return "allow"
end
`)

	if got := e.ScreenIncoming("friend", "Alice", false); got != call.VerdictAllow {
		t.Fatalf("allow path: got %s", got)
	}
	if got := e.ScreenIncoming("friend", "Alice", true); got != call.VerdictReject {
		t.Fatalf("reject path: got %s", got)
	}
	if got := e.ScreenIncoming("blocked-peer", "Mallory", false); got != call.VerdictBlock {
		t.Fatalf("block path: got %s", got)
	}
}

func TestFailOpen(t *testing.T) {
	t.Run("missing script", func(t *testing.T) {
		e := newTestEngine(t, "")
		if got := e.ScreenIncoming("peer-a", "Alice", false); got != call.VerdictAllow {
			t.Fatalf("missing script must allow, got %s", got)
		}
	})

	t.Run("syntax error", func(t *testing.T) {
		e := newTestEngine(t, `function on_incoming( -- broken`)
		if got := e.ScreenIncoming("peer-a", "Alice", false); got != call.VerdictAllow {
			t.Fatalf("broken script must allow, got %s", got)
		}
	})

	t.Run("no entry point", func(t *testing.T) {
		e := newTestEngine(t, `local x = 1`)
		if got := e.ScreenIncoming("peer-a", "Alice", false); got != call.VerdictAllow {
			t.Fatalf("script without on_incoming must allow, got %s", got)
		}
	})

	t.Run("runtime error", func(t *testing.T) {
		e := newTestEngine(t, `
function on_incoming(call)
  error("boom")
end
`)
		if got := e.ScreenIncoming("peer-a", "Alice", false); got != call.VerdictAllow {
			t.Fatalf("erroring script must allow, got %s", got)
		}
	})

	t.Run("unknown verdict", func(t *testing.T) {
		e := newTestEngine(t, `
function on_incoming(call)
  return "maybe"
end
`)
		if got := e.ScreenIncoming("peer-a", "Alice", false); got != call.VerdictAllow {
			t.Fatalf("unknown verdict must allow, got %s", got)
		}
	})

	t.Run("nil verdict", func(t *testing.T) {
		e := newTestEngine(t, `
function on_incoming(call)
end
`)
		if got := e.ScreenIncoming("peer-a", "Alice", false); got != call.VerdictAllow {
			t.Fatalf("nil verdict must allow, got %s", got)
		}
	})
}

func TestTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screen.lua")
	writeScript(t, path, `
function on_incoming(call)
  while true do end
end
`)
	e, err := NewEngine(path, 100*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	start := time.Now()
	if got := e.ScreenIncoming("peer-a", "Alice", false); got != call.VerdictAllow {
		t.Fatalf("runaway script must allow, got %s", got)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout did not fire, screening took %v", elapsed)
	}
}

func TestHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screen.lua")
	writeScript(t, path, `
function on_incoming(call)
  return "allow"
end
`)
	e, err := NewEngine(path, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if got := e.ScreenIncoming("peer-a", "Alice", false); got != call.VerdictAllow {
		t.Fatalf("initial script: got %s", got)
	}

	writeScript(t, path, `
function on_incoming(call)
  return "reject"
end
`)
	waitVerdict(t, e, call.VerdictReject)

	// Removing the script falls back to allow-all.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitVerdict(t, e, call.VerdictAllow)
}

func waitVerdict(t *testing.T, e *Engine, want call.ScreenVerdict) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if e.ScreenIncoming("peer-a", "Alice", false) == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("script change never took effect (want %s)", want)
}
