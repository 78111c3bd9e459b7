// Package viewer is the daemon's control surface: a loopback HTTP API plus a
// websocket event stream. It doubles as the native call UI — Surface turns
// call reports into events for whatever front end is attached (a test
// script, a tray app, plain curl).
package viewer

import (
	"log"
	"net/http"

	"github.com/petervdpas/klink/internal/call"
	"github.com/petervdpas/klink/internal/history"
	"github.com/petervdpas/klink/internal/native"
	"github.com/petervdpas/klink/internal/signaling"
	"github.com/petervdpas/klink/internal/state"
	"github.com/petervdpas/klink/internal/util"
)

// StateSource exposes the active call. Implemented by call.Coordinator.
type StateSource interface {
	Snapshot() (call.Snapshot, bool)
}

// Viewer bundles everything the routes need.
type Viewer struct {
	SelfID   string
	SelfName func() string
	Peers    *state.PeerTable

	Surface *Surface
	Adapter *native.Adapter
	Calls   StateSource
	History *history.Log
	Signals *util.RingBuffer[signaling.Entry]

	// Wake feeds a push wake payload in, as posted by the local push bridge.
	Wake func(payload []byte)

	// TokenHash is the bcrypt hash of the API bearer token; empty disables
	// auth (loopback-only deployments).
	TokenHash string
}

// Start serves the control API on addr. Blocks until the listener fails.
func Start(addr string, v Viewer) error {
	mux := http.NewServeMux()
	registerRoutes(mux, v)
	registerDocs(mux)

	handler := requireToken(v.TokenHash, mux)

	log.Printf("VIEWER: control API on http://%s (docs at /docs)", addr)
	return http.ListenAndServe(addr, handler)
}
