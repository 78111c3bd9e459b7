package viewer

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Loopback API; origin checks add nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func registerRoutes(mux *http.ServeMux, v Viewer) {
	// GET /api/self — identity and surface mode.
	handleGet(mux, "/api/self", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"peerId":      v.SelfID,
			"displayName": v.SelfName(),
			"dnd":         v.Surface.DND(),
		})
	})

	// GET /api/peers — presence table.
	handleGet(mux, "/api/peers", func(w http.ResponseWriter, r *http.Request) {
		type peerVM struct {
			PeerID        string `json:"peerId"`
			DisplayName   string `json:"displayName"`
			VideoDisabled bool   `json:"videoDisabled"`
			LastSeen      int64  `json:"lastSeen"`
		}
		snapshot := v.Peers.Snapshot()
		peers := make([]peerVM, 0, len(snapshot))
		for id, sp := range snapshot {
			peers = append(peers, peerVM{
				PeerID:        id,
				DisplayName:   sp.DisplayName,
				VideoDisabled: sp.VideoDisabled,
				LastSeen:      sp.LastSeen.UnixMilli(),
			})
		}
		writeJSON(w, map[string]any{"peers": peers})
	})

	// GET /api/call/state — the active call, or {"state":"idle"}.
	handleGet(mux, "/api/call/state", func(w http.ResponseWriter, r *http.Request) {
		snap, ok := v.Calls.Snapshot()
		if !ok {
			writeJSON(w, map[string]string{"state": "idle"})
			return
		}
		writeJSON(w, snap)
	})

	// POST /api/call/start
	handlePost(mux, "/api/call/start", func(w http.ResponseWriter, r *http.Request, req struct {
		PeerID string `json:"peer_id"`
		Video  bool   `json:"video"`
	}) {
		if req.PeerID == "" {
			http.Error(w, "missing peer_id", http.StatusBadRequest)
			return
		}
		handle := uuid.NewString()
		sessionID, err := v.Adapter.Start(r.Context(), handle, req.PeerID, req.Video)
		if err != nil {
			http.Error(w, "start call failed: "+err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]string{"status": "dialing", "handle": handle, "sessionId": sessionID})
	})

	// POST /api/call/answer
	handlePost(mux, "/api/call/answer", func(w http.ResponseWriter, r *http.Request, req struct {
		Handle string `json:"handle"`
	}) {
		if err := v.Adapter.Answer(req.Handle); err != nil {
			http.Error(w, "answer failed: "+err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]string{"status": "answered"})
	})

	// POST /api/call/end
	handlePost(mux, "/api/call/end", func(w http.ResponseWriter, r *http.Request, req struct {
		Handle string `json:"handle"`
	}) {
		if err := v.Adapter.End(req.Handle); err != nil {
			http.Error(w, "end failed: "+err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]string{"status": "ended"})
	})

	// POST /api/call/mute
	handlePost(mux, "/api/call/mute", func(w http.ResponseWriter, r *http.Request, req struct {
		Handle string `json:"handle"`
		On     bool   `json:"on"`
	}) {
		if err := v.Adapter.Mute(req.Handle, req.On); err != nil {
			http.Error(w, "mute failed: "+err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]bool{"muted": req.On})
	})

	// POST /api/call/hold
	handlePost(mux, "/api/call/hold", func(w http.ResponseWriter, r *http.Request, req struct {
		Handle string `json:"handle"`
		On     bool   `json:"on"`
	}) {
		if err := v.Adapter.Hold(req.Handle, req.On); err != nil {
			http.Error(w, "hold failed: "+err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]bool{"held": req.On})
	})

	// GET /api/call/history?limit=N
	handleGet(mux, "/api/call/history", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := v.History.Recent(limit)
		if err != nil {
			http.Error(w, "history query failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"calls": entries})
	})

	// GET /api/signals — recent signaling traffic (debugging aid).
	handleGet(mux, "/api/signals", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"signals": v.Signals.Snapshot()})
	})

	// POST /api/dnd
	handlePost(mux, "/api/dnd", func(w http.ResponseWriter, r *http.Request, req struct {
		On bool `json:"on"`
	}) {
		v.Surface.SetDND(req.On)
		writeJSON(w, map[string]bool{"dnd": req.On})
	})

	// POST /api/push/wake — raw wake payload from the local push bridge. The
	// body is handed through untouched; even an unparseable one ends in a
	// visible (synthetic) call report.
	if v.Wake != nil {
		mux.HandleFunc("/api/push/wake", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
			if err != nil {
				http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
				return
			}
			v.Wake(body)
			writeJSON(w, map[string]string{"status": "accepted"})
		})
	}

	// GET /api/events — websocket stream of presentation events.
	handleGet(mux, "/api/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("VIEWER: websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		events, cancel := v.Surface.Subscribe()
		defer cancel()

		// Drain client frames (ping/pong, close) without blocking the writer.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
		}
	})
}

// ── Route helpers ───────────────────────────────────────────────────────────

func handleGet(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	})
}

// handlePost decodes the JSON body into req before invoking fn.
func handlePost[T any](mux *http.ServeMux, pattern string, fn func(w http.ResponseWriter, r *http.Request, req T)) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req T
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
			return
		}
		fn(w, r, req)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("VIEWER: write response: %v", err)
	}
}
