package state

import (
	"sync"
	"time"
)

// SeenPeer is one presence-table entry.
type SeenPeer struct {
	DisplayName   string
	VideoDisabled bool
	LastSeen      time.Time
}

// PeerTable caches presence announcements: who is online, under what name,
// and whether they accept video. The coordinator consults it for display
// names when an offer arrives without one.
type PeerTable struct {
	mu    sync.RWMutex
	peers map[string]SeenPeer
}

func NewPeerTable() *PeerTable {
	return &PeerTable{peers: map[string]SeenPeer{}}
}

func (t *PeerTable) Upsert(id, displayName string, videoDisabled bool) {
	t.mu.Lock()
	t.peers[id] = SeenPeer{
		DisplayName:   displayName,
		VideoDisabled: videoDisabled,
		LastSeen:      time.Now(),
	}
	t.mu.Unlock()
}

func (t *PeerTable) Remove(id string) {
	t.mu.Lock()
	delete(t.peers, id)
	t.mu.Unlock()
}

func (t *PeerTable) Get(id string) (SeenPeer, bool) {
	t.mu.RLock()
	sp, ok := t.peers[id]
	t.mu.RUnlock()
	return sp, ok
}

// DisplayName returns the cached display name for id, or fallback if the
// peer is unknown or has no name.
func (t *PeerTable) DisplayName(id, fallback string) string {
	if sp, ok := t.Get(id); ok && sp.DisplayName != "" {
		return sp.DisplayName
	}
	return fallback
}

// Snapshot returns a copy of the table.
func (t *PeerTable) Snapshot() map[string]SeenPeer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]SeenPeer, len(t.peers))
	for id, sp := range t.peers {
		out[id] = sp
	}
	return out
}

// PruneOlderThan removes peers whose last announcement predates cutoff.
func (t *PeerTable) PruneOlderThan(cutoff time.Time) {
	t.mu.Lock()
	for id, sp := range t.peers {
		if sp.LastSeen.Before(cutoff) {
			delete(t.peers, id)
		}
	}
	t.mu.Unlock()
}
