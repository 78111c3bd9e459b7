// Package proto holds the wire-level schema shared by the signaling,
// presence, and push layers. It is pure data — no behavior beyond topic
// construction and timestamps — so every other package can import it
// without cycles.
package proto

import (
	"encoding/json"
	"time"
)

const (
	// PresenceTopic is the gossipsub topic all peers announce themselves on.
	PresenceTopic = "klink.presence.v1"

	// CallTopicPrefix is the per-peer signaling topic prefix. Signals addressed
	// to a peer are published on CallTopic(destPeerID); each peer subscribes
	// only to its own topic.
	CallTopicPrefix = "klink.call.v1."

	MdnsTag = "klink-mdns"

	// SignalVersion is the current signal envelope schema version. Envelopes
	// with a higher version are dropped at the translator boundary.
	SignalVersion = 1
)

// CallTopic returns the signaling topic for signals addressed to peerID.
func CallTopic(peerID string) string {
	return CallTopicPrefix + peerID
}

// Signal kinds carried in Envelope.Type. The set is closed: the translator
// drops anything else.
const (
	SigIncoming  = "incoming"
	SigOffer     = "offer"
	SigAnswer    = "answer"
	SigCandidate = "candidate"
	SigAccepted  = "accepted"
	SigRejected  = "rejected"
	SigEnded     = "ended"
	SigMissed    = "missed"
	SigBlocked   = "blocked"
	SigBusy      = "busy"
)

// Envelope is the signal wire format. SessionID correlates all signals of one
// call; From is the sender's peer ID (also validated against the pubsub
// message source).
type Envelope struct {
	V         int             `json:"v"`
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	From      string          `json:"from"`
	TS        int64           `json:"ts"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// OfferPayload carries a session description. Used for both offer and answer
// signals; Kind and DisplayName are only meaningful on offers (and on the
// SDP-less incoming ring request).
type OfferPayload struct {
	SDP         string `json:"sdp,omitempty"`
	Kind        string `json:"kind,omitempty"` // "audio" | "video"
	DisplayName string `json:"displayName,omitempty"`
}

// CandidatePayload carries one ICE candidate.
type CandidatePayload struct {
	Candidate  string  `json:"candidate"`
	Mid        string  `json:"mid,omitempty"`
	MLineIndex *uint16 `json:"mLineIndex,omitempty"`
}

// EndPayload carries the terminal reason on ended/rejected/blocked signals.
type EndPayload struct {
	Reason string `json:"reason,omitempty"`
}

// Presence message types.
const (
	TypeOnline  = "online"
	TypeUpdate  = "update"
	TypeOffline = "offline"
)

// PresenceMsg is published on PresenceTopic.
type PresenceMsg struct {
	Type          string `json:"type"` // online|update|offline
	PeerID        string `json:"peerId"`
	DisplayName   string `json:"displayName,omitempty"`
	VideoDisabled bool   `json:"videoDisabled,omitempty"`
	TS            int64  `json:"ts"`
}

// WakePayload is the push wake-up body. Only consumed, never produced: the
// push transport itself is outside this process.
type WakePayload struct {
	CallID            string `json:"callId"`
	CallerID          string `json:"callerId"`
	CallerDisplayName string `json:"callerDisplayName,omitempty"`
	CallType          string `json:"callType,omitempty"` // "audio" | "video"
}

func NowMillis() int64 { return time.Now().UnixMilli() }
