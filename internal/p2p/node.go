// Package p2p owns the libp2p host and gossipsub topics: presence for peer
// discovery, plus one signaling topic per peer for call setup/teardown.
package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/petervdpas/klink/internal/proto"
	"github.com/petervdpas/klink/internal/state"
	"github.com/petervdpas/klink/internal/util"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	manet "github.com/multiformats/go-multiaddr/net"
)

func init() {
	// Silence noisy libp2p subsystems — dial failures and backoff errors
	// go to stderr by default and pollute terminal output.
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("autonat", "warn")
	logging.SetLogLevel("pubsub", "warn")
}

// Node is the process's libp2p identity plus its joined gossipsub topics.
type Node struct {
	Host host.Host
	ps   *pubsub.PubSub

	presenceTopic *pubsub.Topic
	presenceSub   *pubsub.Subscription

	// inboundTopic is this peer's own call topic; joined once at startup.
	inboundTopic *pubsub.Topic
	inboundSub   *pubsub.Subscription

	selfDisplayName   func() string
	selfVideoDisabled func() bool
	peers             *state.PeerTable

	// Remote peers' call topics, joined lazily on first publish and cached —
	// gossipsub allows one Join per topic per host.
	outMu     sync.Mutex
	outTopics map[string]*pubsub.Topic
}

type mdnsNotifee struct {
	h host.Host
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultConnectTimeout)
	defer cancel()
	_ = n.h.Connect(ctx, pi)
}

// loadOrCreateKey loads a persistent identity key from disk,
// or generates a new Ed25519 key and saves it on first run.
func loadOrCreateKey(keyFile string) (crypto.PrivKey, bool, error) {
	data, err := os.ReadFile(keyFile)
	if err == nil {
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err == nil {
			return priv, false, nil
		}
		log.Printf("WARNING: corrupt identity key at %s: %v (generating new key)", keyFile, err)
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, false, err
	}

	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, false, fmt.Errorf("marshal identity key: %w", err)
	}

	if dir := filepath.Dir(keyFile); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, false, fmt.Errorf("create key directory: %w", err)
		}
	}

	if err := os.WriteFile(keyFile, raw, 0600); err != nil {
		return nil, false, fmt.Errorf("save identity key: %w", err)
	}

	return priv, true, nil
}

// New creates the libp2p host, starts mDNS discovery, and joins the presence
// topic and this peer's own signaling topic.
func New(ctx context.Context, listenPort int, keyFile, mdnsTag string, peers *state.PeerTable, selfDisplayName func() string, selfVideoDisabled func() bool) (*Node, error) {
	priv, isNew, err := loadOrCreateKey(keyFile)
	if err != nil {
		return nil, err
	}
	if isNew {
		log.Printf("P2P: generated new identity key: %s", keyFile)
	} else {
		log.Printf("P2P: loaded identity key: %s", keyFile)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", listenPort)),
	)
	if err != nil {
		return nil, err
	}

	// LAN discovery via mDNS.
	md := mdns.NewMdnsService(h, mdnsTag, &mdnsNotifee{h: h})
	if err := md.Start(); err != nil {
		_ = h.Close()
		return nil, err
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	presenceTopic, err := ps.Join(proto.PresenceTopic)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	presenceSub, err := presenceTopic.Subscribe()
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	inboundTopic, err := ps.Join(proto.CallTopic(h.ID().String()))
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	inboundSub, err := inboundTopic.Subscribe()
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	n := &Node{
		Host:              h,
		ps:                ps,
		presenceTopic:     presenceTopic,
		presenceSub:       presenceSub,
		inboundTopic:      inboundTopic,
		inboundSub:        inboundSub,
		selfDisplayName:   selfDisplayName,
		selfVideoDisabled: selfVideoDisabled,
		peers:             peers,
		outTopics:         make(map[string]*pubsub.Topic),
	}
	return n, nil
}

func (n *Node) ID() string {
	return n.Host.ID().String()
}

// Addrs returns the host's non-loopback listen multiaddresses.
func (n *Node) Addrs() []string {
	var out []string
	for _, a := range n.Host.Addrs() {
		ip, err := manet.ToIP(a)
		if err != nil {
			continue
		}
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			continue
		}
		out = append(out, a.String())
	}
	return out
}

// PublishPresence announces this peer on the presence topic.
func (n *Node) PublishPresence(ctx context.Context, typ string) {
	msg := proto.PresenceMsg{
		Type:   typ,
		PeerID: n.ID(),
		TS:     proto.NowMillis(),
	}
	if typ == proto.TypeOnline || typ == proto.TypeUpdate {
		msg.DisplayName = n.selfDisplayName()
		msg.VideoDisabled = n.selfVideoDisabled()
	}

	b, _ := json.Marshal(msg)
	_ = n.presenceTopic.Publish(ctx, b)
}

// RunPresenceLoop consumes presence announcements and maintains the peer
// table until ctx is cancelled.
func (n *Node) RunPresenceLoop(ctx context.Context) {
	go func() {
		for {
			m, err := n.presenceSub.Next(ctx)
			if err != nil {
				return
			}

			var pm proto.PresenceMsg
			if err := json.Unmarshal(m.Data, &pm); err != nil {
				continue
			}
			if pm.PeerID == "" || pm.Type == "" || pm.PeerID == n.ID() {
				continue
			}

			switch pm.Type {
			case proto.TypeOnline, proto.TypeUpdate:
				n.peers.Upsert(pm.PeerID, pm.DisplayName, pm.VideoDisabled)
			case proto.TypeOffline:
				n.peers.Remove(pm.PeerID)
			}
		}
	}()
}

// PublishSignal publishes raw signal bytes on the destination peer's call
// topic. The topic is joined on first use and kept for the process lifetime.
func (n *Node) PublishSignal(ctx context.Context, destPeerID string, data []byte) error {
	if _, err := peer.Decode(destPeerID); err != nil {
		return fmt.Errorf("p2p: invalid peer id %q: %w", destPeerID, err)
	}

	n.outMu.Lock()
	topic, ok := n.outTopics[destPeerID]
	if !ok {
		var err error
		topic, err = n.ps.Join(proto.CallTopic(destPeerID))
		if err != nil {
			n.outMu.Unlock()
			return fmt.Errorf("p2p: join call topic for %s: %w", destPeerID, err)
		}
		n.outTopics[destPeerID] = topic
	}
	n.outMu.Unlock()

	pubCtx, cancel := context.WithTimeout(ctx, util.DefaultPublishTimeout)
	defer cancel()
	return topic.Publish(pubCtx, data)
}

// SubscribeSignals delivers raw signal payloads addressed to this peer until
// ctx is cancelled. from is the libp2p-verified sender; self-published
// messages are skipped. Per-topic order is preserved by gossipsub delivery.
func (n *Node) SubscribeSignals(ctx context.Context, handle func(from string, data []byte)) {
	go func() {
		for {
			m, err := n.inboundSub.Next(ctx)
			if err != nil {
				return
			}
			from := m.GetFrom().String()
			if from == n.ID() {
				continue
			}
			handle(from, m.Data)
		}
	}()
}

// Close announces offline and shuts the host down.
func (n *Node) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
	defer cancel()
	n.PublishPresence(ctx, proto.TypeOffline)
	time.Sleep(100 * time.Millisecond) // let the offline message flush
	return n.Host.Close()
}
