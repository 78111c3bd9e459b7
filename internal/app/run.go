// Package app assembles one klink peer: the libp2p node, the coordinator,
// the media factory, screening, history, and the HTTP control surface. The
// peer directory is the peer's boundary — different folder, different peer.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/petervdpas/klink/internal/call"
	"github.com/petervdpas/klink/internal/config"
	"github.com/petervdpas/klink/internal/history"
	"github.com/petervdpas/klink/internal/media"
	"github.com/petervdpas/klink/internal/native"
	"github.com/petervdpas/klink/internal/p2p"
	"github.com/petervdpas/klink/internal/proto"
	"github.com/petervdpas/klink/internal/push"
	"github.com/petervdpas/klink/internal/screen"
	"github.com/petervdpas/klink/internal/signaling"
	"github.com/petervdpas/klink/internal/state"
	"github.com/petervdpas/klink/internal/util"
	"github.com/petervdpas/klink/internal/viewer"
)

type Options struct {
	PeerDir string
	CfgPath string
	Cfg     config.Config
}

// Run starts a peer and blocks until ctx is cancelled.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg
	logBanner(opt.PeerDir, opt.CfgPath)

	selfName := func() string { return cfg.Profile.DisplayName }
	selfVideoDisabled := func() bool { return cfg.Media.VideoDisabled }

	peers := state.NewPeerTable()

	// ── P2P node
	keyPath := util.ResolvePath(opt.PeerDir, cfg.Identity.KeyFile)
	node, err := p2p.New(ctx, cfg.P2P.ListenPort, keyPath, cfg.P2P.MdnsTag, peers, selfName, selfVideoDisabled)
	if err != nil {
		return fmt.Errorf("start p2p node: %w", err)
	}
	defer node.Close()

	log.Printf("peer id: %s", node.ID())
	for _, a := range node.Addrs() {
		log.Printf("listening on %s", a)
	}

	// ── Call history
	hist, err := history.Open(util.ResolvePath(opt.PeerDir, cfg.History.Path))
	if err != nil {
		return fmt.Errorf("open call history: %w", err)
	}
	defer hist.Close()

	// ── Call screening (optional)
	var screener call.Screener
	if cfg.Screen.Enabled {
		eng, err := screen.NewEngine(
			util.ResolvePath(opt.PeerDir, cfg.Screen.ScriptFile),
			time.Duration(cfg.Screen.TimeoutSeconds)*time.Second,
		)
		if err != nil {
			log.Printf("WARNING: screening disabled: %v", err)
		} else {
			screener = eng
			defer eng.Close()
		}
	}

	// ── Native surface: the HTTP viewer presents calls
	surface := viewer.NewSurface()
	adapter := native.NewAdapter(surface)

	// Audio-only peers never open a camera, whatever the call asks for.
	engines := media.Factory(func(o media.Options) (media.Engine, error) {
		if cfg.Media.VideoDisabled {
			o.Video = false
		}
		return media.NewEngine(o)
	})

	// ── Coordinator
	coord := call.New(call.Options{
		SelfID:          node.ID(),
		SelfDisplayName: selfName,
		DisplayNameFor:  func(id string) string { return peers.DisplayName(id, "") },
		Sender:          signaling.NewPublisher(node),
		Reporter:        adapter,
		Engines:         engines,
		Screener:        screener,
		Recorder:        hist,
		StunURLs:        cfg.Media.StunURLs,
		RingTimeout:     time.Duration(cfg.Call.RingTimeoutSec) * time.Second,
	})
	defer coord.Close()
	adapter.SetController(coord)

	// ── Signaling in
	sigLog := util.NewRingBuffer[signaling.Entry](256)
	translator := signaling.NewTranslator(coord, sigLog)
	translator.Run(ctx, node)

	// ── Push wake-ups
	wake := push.NewAdapter(coord, adapter)

	// ── Control surface
	if cfg.Viewer.HTTPAddr != "" {
		addr, url := NormalizeLocalViewer(cfg.Viewer.HTTPAddr)
		go func() {
			err := viewer.Start(addr, viewer.Viewer{
				SelfID:    node.ID(),
				SelfName:  selfName,
				Peers:     peers,
				Surface:   surface,
				Adapter:   adapter,
				Calls:     coord,
				History:   hist,
				Signals:   sigLog,
				Wake:      wake.HandleWake,
				TokenHash: cfg.Viewer.TokenHash,
			})
			if err != nil {
				log.Printf("VIEWER: server stopped: %v", err)
			}
		}()
		log.Printf("control api: %s", url)
	}

	// ── Presence
	node.RunPresenceLoop(ctx)
	node.PublishPresence(ctx, proto.TypeOnline)

	go func() {
		t := time.NewTicker(time.Duration(cfg.Presence.HeartbeatSec) * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				node.PublishPresence(ctx, proto.TypeUpdate)
			}
		}
	}()

	go func() {
		t := time.NewTicker(1 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				peers.PruneOlderThan(time.Now().Add(-time.Duration(cfg.Presence.TTLSec) * time.Second))
			}
		}
	}()

	<-ctx.Done()
	log.Println("shutting down, ending any active call...")
	return nil
}

// NormalizeLocalViewer coerces the control API onto localhost and returns
// the listen addr plus a printable URL.
func NormalizeLocalViewer(cfgAddr string) (listenAddr, url string) {
	a := cfgAddr
	if a == "" {
		a = "127.0.0.1:8642"
	}
	if a[0] == ':' {
		a = "127.0.0.1" + a
	}
	if len(a) > 8 && a[:8] == "0.0.0.0:" {
		a = "127.0.0.1:" + a[8:]
	}
	return a, "http://" + a
}

func logBanner(peerDir, cfgPath string) {
	log.Println("────────────────────────────────────────")
	log.Println("klink peer scope")
	log.Printf(" Peer folder : %s", peerDir)
	log.Printf(" Config file : %s", cfgPath)
	log.Println("")
	log.Println(" This process represents ONE peer.")
	log.Println(" Different folder/config = different peer.")
	log.Println("────────────────────────────────────────")
}
