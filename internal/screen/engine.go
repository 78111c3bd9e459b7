// Package screen runs the user's Lua call-screening script. One script, one
// entry point: on_incoming(call) returning "allow", "reject" or "block". The
// engine fails open — any compile error, runtime error, or timeout lets the
// call ring rather than silently dropping it.
package screen

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/petervdpas/klink/internal/call"

	"github.com/fsnotify/fsnotify"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Engine compiles and hot-reloads the screening script.
type Engine struct {
	mu      sync.RWMutex
	proto   *lua.FunctionProto // nil = no script loaded, allow everything
	path    string
	timeout time.Duration
	watcher *fsnotify.Watcher
	closed  chan struct{}
}

var _ call.Screener = (*Engine)(nil)

// NewEngine loads the script at path (which may not exist yet) and watches
// its directory for changes. A missing or broken script means allow-all.
func NewEngine(path string, timeout time.Duration) (*Engine, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("create script dir %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch script dir: %w", err)
	}

	e := &Engine{
		path:    path,
		timeout: timeout,
		watcher: watcher,
		closed:  make(chan struct{}),
	}

	if err := e.compile(); err != nil {
		log.Printf("SCREEN: %v (allowing all calls until fixed)", err)
	}

	go e.watchLoop()
	return e, nil
}

func (e *Engine) compile() error {
	data, err := os.ReadFile(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			e.setProto(nil)
			return fmt.Errorf("no screening script at %s", e.path)
		}
		return fmt.Errorf("read %s: %w", e.path, err)
	}

	chunk, err := parse.Parse(strings.NewReader(string(data)), filepath.Base(e.path))
	if err != nil {
		e.setProto(nil)
		return fmt.Errorf("parse %s: %w", e.path, err)
	}
	proto, err := lua.Compile(chunk, filepath.Base(e.path))
	if err != nil {
		e.setProto(nil)
		return fmt.Errorf("compile %s: %w", e.path, err)
	}

	e.setProto(proto)
	log.Printf("SCREEN: compiled %s", e.path)
	return nil
}

func (e *Engine) setProto(p *lua.FunctionProto) {
	e.mu.Lock()
	e.proto = p
	e.mu.Unlock()
}

func (e *Engine) watchLoop() {
	for {
		select {
		case <-e.closed:
			return
		case event, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(e.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if err := e.compile(); err != nil {
					log.Printf("SCREEN: hot reload failed: %v", err)
				}
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				e.setProto(nil)
				log.Printf("SCREEN: script removed, allowing all calls")
			}
		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("SCREEN: watcher error: %v", err)
		}
	}
}

// ScreenIncoming runs on_incoming(call) with a timeout. Any failure mode
// returns VerdictAllow.
func (e *Engine) ScreenIncoming(peerID, displayName string, hasVideo bool) call.ScreenVerdict {
	e.mu.RLock()
	proto := e.proto
	e.mu.RUnlock()
	if proto == nil {
		return call.VerdictAllow
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	verdict, err := e.run(ctx, proto, peerID, displayName, hasVideo)
	if err != nil {
		log.Printf("SCREEN: %v (allowing call from %s)", err, peerID)
		return call.VerdictAllow
	}
	return verdict
}

func (e *Engine) run(ctx context.Context, proto *lua.FunctionProto, peerID, displayName string, hasVideo bool) (call.ScreenVerdict, error) {
	L := lua.NewState()
	var closeOnce sync.Once
	closeL := func() { closeOnce.Do(func() { L.Close() }) }
	defer closeL()

	lfunc := L.NewFunctionFromProto(proto)
	L.Push(lfunc)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return "", fmt.Errorf("load script: %w", err)
	}

	fn := L.GetGlobal("on_incoming")
	if fn == lua.LNil {
		return "", fmt.Errorf("script has no on_incoming() function")
	}

	tbl := L.NewTable()
	tbl.RawSetString("peer_id", lua.LString(peerID))
	tbl.RawSetString("display_name", lua.LString(displayName))
	tbl.RawSetString("has_video", lua.LBool(hasVideo))

	// Run in a goroutine so a runaway script can be abandoned on timeout.
	type result struct {
		val string
		err error
	}
	ch := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("script panic: %v", r)}
			}
		}()

		if err := L.CallByParam(lua.P{
			Fn:      fn,
			NRet:    1,
			Protect: true,
		}, tbl); err != nil {
			ch <- result{err: err}
			return
		}
		ret := L.Get(-1)
		L.Pop(1)
		ch <- result{val: strings.ToLower(strings.TrimSpace(ret.String()))}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return "", r.err
		}
		switch r.val {
		case "reject":
			return call.VerdictReject, nil
		case "block":
			return call.VerdictBlock, nil
		case "allow", "", "nil":
			return call.VerdictAllow, nil
		default:
			return "", fmt.Errorf("unknown verdict %q", r.val)
		}
	case <-ctx.Done():
		closeL()
		select {
		case <-ch:
		case <-time.After(500 * time.Millisecond):
		}
		return "", fmt.Errorf("script timed out")
	}
}

// Close stops the watcher.
func (e *Engine) Close() {
	close(e.closed)
	e.watcher.Close()
	log.Printf("SCREEN: engine stopped")
}
