// Package transport keeps a crdt.Doc and a presence.Channel in sync with a
// relay room over one websocket connection.
package transport

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"log"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"collabtext/internal/crdt"
	apperrors "collabtext/internal/platform/errors"
	"collabtext/internal/presence"
	"collabtext/internal/wire"
)

// Status is the connection state of a provider.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

const sendBufferSize = 256

// Config addresses a room and tunes reconnects.
type Config struct {
	ServerURL  string
	Room       string
	Name       string
	Dialer     *websocket.Dialer
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// RoomURL returns the websocket URL of room on server.
func RoomURL(server, room string) string {
	return strings.TrimRight(server, "/") + "/" + url.PathEscape(room)
}

// NewClientID returns a random non-zero client id. Zero is reserved for the
// relay's own replica.
func NewClientID() uint32 {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			panic(err)
		}
		if id := binary.BigEndian.Uint32(buf[:]); id != 0 {
			return id
		}
	}
}

// Provider owns the one connection of a session. Connection establishment
// runs in the background; callers observe it through OnStatus and OnSync.
type Provider struct {
	cfg Config
	url string
	doc *crdt.Doc
	aw  *presence.Channel

	mu        sync.Mutex
	status    Status
	synced    bool
	send      chan []byte
	conn      *websocket.Conn
	cancel    context.CancelFunc
	destroyed bool
	statusObs map[int]func(Status)
	syncObs   map[int]func(bool)
	nextObs   int
	wg        sync.WaitGroup

	// callbacks counts observer calls made by the connection goroutine.
	callbacks atomic.Int32

	unobserveDoc func()
	unobserveAw  func()
}

// NewProvider wires doc and aw to a room. It does not connect.
func NewProvider(cfg Config, doc *crdt.Doc, aw *presence.Channel) *Provider {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 2500 * time.Millisecond
	}
	p := &Provider{
		cfg:       cfg,
		url:       RoomURL(cfg.ServerURL, cfg.Room),
		doc:       doc,
		aw:        aw,
		status:    StatusDisconnected,
		statusObs: map[int]func(Status){},
		syncObs:   map[int]func(bool){},
	}
	p.unobserveDoc = doc.OnUpdate(func(u crdt.Update, local bool) {
		if local {
			p.enqueue(wire.UpdateMsg(uint32(doc.ClientID()), u))
		}
	})
	p.unobserveAw = aw.Observe(func(ch presence.Change) {
		if !ch.Local {
			return
		}
		if u, ok := aw.LocalUpdate(); ok {
			p.enqueue(wire.AwarenessMsg(u))
		}
	})
	return p
}

// URL returns the room URL the provider dials.
func (p *Provider) URL() string {
	return p.url
}

// Status returns the current connection state.
func (p *Provider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Synced reports whether the handshake of the current connection completed.
func (p *Provider) Synced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.synced
}

// OnStatus registers fn for connection state changes.
func (p *Provider) OnStatus(fn func(Status)) (unobserve func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextObs
	p.nextObs++
	p.statusObs[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.statusObs, id)
		p.mu.Unlock()
	}
}

// OnSync registers fn for handshake completion (true) and loss (false).
func (p *Provider) OnSync(fn func(bool)) (unobserve func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextObs
	p.nextObs++
	p.syncObs[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.syncObs, id)
		p.mu.Unlock()
	}
}

// Connect starts connecting in the background. It returns at once.
func (p *Provider) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return apperrors.New(apperrors.CodeResourceMisuse, "connect: provider is destroyed")
	}
	if p.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(ctx)
	return nil
}

// Disconnect stops the connection, including an in-flight dial or
// handshake, and waits for the background goroutines to exit. Called from
// an observer the connection goroutine is running, it cancels without
// waiting; that goroutine exits once the observer returns.
func (p *Provider) Disconnect() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if p.callbacks.Load() > 0 {
		return
	}
	p.wg.Wait()
}

// Destroy disconnects for good and detaches from the document and presence
// channel. Connect fails afterwards. It is idempotent.
func (p *Provider) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.mu.Unlock()

	p.Disconnect()
	p.unobserveDoc()
	p.unobserveAw()

	p.mu.Lock()
	p.statusObs = map[int]func(Status){}
	p.syncObs = map[int]func(bool){}
	p.mu.Unlock()
}

func (p *Provider) run(ctx context.Context) {
	defer p.wg.Done()
	defer p.setStatus(StatusDisconnected)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.MinBackoff
	b.MaxInterval = p.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		p.setStatus(StatusConnecting)
		conn, _, err := p.cfg.Dialer.DialContext(ctx, p.url, nil)
		if err == nil {
			b.Reset()
			err = p.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			return
		}
		log.Printf("transport: %s: %v", p.url, apperrors.Wrap(apperrors.CodeTransportFailure, "connection lost", err))
		p.setStatus(StatusDisconnected)

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.NextBackOff()):
		}
	}
}

// serve runs one connection until it fails or ctx is cancelled.
func (p *Provider) serve(ctx context.Context, conn *websocket.Conn) error {
	send := make(chan []byte, sendBufferSize)
	done := make(chan struct{})

	p.mu.Lock()
	p.conn = conn
	p.send = send
	p.mu.Unlock()
	p.setStatus(StatusConnected)

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()
	go func() {
		defer p.wg.Done()
		for {
			select {
			case msg := <-send:
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					return
				}
			case <-done:
				return
			}
		}
	}()

	err := p.readLoop(conn, send)

	close(done)
	p.mu.Lock()
	p.conn = nil
	p.send = nil
	p.mu.Unlock()
	p.setSynced(false)
	p.notify(p.aw.RemoveRemotes)
	return err
}

func (p *Provider) readLoop(conn *websocket.Conn, send chan<- []byte) error {
	hello, err := wire.Encode(wire.Hello(uint32(p.doc.ClientID()), p.cfg.Name))
	if err != nil {
		return err
	}
	send <- hello

	for {
		_, buf, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := wire.Decode(buf)
		if err != nil {
			log.Printf("transport: %s: %v", p.url, err)
			continue
		}
		switch msg.Type {
		case wire.TypeSync:
			if err := p.applyUpdate(*msg.Update); err != nil {
				return err
			}
			p.setSynced(true)
			// Send everything we have; edits made before the handshake
			// reach the room this way.
			p.enqueue(wire.UpdateMsg(uint32(p.doc.ClientID()), p.doc.EncodeState()))
			if u, ok := p.aw.LocalUpdate(); ok {
				p.enqueue(wire.AwarenessMsg(u))
			}
		case wire.TypeUpdate:
			if err := p.applyUpdate(*msg.Update); err != nil {
				return err
			}
		case wire.TypeAwareness:
			p.notify(func() { p.aw.Apply(*msg.Awareness) })
		}
	}
}

func (p *Provider) applyUpdate(u crdt.Update) (err error) {
	p.notify(func() { err = p.doc.ApplyUpdate(u) })
	return err
}

// notify runs fn, which may call observers, on the connection goroutine.
func (p *Provider) notify(fn func()) {
	p.callbacks.Add(1)
	defer p.callbacks.Add(-1)
	fn()
}

// enqueue sends msg on the current connection once it is synced. Messages
// produced before that are covered by the state sent after the handshake.
func (p *Provider) enqueue(msg wire.Message) {
	buf, err := wire.Encode(msg)
	if err != nil {
		log.Printf("transport: %v", err)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.synced || p.send == nil {
		return
	}
	select {
	case p.send <- buf:
	default:
		// The next handshake resends the full state.
		log.Printf("transport: %s: send buffer full, reconnecting", p.url)
		p.conn.Close()
	}
}

func (p *Provider) setStatus(s Status) {
	p.mu.Lock()
	if p.status == s {
		p.mu.Unlock()
		return
	}
	p.status = s
	obs := make([]func(Status), 0, len(p.statusObs))
	for _, fn := range p.statusObs {
		obs = append(obs, fn)
	}
	p.mu.Unlock()
	p.notify(func() {
		for _, fn := range obs {
			fn(s)
		}
	})
}

func (p *Provider) setSynced(synced bool) {
	p.mu.Lock()
	if p.synced == synced {
		p.mu.Unlock()
		return
	}
	p.synced = synced
	obs := make([]func(bool), 0, len(p.syncObs))
	for _, fn := range p.syncObs {
		obs = append(obs, fn)
	}
	p.mu.Unlock()
	p.notify(func() {
		for _, fn := range obs {
			fn(synced)
		}
	})
}
