// Package relay serves rooms to providers over websockets. Each room keeps a
// replica of the document so that late joiners receive the full state, fans
// messages out through a Broker, and saves the document through a Store.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"collabtext/internal/crdt"
	"collabtext/internal/presence"
	"collabtext/internal/store"
	"collabtext/internal/wire"
)

// Options configures a Server.
type Options struct {
	// Broker defaults to a LocalBroker.
	Broker Broker
	// Store is optional; without it rooms live only while connected.
	Store store.Store
	// SaveDebounce is the quiet period before a room is saved.
	SaveDebounce time.Duration
}

// Server is the relay.
type Server struct {
	broker   Broker
	store    store.Store
	debounce time.Duration
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]*room
}

// NewServer creates a relay.
func NewServer(opts Options) *Server {
	if opts.Broker == nil {
		opts.Broker = NewLocalBroker()
	}
	if opts.SaveDebounce <= 0 {
		opts.SaveDebounce = time.Second
	}
	return &Server{
		broker:   opts.Broker,
		store:    opts.Store,
		debounce: opts.SaveDebounce,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rooms: map[string]*room{},
	}
}

// Handler routes /ws/{room} to the relay and /healthz to a liveness probe.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.UseEncodedPath()
	r.HandleFunc("/ws/{room}", s.serveWs)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	return r
}

// Rooms returns the number of open rooms.
func (s *Server) Rooms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// Close flushes and closes every room. Connections are dropped.
func (s *Server) Close() error {
	s.mu.Lock()
	rooms := make([]*room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.Unlock()
	var errs []error
	for _, r := range rooms {
		r.dropAll()
		if err := r.wait(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(mux.Vars(r)["room"])
	if err != nil || name == "" {
		http.Error(w, "bad room name", http.StatusBadRequest)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay: upgrade: %v", err)
		return
	}
	c := &conn{id: uuid.NewString(), ws: ws, send: make(chan []byte, 256)}

	rm, err := s.join(r.Context(), name, c)
	if err != nil {
		log.Printf("relay: join %s: %v", name, err)
		ws.Close()
		return
	}
	log.Printf("relay: %s joined %s", c.id, name)

	go c.writePump()
	c.readPump(rm)

	s.leave(rm, c)
	log.Printf("relay: %s left %s", c.id, name)
}

// join adds c to the room called name, opening the room if needed. A room
// that is still closing is waited for, so its final save lands before the
// next instance loads.
func (s *Server) join(ctx context.Context, name string, c *conn) (*room, error) {
	for {
		s.mu.Lock()
		r, ok := s.rooms[name]
		if ok && !r.closing {
			r.add(c)
			s.mu.Unlock()
			return r, nil
		}
		if ok {
			s.mu.Unlock()
			select {
			case <-r.closed:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		r, err := s.openRoom(ctx, name)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		s.rooms[name] = r
		r.add(c)
		s.mu.Unlock()
		return r, nil
	}
}

func (s *Server) leave(r *room, c *conn) {
	s.mu.Lock()
	empty := r.remove(c)
	if empty {
		r.closing = true
	}
	s.mu.Unlock()

	if client, ok := c.clientID(); ok {
		r.publishLeave(client)
	}
	if !empty {
		return
	}
	if err := r.shutdown(); err != nil {
		log.Printf("relay: closing %s: %v", r.name, err)
	}
	s.mu.Lock()
	if s.rooms[r.name] == r {
		delete(s.rooms, r.name)
	}
	s.mu.Unlock()
	close(r.closed)
}

func (s *Server) openRoom(ctx context.Context, name string) (*room, error) {
	doc := crdt.NewDoc(0)
	if s.store != nil {
		snap, err := s.store.Load(ctx, name)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("load %s: %w", name, err)
		default:
			u, err := crdt.DecodeUpdate(snap.State)
			if err != nil {
				return nil, fmt.Errorf("load %s: %w", name, err)
			}
			if err := doc.ApplyUpdate(u); err != nil {
				return nil, fmt.Errorf("load %s: %w", name, err)
			}
		}
	}
	sub, err := s.broker.Subscribe(ctx, name)
	if err != nil {
		return nil, err
	}
	r := &room{
		name:      name,
		broker:    s.broker,
		doc:       doc,
		sub:       sub,
		conns:     map[*conn]struct{}{},
		awareness: map[uint32]presence.Update{},
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
		closed:    make(chan struct{}),
	}
	if s.store != nil {
		r.saver = newSaver(s.store, name, doc, s.debounce)
		doc.OnUpdate(func(u crdt.Update, local bool) { r.saver.mark(u) })
	}
	go r.pump()
	return r, nil
}

// conn is one websocket client of a room.
type conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	client uint32
	hello  bool
	once   sync.Once

	ready bool // guarded by room.mu
}

func (c *conn) clientID() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client, c.hello
}

func (c *conn) readPump(r *room) {
	defer c.ws.Close()
	for {
		_, buf, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		msg, err := wire.Decode(buf)
		if err != nil {
			log.Printf("relay: %s: %v", c.id, err)
			continue
		}
		if msg.Type == wire.TypeHello {
			c.mu.Lock()
			c.client = msg.Client
			c.hello = true
			c.mu.Unlock()
			r.sync(c)
			continue
		}
		if _, ok := c.clientID(); !ok {
			log.Printf("relay: %s: %s before hello", c.id, msg.Type)
			continue
		}
		msg.Conn = c.id
		if err := r.publish(msg); err != nil {
			log.Printf("relay: %s: %v", c.id, err)
		}
	}
}

func (c *conn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Printf("relay: %s: write: %v", c.id, err)
			return
		}
	}
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// deliver queues msg; a client that cannot keep up is dropped and resyncs
// on reconnect.
func (c *conn) deliver(msg []byte) {
	select {
	case c.send <- msg:
	default:
		log.Printf("relay: %s: send buffer full, dropping client", c.id)
		c.ws.Close()
	}
}

func (c *conn) closeSend() {
	c.once.Do(func() { close(c.send) })
}
