// Package session opens shared documents for a room: one document, one
// connection and one presence record per Handle.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"collabtext/internal/crdt"
	"collabtext/internal/fieldbridge"
	apperrors "collabtext/internal/platform/errors"
	"collabtext/internal/presence"
	"collabtext/internal/transport"
)

// NonCollabKey is the map container holding plain form fields.
const NonCollabKey = "non_collab_fields"

// State is the lifecycle state of a Handle.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateConnecting    State = "connecting"
	StateReady         State = "ready"
	StateClosed        State = "closed"
)

// Handle is an open session on a room.
type Handle struct {
	cfg      Config
	doc      *crdt.Doc
	aw       *presence.Channel
	provider *transport.Provider

	mu      sync.Mutex
	state   State
	ready   chan struct{}
	done    chan struct{}
	obs     map[int]func(State)
	nextObs int
	binder  *fieldbridge.Binder

	closeOnce sync.Once
}

// Open starts a session. It returns before the connection is established;
// use WaitReady or OnStateChange to learn when the room state arrived.
func Open(cfg Config) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	id := transport.NewClientID()
	h := &Handle{
		cfg:   cfg,
		doc:   crdt.NewDoc(crdt.ClientID(id)),
		aw:    presence.NewChannel(id),
		state: StateUninitialized,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
		obs:   map[int]func(State){},
	}
	if err := h.aw.SetLocalUser(presence.NewRecord(id, cfg.DisplayName)); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	h.provider = transport.NewProvider(transport.Config{
		ServerURL:  cfg.ServerURL,
		Room:       cfg.Room,
		Name:       cfg.DisplayName,
		MinBackoff: cfg.MinBackoff,
		MaxBackoff: cfg.MaxBackoff,
	}, h.doc, h.aw)
	h.provider.OnSync(func(synced bool) {
		if synced {
			h.setState(StateReady)
		}
	})
	h.setState(StateConnecting)
	if err := h.provider.Connect(); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return h, nil
}

// ClientID returns the id this session stamps on its edits.
func (h *Handle) ClientID() uint32 {
	return uint32(h.doc.ClientID())
}

// Room returns the room name.
func (h *Handle) Room() string {
	return h.cfg.Room
}

// Presence returns the session's presence channel.
func (h *Handle) Presence() *presence.Channel {
	return h.aw
}

// Status returns the connection status.
func (h *Handle) Status() transport.Status {
	return h.provider.Status()
}

// SubDocument returns the container called key, creating it on first use.
// Repeated calls return the same container; a different kind for a known
// key is a contract violation.
func (h *Handle) SubDocument(key string, kind crdt.Kind) (crdt.Container, error) {
	return h.doc.Get(key, kind)
}

// Text returns the text container called key.
func (h *Handle) Text(key string) (*crdt.Text, error) {
	return h.doc.Text(key)
}

// Map returns the map container called key.
func (h *Handle) Map(key string) (*crdt.Map, error) {
	return h.doc.Map(key)
}

// Fields returns the map of plain form fields.
func (h *Handle) Fields() (*crdt.Map, error) {
	return h.doc.Map(NonCollabKey)
}

// BindField attaches control to key of Fields.
func (h *Handle) BindField(control fieldbridge.Control, key string, kind fieldbridge.ValueKind) (*fieldbridge.Binding, error) {
	h.mu.Lock()
	if h.state == StateClosed {
		h.mu.Unlock()
		return nil, apperrors.Newf(apperrors.CodeResourceMisuse, "bind field %q: session is closed", key)
	}
	if h.binder == nil {
		m, err := h.Fields()
		if err != nil {
			h.mu.Unlock()
			return nil, err
		}
		h.binder = fieldbridge.NewBinder(m)
	}
	binder := h.binder
	h.mu.Unlock()
	return binder.Attach(control, key, kind)
}

// State returns the lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// OnStateChange registers fn for state transitions.
func (h *Handle) OnStateChange(fn func(State)) (unobserve func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextObs
	h.nextObs++
	h.obs[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.obs, id)
		h.mu.Unlock()
	}
}

// WaitReady blocks until the first sync completed, the handle is closed or
// ctx is done.
func (h *Handle) WaitReady(ctx context.Context) error {
	select {
	case <-h.ready:
		return nil
	default:
	}
	select {
	case <-h.ready:
		return nil
	case <-h.done:
		return apperrors.New(apperrors.CodeResourceMisuse, "wait ready: session is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the handle is closed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Close tears the session down: the connection, including a dial in
// progress, the document and the presence channel. It is idempotent and
// safe to call concurrently and from any observer. Called from an observer
// of a remote change or of a state change, it returns without waiting for
// the connection goroutine to exit.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.setState(StateClosed)
		h.provider.Destroy()
		h.doc.Destroy()
		h.aw.Close()
	})
	return nil
}

// setState moves forward through the lifecycle. Closed is terminal.
func (h *Handle) setState(s State) {
	h.mu.Lock()
	if h.state == s || h.state == StateClosed || (s == StateConnecting && h.state == StateReady) {
		h.mu.Unlock()
		return
	}
	h.state = s
	switch s {
	case StateReady:
		close(h.ready)
	case StateClosed:
		close(h.done)
	}
	obs := make([]func(State), 0, len(h.obs))
	for _, id := range sortedIDs(h.obs) {
		obs = append(obs, h.obs[id])
	}
	if s == StateClosed {
		h.obs = map[int]func(State){}
	}
	h.mu.Unlock()
	for _, fn := range obs {
		fn(s)
	}
}

func sortedIDs(m map[int]func(State)) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
