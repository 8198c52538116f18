package presence

import (
	"sort"
	"sync"

	apperrors "collabtext/internal/platform/errors"
)

// Record is the "user" field of a participant's awareness state.
type Record struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// NewRecord returns the record for a participant, colored by its client id.
func NewRecord(id uint32, name string) Record {
	return Record{Name: name, Color: ColorFor(id)}
}

// State is the awareness state one participant broadcasts. User is the only
// field this layer publishes.
type State struct {
	User *Record `json:"user,omitempty"`
}

// Update is one participant's awareness as sent over the wire. A nil State
// means the participant left.
type Update struct {
	Client uint32 `json:"client"`
	Clock  uint64 `json:"clock"`
	State  *State `json:"state"`
}

// Peer is a remote participant with a known user record.
type Peer struct {
	Client uint32
	User   Record
}

// Change describes which participants' states changed in one notification.
type Change struct {
	Added   []uint32
	Updated []uint32
	Removed []uint32
	Local   bool
}

// Channel is the awareness channel of one connection.
type Channel struct {
	mu        sync.Mutex
	client    uint32
	clock     uint64
	states    map[uint32]State
	clocks    map[uint32]uint64
	observers map[int]func(Change)
	nextObs   int
	closed    bool
}

// NewChannel creates a channel whose local participant is client.
func NewChannel(client uint32) *Channel {
	return &Channel{
		client:    client,
		states:    map[uint32]State{},
		clocks:    map[uint32]uint64{},
		observers: map[int]func(Change){},
	}
}

// ClientID returns the local participant id.
func (c *Channel) ClientID() uint32 {
	return c.client
}

// SetLocalUser publishes the local user record.
func (c *Channel) SetLocalUser(r Record) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperrors.New(apperrors.CodeResourceMisuse, "presence channel is closed")
	}
	_, existed := c.states[c.client]
	c.clock++
	c.states[c.client] = State{User: &r}
	c.clocks[c.client] = c.clock
	ch := Change{Local: true}
	if existed {
		ch.Updated = []uint32{c.client}
	} else {
		ch.Added = []uint32{c.client}
	}
	obs := c.snapshotObservers()
	c.mu.Unlock()

	notify(obs, ch)
	return nil
}

// LocalUpdate returns the local state as a wire update, or false if nothing
// was published yet.
func (c *Channel) LocalUpdate() (Update, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[c.client]
	if !ok {
		return Update{}, false
	}
	return Update{Client: c.client, Clock: c.clocks[c.client], State: &st}, true
}

// LocalUser returns the published local record.
func (c *Channel) LocalUser() (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[c.client]
	if !ok || st.User == nil {
		return Record{}, false
	}
	return *st.User, true
}

// Apply merges a remote update. Updates about the local client and stale
// clocks are ignored.
func (c *Channel) Apply(u Update) {
	c.mu.Lock()
	if c.closed || u.Client == c.client {
		c.mu.Unlock()
		return
	}
	if prev, ok := c.clocks[u.Client]; ok && u.Clock != 0 && u.Clock < prev {
		c.mu.Unlock()
		return
	}
	var ch Change
	_, existed := c.states[u.Client]
	switch {
	case u.State == nil:
		if !existed {
			c.mu.Unlock()
			return
		}
		delete(c.states, u.Client)
		delete(c.clocks, u.Client)
		ch.Removed = []uint32{u.Client}
	case existed:
		c.states[u.Client] = *u.State
		c.clocks[u.Client] = u.Clock
		ch.Updated = []uint32{u.Client}
	default:
		c.states[u.Client] = *u.State
		c.clocks[u.Client] = u.Clock
		ch.Added = []uint32{u.Client}
	}
	obs := c.snapshotObservers()
	c.mu.Unlock()

	notify(obs, ch)
}

// Remove drops one remote participant.
func (c *Channel) Remove(client uint32) {
	c.Apply(Update{Client: client})
}

// RemoveRemotes drops every remote participant, as after a disconnect.
func (c *Channel) RemoveRemotes() {
	c.mu.Lock()
	var ch Change
	for id := range c.states {
		if id == c.client {
			continue
		}
		delete(c.states, id)
		delete(c.clocks, id)
		ch.Removed = append(ch.Removed, id)
	}
	if len(ch.Removed) == 0 {
		c.mu.Unlock()
		return
	}
	sortIDs(ch.Removed)
	obs := c.snapshotObservers()
	c.mu.Unlock()

	notify(obs, ch)
}

// States returns a copy of all known states keyed by client id.
func (c *Channel) States() map[uint32]State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[uint32]State, len(c.states))
	for id, st := range c.states {
		out[id] = st
	}
	return out
}

// Peers returns remote participants with a user record, ordered by id.
func (c *Channel) Peers() []Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var peers []Peer
	for id, st := range c.states {
		if id == c.client || st.User == nil {
			continue
		}
		peers = append(peers, Peer{Client: id, User: *st.User})
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Client < peers[j].Client })
	return peers
}

// Observe registers fn for every change and returns a function removing it.
func (c *Channel) Observe(fn func(Change)) (unobserve func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return func() {}
	}
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Close drops all observers and state. It is idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.observers = map[int]func(Change){}
	c.states = map[uint32]State{}
	c.clocks = map[uint32]uint64{}
}

func (c *Channel) snapshotObservers() []func(Change) {
	ids := make([]int, 0, len(c.observers))
	for id := range c.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	obs := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		obs = append(obs, c.observers[id])
	}
	return obs
}

func notify(obs []func(Change), ch Change) {
	for _, fn := range obs {
		fn(ch)
	}
}

func sortIDs(ids []uint32) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
