// Package crdt implements the replicated document shared by a session: a tree
// of named containers (sequence text and last-writer-wins maps) whose
// operations merge without coordination.
package crdt

import (
	"log"
	"sort"
	"sync"

	apperrors "collabtext/internal/platform/errors"
)

// Container is a named, typed unit of shared state inside a Doc.
type Container interface {
	Name() string
	Kind() Kind
}

type container interface {
	Container
	// integrate applies op. ready is false when a dependency of op has not
	// arrived yet.
	integrate(op Op, tx *txn) (ready bool)
	state() []Op
}

// Doc is a replicated document. All containers of a Doc share one lock and
// one notification queue, so observers see changes in the order they were
// applied.
type Doc struct {
	mu          sync.Mutex
	client      ClientID
	clock       uint64
	containers  map[string]container
	pending     []Op
	queue       []func()
	dispatching bool
	updateObs   map[int]func(Update, bool)
	nextObs     int
	closed      bool
}

// NewDoc creates an empty document whose local operations carry client.
func NewDoc(client ClientID) *Doc {
	return &Doc{
		client:     client,
		containers: map[string]container{},
		updateObs:  map[int]func(Update, bool){},
	}
}

// ClientID returns the id stamped on local operations.
func (d *Doc) ClientID() ClientID {
	return d.client
}

// Get returns the container called name, creating it on first access.
// Asking for an existing name with a different kind is a contract violation.
func (d *Doc) Get(name string, kind Kind) (Container, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getLocked(name, kind)
}

// Text returns the text container called name.
func (d *Doc) Text(name string) (*Text, error) {
	c, err := d.Get(name, KindText)
	if err != nil {
		return nil, err
	}
	return c.(*Text), nil
}

// Map returns the map container called name.
func (d *Doc) Map(name string) (*Map, error) {
	c, err := d.Get(name, KindMap)
	if err != nil {
		return nil, err
	}
	return c.(*Map), nil
}

func (d *Doc) getLocked(name string, kind Kind) (container, error) {
	if d.closed {
		return nil, apperrors.Newf(apperrors.CodeResourceMisuse, "document is closed: container %q", name)
	}
	if !kind.Valid() {
		return nil, apperrors.Newf(apperrors.CodeContractViolation, "unknown container kind %q", kind)
	}
	if c, ok := d.containers[name]; ok {
		if c.Kind() != kind {
			return nil, apperrors.Newf(apperrors.CodeContractViolation,
				"container %q is %s, requested as %s", name, c.Kind(), kind)
		}
		return c, nil
	}
	var c container
	switch kind {
	case KindText:
		c = newText(d, name)
	case KindMap:
		c = newMap(d, name)
	}
	d.containers[name] = c
	return c, nil
}

// Names returns the names of all containers, sorted.
func (d *Doc) Names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.containers))
	for name := range d.containers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyUpdate merges a remote update. Operations already known are skipped
// and operations whose dependencies are missing are held until they arrive.
func (d *Doc) ApplyUpdate(u Update) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return apperrors.New(apperrors.CodeResourceMisuse, "apply update: document is closed")
	}
	tx := newTxn(false, u.Origin)
	for _, op := range u.Ops {
		d.integrateLocked(op, tx)
	}
	d.retryPendingLocked(tx)
	d.commitLocked(tx)
	d.unlockAndDispatch()
	return nil
}

// EncodeState returns an update that reproduces the whole document.
func (d *Doc) EncodeState() Update {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := Update{Origin: d.client}
	for _, name := range sortedKeys(d.containers) {
		u.Ops = append(u.Ops, d.containers[name].state()...)
	}
	u.Ops = append(u.Ops, d.pending...)
	return u
}

// OnUpdate registers fn to receive every update that changed the document,
// with local reporting whether it was made through this Doc's containers.
// Remote updates are reduced to the operations that took effect.
func (d *Doc) OnUpdate(fn func(u Update, local bool)) (unobserve func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextObs
	d.nextObs++
	d.updateObs[id] = fn
	return func() {
		d.mu.Lock()
		delete(d.updateObs, id)
		d.mu.Unlock()
	}
}

// Destroy releases the document. Further mutations fail with a resource
// misuse error. It is idempotent.
func (d *Doc) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.pending = nil
	d.queue = nil
	d.updateObs = map[int]func(Update, bool){}
	for _, c := range d.containers {
		switch c := c.(type) {
		case *Text:
			c.observers = map[int]func(TextEvent){}
		case *Map:
			c.observers = map[int]func(MapEvent){}
		}
	}
}

// Closed reports whether Destroy was called.
func (d *Doc) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Doc) nextID() ID {
	d.clock++
	return ID{Clock: d.clock, Client: d.client}
}

func (d *Doc) observeClock(id ID) {
	if id.Clock > d.clock {
		d.clock = id.Clock
	}
}

func (d *Doc) integrateLocked(op Op, tx *txn) {
	c, err := d.getLocked(op.Container, op.Kind)
	if err != nil {
		log.Printf("crdt: dropping op %s on %q: %v", op.ID, op.Container, err)
		return
	}
	if !c.integrate(op, tx) {
		d.pending = append(d.pending, op)
		return
	}
	d.observeClock(op.ID)
	tx.progress = true
}

func (d *Doc) retryPendingLocked(tx *txn) {
	for tx.progress && len(d.pending) > 0 {
		tx.progress = false
		pending := d.pending
		d.pending = nil
		for _, op := range pending {
			d.integrateLocked(op, tx)
		}
	}
}

// commitLocked turns the effects of tx into queued notifications.
func (d *Doc) commitLocked(tx *txn) {
	for _, t := range tx.texts {
		ev := TextEvent{Text: t, Local: tx.local, Origin: tx.origin, Changes: tx.textChanges[t]}
		d.queue = append(d.queue, func() { t.deliver(ev) })
	}
	for _, m := range tx.maps {
		ev := MapEvent{Map: m, Local: tx.local, Origin: tx.origin, Keys: tx.mapKeys[m]}
		d.queue = append(d.queue, func() { m.deliver(ev) })
	}
	if len(tx.applied) == 0 {
		return
	}
	u := Update{Origin: tx.origin, Ops: tx.applied}
	local := tx.local
	d.queue = append(d.queue, func() {
		d.mu.Lock()
		obs := make([]func(Update, bool), 0, len(d.updateObs))
		for _, id := range sortedKeys(d.updateObs) {
			obs = append(obs, d.updateObs[id])
		}
		d.mu.Unlock()
		for _, fn := range obs {
			fn(u, local)
		}
	})
}

// unlockAndDispatch drains the notification queue and releases d.mu. Only
// one goroutine drains at a time; mutations made by observers are queued
// behind the current notification.
func (d *Doc) unlockAndDispatch() {
	if d.dispatching {
		d.mu.Unlock()
		return
	}
	d.dispatching = true
	for len(d.queue) > 0 {
		fn := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()
		fn()
		d.mu.Lock()
	}
	d.dispatching = false
	d.mu.Unlock()
}

// txn collects the effects of one update.
type txn struct {
	local       bool
	origin      ClientID
	progress    bool
	applied     []Op
	texts       []*Text
	textChanges map[*Text][]TextChange
	maps        []*Map
	mapKeys     map[*Map]map[string]struct{}
}

func newTxn(local bool, origin ClientID) *txn {
	return &txn{
		local:       local,
		origin:      origin,
		textChanges: map[*Text][]TextChange{},
		mapKeys:     map[*Map]map[string]struct{}{},
	}
}

func (tx *txn) textChanged(t *Text, ch TextChange) {
	changes, ok := tx.textChanges[t]
	if !ok {
		tx.texts = append(tx.texts, t)
	}
	tx.textChanges[t] = appendChange(changes, ch)
}

func (tx *txn) mapChanged(m *Map, key string) {
	keys, ok := tx.mapKeys[m]
	if !ok {
		keys = map[string]struct{}{}
		tx.mapKeys[m] = keys
		tx.maps = append(tx.maps, m)
	}
	keys[key] = struct{}{}
}

func sortedKeys[K int | string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
