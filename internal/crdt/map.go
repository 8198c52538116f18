package crdt

import (
	"sort"

	apperrors "collabtext/internal/platform/errors"
)

// MapEvent reports the keys of a Map changed by one update.
type MapEvent struct {
	Map    *Map
	Local  bool
	Origin ClientID
	Keys   map[string]struct{}
}

// Changed reports whether key is among the changed keys.
func (e MapEvent) Changed(key string) bool {
	_, ok := e.Keys[key]
	return ok
}

type mapEntry struct {
	value Scalar
	id    ID
	kind  ScalarKind
}

// Map is a replicated key/value container of scalars. Concurrent writes to a
// key resolve to the write with the greatest id.
//
// Each key has a scalar kind that travels with its winning write, so every
// replica agrees on it. Unset is accepted for every key and keeps the kind.
type Map struct {
	doc       *Doc
	name      string
	entries   map[string]mapEntry
	observers map[int]func(MapEvent)
	nextObs   int
}

func newMap(d *Doc, name string) *Map {
	return &Map{
		doc:       d,
		name:      name,
		entries:   map[string]mapEntry{},
		observers: map[int]func(MapEvent){},
	}
}

func (m *Map) Name() string { return m.name }
func (m *Map) Kind() Kind   { return KindMap }

// Get returns the value of key. A missing key is unset.
func (m *Map) Get(key string) Scalar {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		return e.value
	}
	return Unset()
}

// Has reports whether key holds a value other than unset.
func (m *Map) Has(key string) bool {
	return !m.Get(key).IsUnset()
}

// Keys returns the keys that were ever assigned, sorted.
func (m *Map) Keys() []string {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of all values.
func (m *Map) Snapshot() map[string]Scalar {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	out := make(map[string]Scalar, len(m.entries))
	for k, e := range m.entries {
		out[k] = e.value
	}
	return out
}

// Set assigns v to key. Assigning a kind other than the one key already
// holds is a contract violation.
func (m *Map) Set(key string, v Scalar) error {
	v = v.normalized()
	d := m.doc
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return apperrors.Newf(apperrors.CodeResourceMisuse, "set %q in %q: document is closed", key, m.name)
	}
	k := m.entries[key].kind
	if k != "" && !v.IsUnset() && k != v.Kind {
		d.mu.Unlock()
		return apperrors.Newf(apperrors.CodeContractViolation, "set %q in %q: key holds %s, got %s", key, m.name, k, v.Kind)
	}
	if !v.IsUnset() {
		k = v.Kind
	}
	tx := newTxn(true, d.client)
	m.integrate(Op{
		Action:    ActionSet,
		Container: m.name,
		Kind:      KindMap,
		ID:        d.nextID(),
		Key:       key,
		Scalar:    &v,
		KeyKind:   k,
	}, tx)
	d.commitLocked(tx)
	d.unlockAndDispatch()
	return nil
}

// Unset clears key.
func (m *Map) Unset(key string) error {
	return m.Set(key, Unset())
}

// Observe registers fn for changes to m and returns a function removing it.
func (m *Map) Observe(fn func(MapEvent)) (unobserve func()) {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	return func() {
		m.doc.mu.Lock()
		delete(m.observers, id)
		m.doc.mu.Unlock()
	}
}

// Closed reports whether the owning document was destroyed.
func (m *Map) Closed() bool {
	return m.doc.Closed()
}

func (m *Map) deliver(ev MapEvent) {
	m.doc.mu.Lock()
	obs := make([]func(MapEvent), 0, len(m.observers))
	for _, id := range sortedKeys(m.observers) {
		obs = append(obs, m.observers[id])
	}
	m.doc.mu.Unlock()
	for _, fn := range obs {
		fn(ev)
	}
}

func (m *Map) integrate(op Op, tx *txn) bool {
	if op.Action != ActionSet {
		return true
	}
	if e, ok := m.entries[op.Key]; ok && !e.id.Less(op.ID) {
		return true
	}
	v := op.Scalar.normalized()
	kind := op.KeyKind
	if !v.IsUnset() {
		kind = v.Kind
	}
	m.entries[op.Key] = mapEntry{value: v, id: op.ID, kind: kind}
	tx.applied = append(tx.applied, op)
	tx.mapChanged(m, op.Key)
	return true
}

func (m *Map) state() []Op {
	ops := make([]Op, 0, len(m.entries))
	for _, key := range sortedKeys(m.entries) {
		e := m.entries[key]
		v := e.value
		ops = append(ops, Op{
			Action:    ActionSet,
			Container: m.name,
			Kind:      KindMap,
			ID:        e.id,
			Key:       key,
			Scalar:    &v,
			KeyKind:   e.kind,
		})
	}
	return ops
}
