package fieldbridge

import (
	"reflect"
	"sync"

	"collabtext/internal/crdt"
	apperrors "collabtext/internal/platform/errors"
)

// Binder attaches controls to one map and refuses to bind the same control
// to the same key twice. Controls are compared by identity, so they should
// be pointers; controls that cannot be compared are refused.
type Binder struct {
	m *crdt.Map

	mu    sync.Mutex
	bound map[bindingKey]*Binding
}

type bindingKey struct {
	key     string
	control Control
}

// NewBinder returns a Binder for m.
func NewBinder(m *crdt.Map) *Binder {
	return &Binder{m: m, bound: map[bindingKey]*Binding{}}
}

// Map returns the map bindings write to.
func (bd *Binder) Map() *crdt.Map {
	return bd.m
}

// Attach binds control to key. Binding an already bound pair is a contract
// violation until the first binding is detached.
func (bd *Binder) Attach(control Control, key string, kind ValueKind) (*Binding, error) {
	if !reflect.ValueOf(control).Comparable() {
		return nil, apperrors.Newf(apperrors.CodeContractViolation, "bind %q: control %T is not comparable", key, control)
	}
	k := bindingKey{key: key, control: control}
	bd.mu.Lock()
	defer bd.mu.Unlock()
	if _, ok := bd.bound[k]; ok {
		return nil, apperrors.Newf(apperrors.CodeContractViolation, "key %q is already bound to this control", key)
	}
	b, err := Attach(control, bd.m, key, kind)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.release = func() {
		bd.mu.Lock()
		defer bd.mu.Unlock()
		if bd.bound[k] == b {
			delete(bd.bound, k)
		}
	}
	b.mu.Unlock()
	bd.bound[k] = b
	return b, nil
}

// Len returns the number of attached bindings.
func (bd *Binder) Len() int {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	return len(bd.bound)
}
