// Package fieldbridge keeps a plain input control and one entry of a shared
// map in step.
//
// A binding is clean or locally dirty. Typing makes it dirty; while dirty,
// remote changes to the key are not shown so they cannot clobber the edit in
// progress. Committing writes the control's value and discarding shows the
// latest shared value; both make the binding clean again.
package fieldbridge

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"collabtext/internal/crdt"
	apperrors "collabtext/internal/platform/errors"
)

// ValueKind is how a control's text maps to a stored value.
type ValueKind int

const (
	// Text stores the control value as a string.
	Text ValueKind = iota
	// OptionalInteger stores an integer, or unset for empty input.
	OptionalInteger
)

func (k ValueKind) String() string {
	switch k {
	case Text:
		return "text"
	case OptionalInteger:
		return "optional-integer"
	default:
		return fmt.Sprintf("ValueKind(%d)", int(k))
	}
}

// Control is a value-bearing input. SetValue must not fire the control's
// own input or commit callbacks.
type Control interface {
	Value() string
	SetValue(string)
	// OnInput fires on every local keystroke.
	OnInput(fn func(string)) (cancel func())
	// OnCommit fires when the user commits the value, e.g. on blur.
	OnCommit(fn func(string)) (cancel func())
}

type state int

const (
	clean state = iota
	locallyDirty
)

// Binding is an attached (control, map, key) triple.
type Binding struct {
	control Control
	m       *crdt.Map
	key     string
	kind    ValueKind

	mu       sync.Mutex
	state    state
	deferred bool
	applying bool
	detached bool
	cancels  []func()
	release  func()
}

// Attach shows the current value of key in control and keeps both in step
// until Detach.
func Attach(control Control, m *crdt.Map, key string, kind ValueKind) (*Binding, error) {
	if kind != Text && kind != OptionalInteger {
		return nil, apperrors.Newf(apperrors.CodeContractViolation, "attach %q: unknown value kind %s", key, kind)
	}
	if m.Closed() {
		return nil, apperrors.Newf(apperrors.CodeResourceMisuse, "attach %q: document is closed", key)
	}
	b := &Binding{control: control, m: m, key: key, kind: kind}
	b.refresh()
	b.cancels = []func(){
		m.Observe(b.onChange),
		control.OnInput(b.onInput),
		control.OnCommit(b.onCommit),
	}
	return b, nil
}

// Key returns the bound map key.
func (b *Binding) Key() string {
	return b.key
}

// Dirty reports whether the control holds an uncommitted local edit.
func (b *Binding) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == locallyDirty
}

// Stale reports whether a remote change to the key arrived while the
// binding was dirty and is not shown yet.
func (b *Binding) Stale() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deferred
}

// Discard drops the uncommitted edit and shows the shared value.
func (b *Binding) Discard() error {
	b.mu.Lock()
	if b.detached {
		b.mu.Unlock()
		return apperrors.Newf(apperrors.CodeResourceMisuse, "discard %q: binding is detached", b.key)
	}
	b.mu.Unlock()
	if b.m.Closed() {
		return apperrors.Newf(apperrors.CodeResourceMisuse, "discard %q: document is closed", b.key)
	}
	b.settle()
	b.refresh()
	return nil
}

// Detach removes both subscriptions. It is idempotent.
func (b *Binding) Detach() {
	b.mu.Lock()
	if b.detached {
		b.mu.Unlock()
		return
	}
	b.detached = true
	cancels, release := b.cancels, b.release
	b.cancels, b.release = nil, nil
	b.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if release != nil {
		release()
	}
}

func (b *Binding) onChange(ev crdt.MapEvent) {
	if !ev.Changed(b.key) {
		return
	}
	b.mu.Lock()
	if b.detached {
		b.mu.Unlock()
		return
	}
	if b.state == locallyDirty && !ev.Local {
		b.deferred = true
		b.mu.Unlock()
		return
	}
	b.state = clean
	b.deferred = false
	b.mu.Unlock()
	b.refresh()
}

func (b *Binding) onInput(string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detached || b.applying {
		return
	}
	b.state = locallyDirty
}

func (b *Binding) onCommit(value string) {
	b.mu.Lock()
	if b.detached || b.applying {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	v, err := parse(b.kind, value)
	if err != nil {
		log.Printf("fieldbridge: %s: %v", b.key, err)
		b.settle()
		b.refresh()
		return
	}
	b.settle()
	if b.m.Get(b.key) == v {
		b.refresh()
		return
	}
	if err := b.m.Set(b.key, v); err != nil {
		log.Printf("fieldbridge: %s: %v", b.key, err)
		b.refresh()
	}
}

func (b *Binding) settle() {
	b.mu.Lock()
	b.state = clean
	b.deferred = false
	b.mu.Unlock()
}

// refresh shows the shared value without firing the control's callbacks
// back into the binding.
func (b *Binding) refresh() {
	v := b.m.Get(b.key).Display()
	b.mu.Lock()
	b.applying = true
	b.mu.Unlock()
	if b.control.Value() != v {
		b.control.SetValue(v)
	}
	b.mu.Lock()
	b.applying = false
	b.mu.Unlock()
}

func parse(kind ValueKind, value string) (crdt.Scalar, error) {
	if kind == Text {
		return crdt.String(value), nil
	}
	s := strings.TrimSpace(value)
	if s == "" {
		return crdt.Unset(), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return crdt.Scalar{}, apperrors.Wrap(apperrors.CodeValidationRejection, fmt.Sprintf("not an integer: %q", value), err)
	}
	return crdt.Int(n), nil
}
