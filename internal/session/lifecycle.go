package session

import (
	"sync"

	apperrors "collabtext/internal/platform/errors"
)

// Lifecycle ties a Handle to a mount/unmount pair, such as a UI component.
// Mount opens the session once; Unmount closes it exactly once, whatever
// state it reached.
type Lifecycle struct {
	cfg Config

	mu        sync.Mutex
	h         *Handle
	unmounted bool
}

// NewLifecycle returns an unmounted lifecycle for cfg.
func NewLifecycle(cfg Config) *Lifecycle {
	return &Lifecycle{cfg: cfg}
}

// Mount opens the session. Mounting again returns the same handle;
// mounting after Unmount is a resource misuse.
func (l *Lifecycle) Mount() (*Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unmounted {
		return nil, apperrors.New(apperrors.CodeResourceMisuse, "mount: lifecycle already unmounted")
	}
	if l.h != nil {
		return l.h, nil
	}
	h, err := Open(l.cfg)
	if err != nil {
		return nil, err
	}
	l.h = h
	return h, nil
}

// Handle returns the mounted handle, or nil.
func (l *Lifecycle) Handle() *Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.h
}

// State reports the handle's state; before Mount it is uninitialized.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	h, unmounted := l.h, l.unmounted
	l.mu.Unlock()
	switch {
	case h != nil:
		return h.State()
	case unmounted:
		return StateClosed
	default:
		return StateUninitialized
	}
}

// Unmount closes the session. Later calls do nothing.
func (l *Lifecycle) Unmount() error {
	l.mu.Lock()
	if l.unmounted {
		l.mu.Unlock()
		return nil
	}
	l.unmounted = true
	h := l.h
	l.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Close()
}
