package editor

import (
	"log"
	"strings"
	"sync"
	"unicode/utf8"

	"collabtext/internal/crdt"
	apperrors "collabtext/internal/platform/errors"
	"collabtext/internal/presence"
)

// Engine names a rich-text editor implementation.
type Engine string

const (
	Quill       Engine = "quill"
	ProseMirror Engine = "prosemirror"
	Slate       Engine = "slate"
	Tiptap      Engine = "tiptap"
	Plate       Engine = "plate"
)

// Engines lists the supported engines.
var Engines = []Engine{Quill, ProseMirror, Slate, Tiptap, Plate}

// Mode is the shape of an editor field.
type Mode string

const (
	// SingleLine fields drop line breaks typed locally.
	SingleLine Mode = "single-line"
	// Area fields accept any text.
	Area Mode = "area"
)

// Modes lists the supported modes.
var Modes = []Mode{SingleLine, Area}

// TextAdapter binds a surface of the given engine and mode to a text
// container. Every engine shares the plain-text model; mapping it onto an
// engine's own document structure is left to the Surface.
type TextAdapter struct {
	Engine Engine
	Mode   Mode
}

// Name returns the registry name of a, e.g. "quill-area".
func (a TextAdapter) Name() string {
	return string(a.Engine) + "-" + string(a.Mode)
}

// Bind implements Adapter.
func (a TextAdapter) Bind(t Target) (Binding, error) {
	txt, ok := t.Container.(*crdt.Text)
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeContractViolation, "%s: container is not text", a.Name())
	}
	if t.Surface == nil {
		return nil, apperrors.Newf(apperrors.CodeContractViolation, "%s: no surface", a.Name())
	}
	if txt.Closed() {
		return nil, apperrors.Newf(apperrors.CodeResourceMisuse, "%s: document is closed", a.Name())
	}

	b := &textBinding{adapter: a, text: txt, surface: t.Surface}
	if s := txt.String(); s != "" {
		b.applyRemote([]crdt.TextChange{{Index: 0, Insert: s}})
	}
	b.cancels = append(b.cancels,
		txt.Observe(b.onText),
		t.Surface.OnLocalEdit(b.onEdit),
	)
	if ps, ok := t.Surface.(PeerSurface); ok && t.Presence != nil {
		aw := t.Presence
		ps.SetPeers(aw.Peers())
		b.cancels = append(b.cancels, aw.Observe(func(presence.Change) {
			if !b.isDisposed() {
				ps.SetPeers(aw.Peers())
			}
		}))
	}
	return b, nil
}

type textBinding struct {
	adapter TextAdapter
	text    *crdt.Text
	surface Surface

	mu       sync.Mutex
	writing  bool
	applying bool
	disposed bool
	cancels  []func()
}

func (b *textBinding) Dispose() {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.disposed = true
	cancels := b.cancels
	b.cancels = nil
	b.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (b *textBinding) isDisposed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disposed
}

// onText mirrors container changes into the surface, except the ones this
// binding is writing.
func (b *textBinding) onText(ev crdt.TextEvent) {
	b.mu.Lock()
	skip := b.disposed || (ev.Local && b.writing)
	b.mu.Unlock()
	if skip {
		return
	}
	b.applyRemote(ev.Changes)
}

func (b *textBinding) applyRemote(changes []crdt.TextChange) {
	b.mu.Lock()
	b.applying = true
	b.mu.Unlock()
	b.surface.ApplyRemote(changes)
	b.mu.Lock()
	b.applying = false
	b.mu.Unlock()
}

func (b *textBinding) onEdit(e Edit) {
	b.mu.Lock()
	if b.disposed || b.applying {
		b.mu.Unlock()
		return
	}
	b.writing = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.writing = false
		b.mu.Unlock()
	}()

	typed := e.Insert
	if b.adapter.Mode == SingleLine {
		e.Insert = lineBreaks.Replace(e.Insert)
	}
	if e.Delete > 0 {
		if err := b.text.Delete(e.Index, e.Delete); err != nil {
			log.Printf("editor: %s: %s: %v", b.adapter.Name(), b.text.Name(), err)
			return
		}
	}
	if e.Insert != "" {
		if err := b.text.Insert(e.Index, e.Insert); err != nil {
			log.Printf("editor: %s: %s: %v", b.adapter.Name(), b.text.Name(), err)
			return
		}
	}
	if typed != e.Insert {
		// The surface still shows the dropped line breaks.
		b.applyRemote([]crdt.TextChange{{Index: e.Index, Delete: utf8.RuneCountInString(typed), Insert: e.Insert}})
	}
}

var lineBreaks = strings.NewReplacer("\r\n", "", "\n", "", "\r", "")
