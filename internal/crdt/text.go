package crdt

import (
	"strings"

	apperrors "collabtext/internal/platform/errors"
)

// TextChange is one step of a text delta. Index is in runes and relative to
// the text after the previous steps of the same event.
type TextChange struct {
	Index  int
	Insert string
	Delete int
}

// TextEvent reports the changes made to a Text by one update.
type TextEvent struct {
	Text    *Text
	Local   bool
	Origin  ClientID
	Changes []TextChange
}

type textItem struct {
	id      ID
	origin  *ID
	value   rune
	deleted bool
}

// Text is a replicated sequence of runes. Concurrent inserts after the same
// neighbour are ordered by descending id, so every replica converges on the
// same sequence.
type Text struct {
	doc       *Doc
	name      string
	items     []*textItem
	index     map[ID]*textItem
	observers map[int]func(TextEvent)
	nextObs   int
}

func newText(d *Doc, name string) *Text {
	return &Text{
		doc:       d,
		name:      name,
		index:     map[ID]*textItem{},
		observers: map[int]func(TextEvent){},
	}
}

func (t *Text) Name() string { return t.name }
func (t *Text) Kind() Kind   { return KindText }

// String returns the visible text.
func (t *Text) String() string {
	t.doc.mu.Lock()
	defer t.doc.mu.Unlock()
	var b strings.Builder
	for _, it := range t.items {
		if !it.deleted {
			b.WriteRune(it.value)
		}
	}
	return b.String()
}

// Len returns the number of visible runes.
func (t *Text) Len() int {
	t.doc.mu.Lock()
	defer t.doc.mu.Unlock()
	return t.lenLocked()
}

func (t *Text) lenLocked() int {
	n := 0
	for _, it := range t.items {
		if !it.deleted {
			n++
		}
	}
	return n
}

// Insert inserts s before the rune at index.
func (t *Text) Insert(index int, s string) error {
	d := t.doc
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return apperrors.Newf(apperrors.CodeResourceMisuse, "insert into %q: document is closed", t.name)
	}
	if index < 0 || index > t.lenLocked() {
		d.mu.Unlock()
		return apperrors.Newf(apperrors.CodeContractViolation, "insert into %q: index %d out of range", t.name, index)
	}
	tx := newTxn(true, d.client)
	var origin *ID
	if index > 0 {
		id := t.visibleAt(index - 1).id
		origin = &id
	}
	for _, r := range s {
		op := Op{
			Action:    ActionInsert,
			Container: t.name,
			Kind:      KindText,
			ID:        d.nextID(),
			Origin:    origin,
			Value:     string(r),
		}
		t.integrate(op, tx)
		id := op.ID
		origin = &id
	}
	d.commitLocked(tx)
	d.unlockAndDispatch()
	return nil
}

// Delete removes length runes starting at index.
func (t *Text) Delete(index, length int) error {
	d := t.doc
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return apperrors.Newf(apperrors.CodeResourceMisuse, "delete from %q: document is closed", t.name)
	}
	if index < 0 || length < 0 || index+length > t.lenLocked() {
		d.mu.Unlock()
		return apperrors.Newf(apperrors.CodeContractViolation, "delete from %q: range %d+%d out of range", t.name, index, length)
	}
	targets := make([]ID, 0, length)
	for i := 0; i < length; i++ {
		targets = append(targets, t.visibleAt(index+i).id)
	}
	tx := newTxn(true, d.client)
	for _, target := range targets {
		target := target
		t.integrate(Op{
			Action:    ActionDelete,
			Container: t.name,
			Kind:      KindText,
			ID:        d.nextID(),
			Target:    &target,
		}, tx)
	}
	d.commitLocked(tx)
	d.unlockAndDispatch()
	return nil
}

// Observe registers fn for changes to t and returns a function removing it.
func (t *Text) Observe(fn func(TextEvent)) (unobserve func()) {
	t.doc.mu.Lock()
	defer t.doc.mu.Unlock()
	id := t.nextObs
	t.nextObs++
	t.observers[id] = fn
	return func() {
		t.doc.mu.Lock()
		delete(t.observers, id)
		t.doc.mu.Unlock()
	}
}

// Closed reports whether the owning document was destroyed.
func (t *Text) Closed() bool {
	return t.doc.Closed()
}

func (t *Text) deliver(ev TextEvent) {
	t.doc.mu.Lock()
	obs := make([]func(TextEvent), 0, len(t.observers))
	for _, id := range sortedKeys(t.observers) {
		obs = append(obs, t.observers[id])
	}
	t.doc.mu.Unlock()
	for _, fn := range obs {
		fn(ev)
	}
}

func (t *Text) visibleAt(index int) *textItem {
	n := 0
	for _, it := range t.items {
		if it.deleted {
			continue
		}
		if n == index {
			return it
		}
		n++
	}
	return nil
}

func (t *Text) position(id ID) int {
	for i, it := range t.items {
		if it.id == id {
			return i
		}
	}
	return -1
}

func (t *Text) visibleBefore(pos int) int {
	n := 0
	for _, it := range t.items[:pos] {
		if !it.deleted {
			n++
		}
	}
	return n
}

func (t *Text) integrate(op Op, tx *txn) bool {
	switch op.Action {
	case ActionInsert:
		return t.integrateInsert(op, tx)
	case ActionDelete:
		return t.integrateDelete(op, tx)
	}
	return true
}

func (t *Text) integrateInsert(op Op, tx *txn) bool {
	if _, ok := t.index[op.ID]; ok {
		return true
	}
	start := 0
	if op.Origin != nil {
		if _, ok := t.index[*op.Origin]; !ok {
			return false
		}
		start = t.position(*op.Origin) + 1
	}
	pos := start
	for pos < len(t.items) && op.ID.Less(t.items[pos].id) {
		pos++
	}
	it := &textItem{id: op.ID, value: []rune(op.Value)[0]}
	if op.Origin != nil {
		origin := *op.Origin
		it.origin = &origin
	}
	t.items = append(t.items, nil)
	copy(t.items[pos+1:], t.items[pos:])
	t.items[pos] = it
	t.index[op.ID] = it

	tx.applied = append(tx.applied, op)
	tx.textChanged(t, TextChange{Index: t.visibleBefore(pos), Insert: op.Value})
	return true
}

func (t *Text) integrateDelete(op Op, tx *txn) bool {
	it, ok := t.index[*op.Target]
	if !ok {
		return false
	}
	if it.deleted {
		return true
	}
	idx := t.visibleBefore(t.position(it.id))
	it.deleted = true

	tx.applied = append(tx.applied, op)
	tx.textChanged(t, TextChange{Index: idx, Delete: 1})
	return true
}

func (t *Text) state() []Op {
	var ins, del []Op
	for _, it := range t.items {
		ins = append(ins, Op{
			Action:    ActionInsert,
			Container: t.name,
			Kind:      KindText,
			ID:        it.id,
			Origin:    it.origin,
			Value:     string(it.value),
		})
		if it.deleted {
			target := it.id
			del = append(del, Op{
				Action:    ActionDelete,
				Container: t.name,
				Kind:      KindText,
				ID:        it.id,
				Target:    &target,
			})
		}
	}
	return append(ins, del...)
}

// appendChange folds ch into the previous step when they are contiguous.
func appendChange(changes []TextChange, ch TextChange) []TextChange {
	if len(changes) == 0 {
		return append(changes, ch)
	}
	last := &changes[len(changes)-1]
	switch {
	case ch.Insert != "" && last.Insert != "" && last.Delete == 0 &&
		ch.Index == last.Index+len([]rune(last.Insert)):
		last.Insert += ch.Insert
	case ch.Delete > 0 && last.Delete > 0 && last.Insert == "" && ch.Index == last.Index:
		last.Delete += ch.Delete
	case ch.Delete > 0 && last.Delete > 0 && last.Insert == "" && ch.Index == last.Index-1:
		last.Index--
		last.Delete += ch.Delete
	default:
		return append(changes, ch)
	}
	return changes
}
