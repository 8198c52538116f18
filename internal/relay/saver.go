package relay

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"collabtext/internal/crdt"
	"collabtext/internal/store"
)

// NonCollabKey is the map container whose values are copied next to the
// saved state.
const NonCollabKey = "non_collab_fields"

// saver batches room updates and writes them to the store once no update
// arrived for delay, or when the room empties.
type saver struct {
	store store.Store
	room  string
	doc   *crdt.Doc
	delay time.Duration

	flushMu sync.Mutex // serializes writes

	mu      sync.Mutex
	timer   *time.Timer
	dirty   bool
	history []store.HistoryEntry
}

func newSaver(s store.Store, room string, doc *crdt.Doc, delay time.Duration) *saver {
	return &saver{store: s, room: room, doc: doc, delay: delay}
}

// mark records u and restarts the debounce timer.
func (sv *saver) mark(u crdt.Update) {
	buf, err := u.Encode()
	if err != nil {
		log.Printf("relay: %s: encode history: %v", sv.room, err)
		return
	}
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.dirty = true
	sv.history = append(sv.history, store.HistoryEntry{
		ID:     uuid.NewString(),
		Room:   sv.room,
		Author: uint32(u.Origin),
		Update: buf,
		Time:   time.Now().UTC(),
	})
	if sv.timer != nil {
		sv.timer.Stop()
	}
	sv.timer = time.AfterFunc(sv.delay, func() {
		if err := sv.flush(context.Background()); err != nil {
			log.Printf("relay: %s: save: %v", sv.room, err)
		}
	})
}

// flush writes pending changes, if any.
func (sv *saver) flush(ctx context.Context) error {
	sv.flushMu.Lock()
	defer sv.flushMu.Unlock()

	sv.mu.Lock()
	if sv.timer != nil {
		sv.timer.Stop()
		sv.timer = nil
	}
	if !sv.dirty {
		sv.mu.Unlock()
		return nil
	}
	history := sv.history
	sv.history = nil
	sv.dirty = false
	sv.mu.Unlock()

	snap, err := snapshot(sv.doc)
	if err != nil {
		return err
	}
	if err := sv.store.Save(ctx, sv.room, snap, history); err != nil {
		// Keep the history for the next attempt.
		sv.mu.Lock()
		sv.dirty = true
		sv.history = append(history, sv.history...)
		sv.mu.Unlock()
		return err
	}
	return nil
}

func snapshot(doc *crdt.Doc) (store.Snapshot, error) {
	state, err := doc.EncodeState().Encode()
	if err != nil {
		return store.Snapshot{}, err
	}
	snap := store.Snapshot{State: state, Fields: map[string]string{}}
	if m, err := doc.Map(NonCollabKey); err == nil {
		for k, v := range m.Snapshot() {
			if !v.IsUnset() {
				snap.Fields[k] = v.Display()
			}
		}
	}
	return snap, nil
}
