package crdt

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	apperrors "collabtext/internal/platform/errors"
)

// capture records every local update of d.
func capture(d *Doc) *[]Update {
	var ups []Update
	d.OnUpdate(func(u Update, local bool) {
		if local {
			ups = append(ups, u)
		}
	})
	return &ups
}

func mustText(t *testing.T, d *Doc, name string) *Text {
	t.Helper()
	txt, err := d.Text(name)
	if err != nil {
		t.Fatalf("text %q: %v", name, err)
	}
	return txt
}

func mustMap(t *testing.T, d *Doc, name string) *Map {
	t.Helper()
	m, err := d.Map(name)
	if err != nil {
		t.Fatalf("map %q: %v", name, err)
	}
	return m
}

func applyAll(t *testing.T, d *Doc, ups []Update) {
	t.Helper()
	for _, u := range ups {
		if err := d.ApplyUpdate(u); err != nil {
			t.Fatalf("apply update: %v", err)
		}
	}
}

func TestGetIsIdempotent(t *testing.T) {
	d := NewDoc(1)
	a, err := d.Get("title", KindText)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, err := d.Get("title", KindText)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a != b {
		t.Fatal("expected the same container for repeated access")
	}
}

func TestGetKindMismatch(t *testing.T) {
	d := NewDoc(1)
	if _, err := d.Get("title", KindText); err != nil {
		t.Fatalf("get: %v", err)
	}
	_, err := d.Get("title", KindMap)
	if !errors.Is(err, apperrors.ErrContractViolation) {
		t.Fatalf("expected contract violation, got %v", err)
	}
	_, err = d.Get("other", Kind("tree"))
	if !errors.Is(err, apperrors.ErrContractViolation) {
		t.Fatalf("expected contract violation for unknown kind, got %v", err)
	}
}

func TestRemoteKindConflictIsDropped(t *testing.T) {
	a := NewDoc(1)
	ups := capture(a)
	if err := mustText(t, a, "x").Insert(0, "hi"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	b := NewDoc(2)
	mustMap(t, b, "x")
	applyAll(t, b, *ups)
	if got := b.Names(); !cmp.Equal(got, []string{"x"}) {
		t.Fatalf("names = %v", got)
	}
	if _, err := b.Text("x"); !errors.Is(err, apperrors.ErrContractViolation) {
		t.Fatalf("expected x to stay a map, got %v", err)
	}
}

func TestEncodeStateReproducesDocument(t *testing.T) {
	a := NewDoc(1)
	body := mustText(t, a, "body")
	fields := mustMap(t, a, "non_collab_fields")
	if err := body.Insert(0, "hello world"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := body.Delete(5, 6); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := fields.Set("score", Int(7)); err != nil {
		t.Fatalf("set: %v", err)
	}

	buf, err := a.EncodeState().Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	u, err := DecodeUpdate(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	b := NewDoc(2)
	applyAll(t, b, []Update{u})
	if got := mustText(t, b, "body").String(); got != "hello" {
		t.Fatalf("body = %q, want hello", got)
	}
	if got := mustMap(t, b, "non_collab_fields").Get("score"); got != Int(7) {
		t.Fatalf("score = %+v", got)
	}

	// Applying the state twice changes nothing.
	var events int
	mustText(t, b, "body").Observe(func(TextEvent) { events++ })
	applyAll(t, b, []Update{u})
	if events != 0 {
		t.Fatalf("expected no events from a duplicate state, got %d", events)
	}
}

func TestObserverMayMutate(t *testing.T) {
	d := NewDoc(1)
	m := mustMap(t, d, "fields")
	log := mustText(t, d, "log")

	m.Observe(func(ev MapEvent) {
		if ev.Changed("name") {
			if err := log.Insert(log.Len(), "!"); err != nil {
				t.Errorf("insert from observer: %v", err)
			}
		}
	})
	var order []string
	log.Observe(func(TextEvent) { order = append(order, "log") })
	m.Observe(func(MapEvent) { order = append(order, "map") })

	if err := m.Set("name", String("x")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := log.String(); got != "!" {
		t.Fatalf("log = %q", got)
	}
	if diff := cmp.Diff([]string{"map", "log"}, order); diff != "" {
		t.Fatalf("delivery order mismatch (-want +got):\n%s", diff)
	}
}

func TestDestroy(t *testing.T) {
	d := NewDoc(1)
	txt := mustText(t, d, "body")
	m := mustMap(t, d, "fields")
	called := false
	txt.Observe(func(TextEvent) { called = true })

	d.Destroy()
	d.Destroy()

	if err := txt.Insert(0, "x"); !errors.Is(err, apperrors.ErrResourceMisuse) {
		t.Fatalf("insert after destroy: %v", err)
	}
	if err := m.Set("k", String("v")); !errors.Is(err, apperrors.ErrResourceMisuse) {
		t.Fatalf("set after destroy: %v", err)
	}
	if _, err := d.Get("body", KindText); !errors.Is(err, apperrors.ErrResourceMisuse) {
		t.Fatalf("get after destroy: %v", err)
	}
	if err := d.ApplyUpdate(Update{}); !errors.Is(err, apperrors.ErrResourceMisuse) {
		t.Fatalf("apply after destroy: %v", err)
	}
	if called || !m.Closed() {
		t.Fatalf("called=%v closed=%v", called, m.Closed())
	}
}

func TestDecodeUpdateRejectsMalformed(t *testing.T) {
	tests := []string{
		`{"ops":[{"action":"ins","container":"a","kind":"text","value":"ab"}]}`,
		`{"ops":[{"action":"del","container":"a","kind":"text"}]}`,
		`{"ops":[{"action":"set","container":"a","kind":"map","key":"k"}]}`,
		`{"ops":[{"action":"set","container":"a","kind":"tree"}]}`,
		`{"ops":[{"action":"move","container":"a","kind":"text"}]}`,
		`not json`,
	}
	for _, in := range tests {
		if _, err := DecodeUpdate([]byte(in)); err == nil {
			t.Fatalf("expected error for %s", in)
		}
	}
}
