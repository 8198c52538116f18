package crdt

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	apperrors "collabtext/internal/platform/errors"
)

func TestMapMissingKeyIsUnset(t *testing.T) {
	m := mustMap(t, NewDoc(1), "fields")
	if got := m.Get("score"); !got.IsUnset() || got.Display() != "" {
		t.Fatalf("missing key = %+v", got)
	}
	if m.Has("score") {
		t.Fatal("expected Has to be false")
	}
}

func TestMapKindIsFixedPerKey(t *testing.T) {
	m := mustMap(t, NewDoc(1), "fields")
	if err := m.Set("score", Int(3)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := m.Set("score", String("three")); !errors.Is(err, apperrors.ErrContractViolation) {
		t.Fatalf("expected contract violation, got %v", err)
	}
	if err := m.Unset("score"); err != nil {
		t.Fatalf("unset: %v", err)
	}
	if err := m.Set("score", String("three")); !errors.Is(err, apperrors.ErrContractViolation) {
		t.Fatalf("expected kind to survive unset, got %v", err)
	}
	if err := m.Set("score", Int(4)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := m.Get("score").Display(); got != "4" {
		t.Fatalf("score = %q", got)
	}
}

func TestMapLastWriterWins(t *testing.T) {
	a, b := NewDoc(1), NewDoc(2)
	aUps, bUps := capture(a), capture(b)
	ma, mb := mustMap(t, a, "fields"), mustMap(t, b, "fields")

	if err := ma.Set("name", String("from a")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := mb.Set("name", String("from b")); err != nil {
		t.Fatalf("set: %v", err)
	}
	applyAll(t, a, *bUps)
	applyAll(t, b, *aUps)

	// Same clock, higher client wins.
	if ga, gb := ma.Get("name"), mb.Get("name"); ga != gb || ga != String("from b") {
		t.Fatalf("a=%+v b=%+v", ga, gb)
	}

	// A later write after observing the other wins everywhere.
	if err := ma.Set("name", String("again a")); err != nil {
		t.Fatalf("set: %v", err)
	}
	applyAll(t, b, (*aUps)[1:])
	if got := mb.Get("name"); got != String("again a") {
		t.Fatalf("b = %+v", got)
	}
}

func TestMapConcurrentKindsConverge(t *testing.T) {
	a, b := NewDoc(1), NewDoc(2)
	aUps, bUps := capture(a), capture(b)
	ma, mb := mustMap(t, a, "fields"), mustMap(t, b, "fields")

	if err := ma.Set("age", Int(3)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := mb.Set("age", String("old")); err != nil {
		t.Fatalf("set: %v", err)
	}
	applyAll(t, a, *bUps)
	applyAll(t, b, *aUps)

	for name, m := range map[string]*Map{"a": ma, "b": mb} {
		if got := m.Get("age"); got != String("old") {
			t.Fatalf("%s: age = %+v", name, got)
		}
		if err := m.Set("age", Int(5)); !errors.Is(err, apperrors.ErrContractViolation) {
			t.Fatalf("%s: int on a string key: %v", name, err)
		}
		if err := m.Set("age", String("older")); err != nil {
			t.Fatalf("%s: set: %v", name, err)
		}
	}
}

func TestMapKindSurvivesUnsetInState(t *testing.T) {
	a := NewDoc(1)
	ma := mustMap(t, a, "fields")
	if err := ma.Set("score", Int(1)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := ma.Unset("score"); err != nil {
		t.Fatalf("unset: %v", err)
	}

	b := NewDoc(2)
	if err := b.ApplyUpdate(a.EncodeState()); err != nil {
		t.Fatalf("apply state: %v", err)
	}
	mb := mustMap(t, b, "fields")
	if err := mb.Set("score", String("one")); !errors.Is(err, apperrors.ErrContractViolation) {
		t.Fatalf("expected kind to reach the late joiner, got %v", err)
	}
}

func TestMapEvents(t *testing.T) {
	d := NewDoc(1)
	m := mustMap(t, d, "fields")
	var keys [][]string
	m.Observe(func(ev MapEvent) {
		var ks []string
		for k := range ev.Keys {
			ks = append(ks, k)
		}
		keys = append(keys, ks)
		if !ev.Local {
			t.Errorf("expected local event")
		}
	})
	if err := m.Set("name", String("x")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if diff := cmp.Diff([][]string{{"name"}}, keys); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]Scalar{"name": String("x")}, m.Snapshot()); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestScalarDisplay(t *testing.T) {
	tests := []struct {
		in   Scalar
		want string
	}{
		{in: Scalar{}, want: ""},
		{in: Unset(), want: ""},
		{in: String("abc"), want: "abc"},
		{in: Int(-12), want: "-12"},
		{in: Int(0), want: "0"},
	}
	for _, tt := range tests {
		if got := tt.in.Display(); got != tt.want {
			t.Fatalf("Display(%+v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
