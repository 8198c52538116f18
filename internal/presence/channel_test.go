package presence

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	apperrors "collabtext/internal/platform/errors"
)

func TestSetLocalUser(t *testing.T) {
	c := NewChannel(7)
	var changes []Change
	c.Observe(func(ch Change) { changes = append(changes, ch) })

	if err := c.SetLocalUser(NewRecord(7, "ada")); err != nil {
		t.Fatalf("set local user: %v", err)
	}

	u, ok := c.LocalUpdate()
	if !ok {
		t.Fatal("expected local update")
	}
	want := Record{Name: "ada", Color: ColorFor(7)}
	if diff := cmp.Diff(want, *u.State.User); diff != "" {
		t.Fatalf("local user mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Change{{Added: []uint32{7}, Local: true}}, changes); diff != "" {
		t.Fatalf("changes mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyRemote(t *testing.T) {
	c := NewChannel(1)
	var changes []Change
	c.Observe(func(ch Change) { changes = append(changes, ch) })

	bob := NewRecord(2, "bob")
	c.Apply(Update{Client: 2, Clock: 1, State: &State{User: &bob}})
	c.Apply(Update{Client: 2, Clock: 2, State: &State{User: &bob}})
	// stale
	c.Apply(Update{Client: 2, Clock: 1, State: &State{}})
	// about ourselves
	c.Apply(Update{Client: 1, Clock: 9, State: &State{}})
	c.Apply(Update{Client: 2, Clock: 3})

	want := []Change{
		{Added: []uint32{2}},
		{Updated: []uint32{2}},
		{Removed: []uint32{2}},
	}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Fatalf("changes mismatch (-want +got):\n%s", diff)
	}
	if len(c.Peers()) != 0 {
		t.Fatalf("expected no peers, got %v", c.Peers())
	}
}

func TestPeersAndRemoveRemotes(t *testing.T) {
	c := NewChannel(1)
	if err := c.SetLocalUser(NewRecord(1, "me")); err != nil {
		t.Fatalf("set local user: %v", err)
	}
	for _, id := range []uint32{5, 3} {
		r := NewRecord(id, "peer")
		c.Apply(Update{Client: id, Clock: 1, State: &State{User: &r}})
	}

	peers := c.Peers()
	if len(peers) != 2 || peers[0].Client != 3 || peers[1].Client != 5 {
		t.Fatalf("unexpected peers %+v", peers)
	}

	var removed []uint32
	c.Observe(func(ch Change) { removed = append(removed, ch.Removed...) })
	c.RemoveRemotes()
	if diff := cmp.Diff([]uint32{3, 5}, removed); diff != "" {
		t.Fatalf("removed mismatch (-want +got):\n%s", diff)
	}
	if _, ok := c.LocalUser(); !ok {
		t.Fatal("expected local user to survive RemoveRemotes")
	}
}

func TestClosedChannel(t *testing.T) {
	c := NewChannel(1)
	called := false
	c.Observe(func(Change) { called = true })
	c.Close()
	c.Close()

	err := c.SetLocalUser(NewRecord(1, "late"))
	if !errors.Is(err, apperrors.ErrResourceMisuse) {
		t.Fatalf("expected resource misuse, got %v", err)
	}
	r := NewRecord(2, "x")
	c.Apply(Update{Client: 2, Clock: 1, State: &State{User: &r}})
	if called {
		t.Fatal("observer called after close")
	}
}

func TestRemove(t *testing.T) {
	c := NewChannel(1)
	bob := NewRecord(2, "bob")
	eve := NewRecord(3, "eve")
	c.Apply(Update{Client: 2, Clock: 4, State: &State{User: &bob}})
	c.Apply(Update{Client: 3, Clock: 1, State: &State{User: &eve}})

	c.Remove(2)
	c.Remove(1)

	want := []Peer{{Client: 3, User: eve}}
	if diff := cmp.Diff(want, c.Peers()); diff != "" {
		t.Fatalf("peers mismatch (-want +got):\n%s", diff)
	}
}
