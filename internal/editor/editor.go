// Package editor binds rich-text editor surfaces to text containers of an
// open session.
//
// Adapters never open or close sessions. They receive a container and a
// presence channel from the caller, mirror edits in both directions, and
// on Dispose let go of both.
package editor

import (
	"collabtext/internal/crdt"
	"collabtext/internal/presence"
)

// Edit is a local change made in a surface. Index is in runes.
type Edit struct {
	Index  int
	Insert string
	Delete int
}

// Surface is the widget side of a binding. ApplyRemote must not report the
// changes it applies back through OnLocalEdit.
type Surface interface {
	ApplyRemote(changes []crdt.TextChange)
	OnLocalEdit(fn func(Edit)) (cancel func())
}

// PeerSurface is a Surface that also draws remote participants, e.g. as
// colored cursors.
type PeerSurface interface {
	Surface
	SetPeers(peers []presence.Peer)
}

// Target is what a caller hands to an adapter.
type Target struct {
	Container crdt.Container
	Presence  *presence.Channel
	Surface   Surface
}

// Adapter binds one kind of editor to a target.
type Adapter interface {
	Bind(t Target) (Binding, error)
}

// Binding is a live adapter binding.
type Binding interface {
	// Dispose detaches from the container and the presence channel. The
	// session stays open.
	Dispose()
}
