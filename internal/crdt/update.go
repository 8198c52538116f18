package crdt

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ClientID identifies the replica that created an operation.
type ClientID uint32

// ID is a globally unique identifier for an operation, combining a Lamport
// clock and the id of the replica that created it.
type ID struct {
	Clock  uint64   `json:"clock"`
	Client ClientID `json:"client"`
}

// Less orders ids by clock, then by client.
func (a ID) Less(b ID) bool {
	if a.Clock != b.Clock {
		return a.Clock < b.Clock
	}
	return a.Client < b.Client
}

func (a ID) String() string {
	return fmt.Sprintf("%d@%d", a.Clock, a.Client)
}

// Kind is the declared type of a container.
type Kind string

const (
	KindText Kind = "text"
	KindMap  Kind = "map"
)

// Valid reports whether k names a known container kind.
func (k Kind) Valid() bool {
	return k == KindText || k == KindMap
}

// Action is the operation an Op performs.
type Action string

const (
	ActionInsert Action = "ins" // insert one rune into a text
	ActionDelete Action = "del" // tombstone one rune of a text
	ActionSet    Action = "set" // assign a map key
)

// Op is a single replicated operation against one container.
type Op struct {
	Action    Action     `json:"action"`
	Container string     `json:"container"`
	Kind      Kind       `json:"kind"`
	ID        ID         `json:"id"`
	Origin    *ID        `json:"origin,omitempty"`  // ins: left neighbour, nil for the start
	Value     string     `json:"value,omitempty"`   // ins
	Target    *ID        `json:"target,omitempty"`  // del
	Key       string     `json:"key,omitempty"`     // set
	Scalar    *Scalar    `json:"scalar,omitempty"`  // set
	KeyKind   ScalarKind `json:"keyKind,omitempty"` // set: kind of the key, kept across an unset
}

// Update is a batch of operations applied atomically, as sent over the network.
type Update struct {
	Origin ClientID `json:"origin"`
	Ops    []Op     `json:"ops"`
}

// Empty reports whether u carries no operations.
func (u Update) Empty() bool {
	return len(u.Ops) == 0
}

// Encode returns the JSON encoding of u.
func (u Update) Encode() ([]byte, error) {
	return json.Marshal(u)
}

// DecodeUpdate parses an encoded update and checks its operations are well
// formed.
func DecodeUpdate(buf []byte) (Update, error) {
	var u Update
	if err := json.Unmarshal(buf, &u); err != nil {
		return Update{}, fmt.Errorf("decode update: %w", err)
	}
	for i, op := range u.Ops {
		if err := op.validate(); err != nil {
			return Update{}, fmt.Errorf("decode update: op %d: %w", i, err)
		}
	}
	return u, nil
}

func (op Op) validate() error {
	if !op.Kind.Valid() {
		return fmt.Errorf("unknown container kind %q", op.Kind)
	}
	switch op.Action {
	case ActionInsert:
		if op.Kind != KindText || len([]rune(op.Value)) != 1 {
			return fmt.Errorf("malformed insert %s", op.ID)
		}
	case ActionDelete:
		if op.Kind != KindText || op.Target == nil {
			return fmt.Errorf("malformed delete %s", op.ID)
		}
	case ActionSet:
		if op.Kind != KindMap || op.Scalar == nil {
			return fmt.Errorf("malformed set %s", op.ID)
		}
	default:
		return fmt.Errorf("unknown action %q", op.Action)
	}
	return nil
}

// ScalarKind is the type of a map value.
type ScalarKind string

const (
	ScalarUnset  ScalarKind = "unset"
	ScalarString ScalarKind = "string"
	ScalarInt    ScalarKind = "int"
)

// Scalar is a plain map value: a string, an integer, or unset.
type Scalar struct {
	Kind ScalarKind `json:"kind"`
	Str  string     `json:"str,omitempty"`
	Int  int64      `json:"int,omitempty"`
}

// String returns a string scalar.
func String(s string) Scalar { return Scalar{Kind: ScalarString, Str: s} }

// Int returns an integer scalar.
func Int(i int64) Scalar { return Scalar{Kind: ScalarInt, Int: i} }

// Unset returns the unset scalar.
func Unset() Scalar { return Scalar{Kind: ScalarUnset} }

// IsUnset reports whether s holds no value. The zero Scalar is unset.
func (s Scalar) IsUnset() bool {
	return s.Kind == ScalarUnset || s.Kind == ""
}

// Display renders s for a plain input control; unset renders empty.
func (s Scalar) Display() string {
	switch s.Kind {
	case ScalarString:
		return s.Str
	case ScalarInt:
		return strconv.FormatInt(s.Int, 10)
	default:
		return ""
	}
}

func (s Scalar) normalized() Scalar {
	if s.IsUnset() {
		return Unset()
	}
	return s
}
