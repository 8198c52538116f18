package wire

import (
	"strings"
	"testing"

	"collabtext/internal/crdt"
	"collabtext/internal/presence"
)

func TestDecodeUpdate(t *testing.T) {
	v := crdt.String("x")
	msg := UpdateMsg(3, crdt.Update{Origin: 3, Ops: []crdt.Op{{
		Action: crdt.ActionSet, Container: "f", Kind: crdt.KindMap,
		ID: crdt.ID{Clock: 1, Client: 3}, Key: "name", Scalar: &v,
	}}})
	buf, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != TypeUpdate || got.Client != 3 || len(got.Update.Ops) != 1 {
		t.Fatalf("unexpected message %+v", got)
	}
}

func TestDecodeAwarenessLeave(t *testing.T) {
	buf, err := Encode(AwarenessMsg(presence.Update{Client: 4, Clock: 2}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Awareness.State != nil || got.Awareness.Client != 4 {
		t.Fatalf("unexpected awareness %+v", got.Awareness)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := map[string]string{
		"json":      `{`,
		"type":      `{"type":"bogus"}`,
		"sync":      `{"type":"sync"}`,
		"awareness": `{"type":"awareness"}`,
		"bad op":    `{"type":"update","update":{"ops":[{"action":"ins","kind":"text","value":""}]}}`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(in))
			if err == nil || !strings.HasPrefix(err.Error(), "decode") {
				t.Fatalf("expected decode error, got %v", err)
			}
		})
	}
}
