// Package wire defines the messages exchanged between a provider and the
// relay over one websocket connection. Each message is a JSON text frame
// whose Type field selects the payload.
package wire

import (
	"encoding/json"
	"fmt"

	"collabtext/internal/crdt"
	"collabtext/internal/presence"
)

// Type is the kind of a message.
type Type string

const (
	// TypeHello is sent by a client right after connecting.
	TypeHello Type = "hello"
	// TypeSync carries the full room state to a client. Receiving it
	// completes the handshake.
	TypeSync Type = "sync"
	// TypeUpdate carries a document update, in either direction.
	TypeUpdate Type = "update"
	// TypeAwareness carries one participant's presence, in either direction.
	TypeAwareness Type = "awareness"
)

// Message is the envelope of every frame.
type Message struct {
	Type      Type             `json:"type"`
	Client    uint32           `json:"client,omitempty"`
	Name      string           `json:"name,omitempty"`
	Update    *crdt.Update     `json:"update,omitempty"`
	Awareness *presence.Update `json:"awareness,omitempty"`
	// Conn is the relay connection a message entered through. It is set by
	// the relay so that fan-out can skip the sender.
	Conn string `json:"conn,omitempty"`
}

// Hello returns the handshake message of client.
func Hello(client uint32, name string) Message {
	return Message{Type: TypeHello, Client: client, Name: name}
}

// Sync returns the state message for a joining client.
func Sync(u crdt.Update) Message {
	return Message{Type: TypeSync, Update: &u}
}

// UpdateMsg wraps a document update.
func UpdateMsg(client uint32, u crdt.Update) Message {
	return Message{Type: TypeUpdate, Client: client, Update: &u}
}

// AwarenessMsg wraps a presence update.
func AwarenessMsg(u presence.Update) Message {
	return Message{Type: TypeAwareness, Client: u.Client, Awareness: &u}
}

// Encode returns the JSON encoding of m.
func Encode(m Message) ([]byte, error) {
	buf, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return buf, nil
}

// Decode parses and checks a frame.
func Decode(buf []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(buf, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	switch m.Type {
	case TypeHello:
	case TypeSync, TypeUpdate:
		if m.Update == nil {
			return Message{}, fmt.Errorf("decode %s: missing update", m.Type)
		}
		// Re-check ops through the crdt decoder.
		raw, err := json.Marshal(m.Update)
		if err != nil {
			return Message{}, fmt.Errorf("decode %s: %w", m.Type, err)
		}
		u, err := crdt.DecodeUpdate(raw)
		if err != nil {
			return Message{}, fmt.Errorf("decode %s: %w", m.Type, err)
		}
		m.Update = &u
	case TypeAwareness:
		if m.Awareness == nil {
			return Message{}, fmt.Errorf("decode awareness: missing payload")
		}
	default:
		return Message{}, fmt.Errorf("decode message: unknown type %q", m.Type)
	}
	return m, nil
}
