package packet

import (
	"encoding/json"
	"fmt"

	"github.com/nfowler/go-realm/internal/realm"
)

// Context carries the realm snapshot and acting user a packet codec needs
// to resolve embedded ids. It is deserialization context, never part of
// the payload, and is passed explicitly on every call.
type Context struct {
	Realm *realm.RealmState
	User  *realm.User
}

// Packet is a tagged, self-applying message. Apply mutates only what it is
// handed; it must not reach into global state and must not block on I/O.
type Packet interface {
	realm.Packet
	Apply(u *realm.User, rs *realm.RealmState) error
	encode(ctx *Context) (any, error)
}

type decodeFunc func(ctx *Context, data json.RawMessage) (Packet, error)

// registry is the single exhaustive table keyed by wire tag. Tags are a
// stable contract: adding a variant is backward compatible, renaming or
// removing one is not.
var registry = map[string]decodeFunc{}

func register(tag string, dec decodeFunc) {
	if _, ok := registry[tag]; ok {
		panic(fmt.Sprintf("packet: duplicate wire tag %q", tag))
	}
	registry[tag] = dec
}

type UnknownTypeError struct {
	Tag string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown packet type %q", e.Tag)
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Marshal serializes p for one recipient. Reference resolution is
// context-sensitive, so outbound packets are serialized per-recipient.
func Marshal(p Packet, ctx *Context) ([]byte, error) {
	payload, err := p.encode(ctx)
	if err != nil {
		return nil, fmt.Errorf("encode %q: %w", p.Type(), err)
	}

	var raw json.RawMessage
	if payload != nil {
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %q payload: %w", p.Type(), err)
		}
	}

	return json.Marshal(envelope{Type: p.Type(), Payload: raw})
}

// Tag reads the wire tag without decoding the payload, for callers that
// must dispatch before they have the context a full decode needs.
func Tag(data []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	return env.Type, nil
}

// Unmarshal decodes a packet, resolving embedded ids against ctx. A
// dangling mandatory reference is a deserialization error, not an
// Apply-time error.
func Unmarshal(data []byte, ctx *Context) (Packet, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	dec, ok := registry[env.Type]
	if !ok {
		return nil, &UnknownTypeError{Tag: env.Type}
	}

	p, err := dec(ctx, env.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", env.Type, err)
	}

	return p, nil
}
