// Package relay implements the stateless broadcast intermediary and its
// client. The relay keeps no history and acknowledges nothing: a publish is
// reflected to every current room member, including the publisher, and a
// peer that is disconnected at that moment simply never sees it. That
// best-effort contract is deliberate and callers must not assume more.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/digikhet/negotiation/internal/negotiation"
)

// DefaultRoom is the single fixed broadcast group all peers join.
const DefaultRoom = "negotiations"

// Kind is the closed set of relay message kinds.
type Kind string

const (
	// KindChanged is the coarse "re-read everything" signal.
	KindChanged Kind = "changed"
	// KindUpsert is the detailed "merge this exact record" signal.
	KindUpsert Kind = "upsert"
)

// ErrUnknownKind indicates a message kind outside the contract.
var ErrUnknownKind = errors.New("relay: unknown message kind")

// Message is one relay event. Exactly one payload shape applies per kind:
// changed carries TS, upsert carries Item.
type Message struct {
	Kind Kind
	TS   int64
	Item *negotiation.Record
}

// NewChanged builds a coarse refresh message.
func NewChanged(ts int64) Message {
	return Message{Kind: KindChanged, TS: ts}
}

// NewUpsert builds a detailed merge message.
func NewUpsert(record negotiation.Record) Message {
	return Message{Kind: KindUpsert, Item: &record}
}

type changedPayload struct {
	TS int64 `json:"ts"`
}

type upsertPayload struct {
	Item *negotiation.Record `json:"item"`
}

// EncodePayload serializes the kind-specific payload for the wire.
func (m Message) EncodePayload() ([]byte, error) {
	switch m.Kind {
	case KindChanged:
		return json.Marshal(changedPayload{TS: m.TS})
	case KindUpsert:
		return json.Marshal(upsertPayload{Item: m.Item})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
}

// DecodeMessage parses a wire event into a Message. Kinds outside the
// contract are rejected so receivers can drop them.
func DecodeMessage(kind string, payload []byte) (Message, error) {
	switch Kind(kind) {
	case KindChanged:
		var body changedPayload
		if err := json.Unmarshal(payload, &body); err != nil {
			return Message{}, err
		}
		return Message{Kind: KindChanged, TS: body.TS}, nil
	case KindUpsert:
		var body upsertPayload
		if err := json.Unmarshal(payload, &body); err != nil {
			return Message{}, err
		}
		if body.Item == nil {
			return Message{}, errors.New("relay: upsert payload missing item")
		}
		return Message{Kind: KindUpsert, Item: body.Item}, nil
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
