package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/clinforge/relay/backend/internal/entities"
)

// Action enumerates the mutations a ChangeEvent can describe.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// ChangeEvent is the ephemeral envelope produced once per committed
// mutation. It is never persisted; delivery is best-effort, at most once
// per currently connected client.
type ChangeEvent struct {
	Kind     entities.Kind
	EntityID uint
	Action   Action
	Topic    string
	Payload  any
}

// MessageType renders the wire type discriminator, e.g. "study_created".
func (e ChangeEvent) MessageType() string {
	return fmt.Sprintf("%s_%s", e.Kind, e.Action)
}

type eventEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Marshal serializes the outbound wire form of the event.
func (e ChangeEvent) Marshal() ([]byte, error) {
	return json.Marshal(eventEnvelope{Type: e.MessageType(), Data: e.Payload})
}

// InboundMessage is the application-level frame clients send.
type InboundMessage struct {
	Action string `json:"action"`
}

// InboundActionPing is the only inbound application action; it refreshes
// the connection's liveness and is acknowledged with a pong.
const InboundActionPing = "ping"

// PongMessage is the serialized pong acknowledgment.
func PongMessage() []byte {
	return []byte(`{"type":"pong"}`)
}
