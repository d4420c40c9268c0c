// Package protocol defines the messages, endpoint kinds and wire encodings shared
// by trigger apps and responders.
package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action is the tag carried by every panic message.
type Action string

const (
	ActionConnect    Action = "panic.action.CONNECT"
	ActionDisconnect Action = "panic.action.DISCONNECT"
	ActionTrigger    Action = "panic.action.TRIGGER"
)

// Reserved partner names. Both mean "no connected partner".
const (
	PartnerNone    = "NONE"
	PartnerDefault = "DEFAULT"
)

var (
	// ErrInvalidAction is returned when a message does not carry the action an
	// operation requires. It is a caller error and never silently corrected.
	ErrInvalidAction = errors.New("invalid action")
	// ErrEndpointNotFound means the target component could not be resolved at
	// delivery time.
	ErrEndpointNotFound = errors.New("endpoint not found")
	// ErrPermissionDenied means the host refused delivery to the target.
	ErrPermissionDenied = errors.New("permission denied")
)

// Valid reports whether a is one of the three protocol actions.
func (a Action) Valid() bool {
	switch a {
	case ActionConnect, ActionDisconnect, ActionTrigger:
		return true
	}
	return false
}

// ParseAction accepts either the full tag or its short name ("connect",
// "disconnect", "trigger").
func ParseAction(raw string) (Action, error) {
	trimmed := strings.TrimSpace(raw)
	if a := Action(trimmed); a.Valid() {
		return a, nil
	}
	switch strings.ToLower(trimmed) {
	case "connect":
		return ActionConnect, nil
	case "disconnect":
		return ActionDisconnect, nil
	case "trigger":
		return ActionTrigger, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, raw)
}

// Message is a single CONNECT, DISCONNECT or TRIGGER message.
type Message struct {
	ID     uuid.UUID `json:"id" cbor:"id"`
	Action Action    `json:"action" cbor:"action"`
	// TargetPackage optionally restricts delivery to one responder.
	TargetPackage string `json:"target_package,omitempty" cbor:"target_package,omitempty"`
	// Payload is only meaningful on TRIGGER, e.g. a distress message.
	Payload   map[string]string `json:"payload,omitempty" cbor:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at" cbor:"created_at"`
}

// NewMessage creates a message with a fresh ID.
func NewMessage(action Action) *Message {
	return &Message{
		ID:        uuid.New(),
		Action:    action,
		CreatedAt: time.Now().UTC(),
	}
}

// NewTriggerMessage creates a TRIGGER message carrying payload.
func NewTriggerMessage(payload map[string]string) *Message {
	msg := NewMessage(ActionTrigger)
	if len(payload) > 0 {
		msg.Payload = make(map[string]string, len(payload))
		for k, v := range payload {
			msg.Payload[k] = v
		}
	}
	return msg
}

// Validate checks the action tag and that only TRIGGER carries a payload.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: message is nil", ErrInvalidAction)
	}
	if !m.Action.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, m.Action)
	}
	if m.Action != ActionTrigger && len(m.Payload) > 0 {
		return fmt.Errorf("%w: payload is only allowed on %s", ErrInvalidAction, ActionTrigger)
	}
	return nil
}

// ForTarget returns a copy of m addressed to a single responder.
func (m *Message) ForTarget(id string) *Message {
	c := *m
	c.TargetPackage = id
	if m.Payload != nil {
		c.Payload = make(map[string]string, len(m.Payload))
		for k, v := range m.Payload {
			c.Payload[k] = v
		}
	}
	return &c
}

// IsTriggerMessage reports whether msg is a TRIGGER message. It has no side effects.
func IsTriggerMessage(msg *Message) bool {
	return msg != nil && msg.Action == ActionTrigger
}

// IsNoPartner reports whether id names no partner at all.
func IsNoPartner(id string) bool {
	return id == "" || id == PartnerNone || id == PartnerDefault
}
