package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventName identifies the variant carried by an Envelope.
type EventName string

// Events emitted to clients.
const (
	EventMemberJoined       EventName = "memberJoined"
	EventMemberReconnected  EventName = "memberReconnected"
	EventMemberDisconnected EventName = "memberDisconnected"
	EventExistingMembers    EventName = "existingMembers"
	EventRoomEnded          EventName = "roomEnded"
	EventParticipantLeft    EventName = "participantLeft"
	EventInactiveTimeout    EventName = "inactiveTimeout"
	EventCodeUpdate         EventName = "codeUpdate"
	EventError              EventName = "error"
)

// Events consumed from clients.
const (
	InboundHeartbeat     EventName = "heartbeat"
	InboundExplicitLeave EventName = "explicitLeave"
	InboundCodeUpdate    EventName = "codeUpdate"
)

// Reasons carried by ParticipantLeft.
const (
	ReasonInactivity = "inactivity"
	ReasonDisconnect = "disconnect"
)

// Payload is implemented by every outbound event body.
type Payload interface {
	EventName() EventName
}

type MemberJoined struct {
	MemberID    string `json:"memberId"`
	DisplayName string `json:"displayName"`
}

type MemberReconnected struct {
	MemberID string `json:"memberId"`
}

type MemberDisconnected struct {
	MemberID string `json:"memberId"`
}

type ExistingMembers struct {
	Members []MemberSummary `json:"members"`
}

type RoomEnded struct {
	RoomID string `json:"roomId"`
}

type ParticipantLeft struct {
	RoomID   string `json:"roomId"`
	MemberID string `json:"memberId"`
	Reason   string `json:"reason"`
}

type InactiveTimeout struct {
	RoomID string `json:"roomId"`
}

type CodeUpdate struct {
	MemberID string `json:"memberId"`
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

type ErrorNotice struct {
	Message string `json:"message"`
}

func (MemberJoined) EventName() EventName       { return EventMemberJoined }
func (MemberReconnected) EventName() EventName  { return EventMemberReconnected }
func (MemberDisconnected) EventName() EventName { return EventMemberDisconnected }
func (ExistingMembers) EventName() EventName    { return EventExistingMembers }
func (RoomEnded) EventName() EventName          { return EventRoomEnded }
func (ParticipantLeft) EventName() EventName    { return EventParticipantLeft }
func (InactiveTimeout) EventName() EventName    { return EventInactiveTimeout }
func (CodeUpdate) EventName() EventName         { return EventCodeUpdate }
func (ErrorNotice) EventName() EventName        { return EventError }

// Envelope is the unit travelling through the fan-out bridge.
// Target restricts delivery to one member; Exclude skips one member.
type Envelope struct {
	Event   EventName       `json:"event"`
	RoomID  string          `json:"roomId"`
	Target  string          `json:"target,omitempty"`
	Exclude string          `json:"exclude,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope builds a room broadcast for p.
func NewEnvelope(roomID string, p Payload) (Envelope, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", p.EventName(), err)
	}
	return Envelope{Event: p.EventName(), RoomID: roomID, Payload: raw}, nil
}

// ToMember restricts the envelope to a single member.
func (e Envelope) ToMember(memberID string) Envelope {
	e.Target = memberID
	return e
}

// Excluding skips memberID when delivering.
func (e Envelope) Excluding(memberID string) Envelope {
	e.Exclude = memberID
	return e
}

// DeliverableTo reports whether a socket owned by memberID should receive e.
func (e Envelope) DeliverableTo(memberID string) bool {
	if e.Target != "" {
		return e.Target == memberID
	}
	return e.Exclude == "" || e.Exclude != memberID
}

// ClientFrame is what a socket actually receives.
type ClientFrame struct {
	Event   EventName       `json:"event"`
	RoomID  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload"`
}

// Frame strips routing fields before the envelope is written to a socket.
func (e Envelope) Frame() ([]byte, error) {
	return json.Marshal(ClientFrame{Event: e.Event, RoomID: e.RoomID, Payload: e.Payload})
}

// DecodePayload unmarshals the envelope body into out.
func (e Envelope) DecodePayload(out Payload) error {
	if out.EventName() != e.Event {
		return fmt.Errorf("envelope carries %s, not %s", e.Event, out.EventName())
	}
	return json.Unmarshal(e.Payload, out)
}

// --- inbound ---

// ErrInvalidInbound is returned for frames that fail boundary validation.
var ErrInvalidInbound = errors.New("invalid inbound event")

// MaxCodeSize bounds the size of a relayed document update.
const MaxCodeSize = 256 * 1024

// Inbound is a validated client event.
type Inbound struct {
	Event EventName
	// Code is only set for codeUpdate.
	Code     string
	Language string
}

type inboundFrame struct {
	Event   EventName       `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type codeUpdateBody struct {
	Code     *string `json:"code"`
	Language string  `json:"language"`
}

// ParseInbound decodes and validates a raw client frame.
func ParseInbound(raw []byte) (Inbound, error) {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrInvalidInbound, err)
	}
	switch f.Event {
	case InboundHeartbeat, InboundExplicitLeave:
		return Inbound{Event: f.Event}, nil
	case InboundCodeUpdate:
		var body codeUpdateBody
		if len(f.Payload) == 0 {
			return Inbound{}, fmt.Errorf("%w: codeUpdate without payload", ErrInvalidInbound)
		}
		if err := json.Unmarshal(f.Payload, &body); err != nil {
			return Inbound{}, fmt.Errorf("%w: %v", ErrInvalidInbound, err)
		}
		if body.Code == nil {
			return Inbound{}, fmt.Errorf("%w: codeUpdate without code", ErrInvalidInbound)
		}
		if len(*body.Code) > MaxCodeSize {
			return Inbound{}, fmt.Errorf("%w: code exceeds %d bytes", ErrInvalidInbound, MaxCodeSize)
		}
		return Inbound{Event: f.Event, Code: *body.Code, Language: strings.TrimSpace(body.Language)}, nil
	case "":
		return Inbound{}, fmt.Errorf("%w: missing event name", ErrInvalidInbound)
	default:
		return Inbound{}, fmt.Errorf("%w: unknown event %q", ErrInvalidInbound, f.Event)
	}
}
