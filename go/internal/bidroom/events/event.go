package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownType is returned when an envelope names an event type this package does not define
var ErrUnknownType = errors.New("unknown event type")

// Event is the envelope delivered to subscribers.
// Seq is the room-scoped position of a broadcast; unicast events carry the sequence number of the
// last broadcast the room emitted before them (zero for events sent outside a room).
type Event struct {
	ID        string
	RoomID    string
	Seq       uint64
	Timestamp time.Time
	Payload   Payload
}

// New builds an event with a fresh id
func New(roomID string, seq uint64, at time.Time, payload Payload) Event {
	return Event{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Seq:       seq,
		Timestamp: at,
		Payload:   payload,
	}
}

// Type returns the kind of the payload
func (e Event) Type() Type {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Type()
}

type envelope struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"roomId"`
	Seq       uint64          `json:"seq"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// MarshalJSON encodes the event as {id, roomId, seq, type, timestamp, data}
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, errors.New("event has no payload")
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Payload.Type(), err)
	}
	return json.Marshal(envelope{
		ID:        e.ID,
		RoomID:    e.RoomID,
		Seq:       e.Seq,
		Type:      e.Payload.Type(),
		Timestamp: e.Timestamp,
		Data:      data,
	})
}

// UnmarshalJSON decodes an envelope and its typed payload
func (e *Event) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("unmarshal event envelope: %w", err)
	}
	payload, err := ParsePayload(env.Type, env.Data)
	if err != nil {
		return err
	}
	*e = Event{
		ID:        env.ID,
		RoomID:    env.RoomID,
		Seq:       env.Seq,
		Timestamp: env.Timestamp,
		Payload:   payload,
	}
	return nil
}

// ParsePayload parses event data into the payload struct for the given type
func ParsePayload(t Type, data []byte) (Payload, error) {
	switch t {
	case TypeRoomState:
		return decode[RoomStatePayload](t, data)
	case TypeBiddingStarted:
		return decode[BiddingStartedPayload](t, data)
	case TypeBidUpdate:
		return decode[BidUpdatePayload](t, data)
	case TypeTimerUpdate:
		return decode[TimerUpdatePayload](t, data)
	case TypeParticipantUpdate:
		return decode[ParticipantUpdatePayload](t, data)
	case TypeBiddingCompleted:
		return decode[BiddingCompletedPayload](t, data)
	case TypeBidRejected:
		return decode[BidRejectedPayload](t, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

func decode[P Payload](t Type, data []byte) (Payload, error) {
	var p P
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", t, err)
	}
	return p, nil
}
