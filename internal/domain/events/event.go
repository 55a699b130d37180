package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mwork/social-realtime/internal/domain/user"
)

// Kind is the outbound event type carried in the envelope
type Kind string

const (
	KindRequestReceived  Kind = "request:received"
	KindRequestAccepted  Kind = "request:accepted"
	KindRequestDeclined  Kind = "request:declined"
	KindRequestCancelled Kind = "request:cancelled"
	KindRelationRemoved  Kind = "relation:removed"
	KindBlocked          Kind = "blocked"
	KindUnblocked        Kind = "unblocked"
	KindPresenceOnline   Kind = "presence:online"
	KindPresenceOffline  Kind = "presence:offline"
)

var ErrUnknownKind = errors.New("unknown event kind")

// Event is the closed set of payloads a client can receive
type Event interface {
	Kind() Kind
	sealed()
}

// RequestReceived goes to the recipient of a new request
type RequestReceived struct {
	RequestID uuid.UUID    `json:"request_id"`
	From      user.Summary `json:"from"`
	To        user.Summary `json:"to"`
	Status    string       `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
}

// RequestAccepted goes to both sides; Friend is always the counterpart of UserID
type RequestAccepted struct {
	RequestID uuid.UUID    `json:"request_id"`
	UserID    uuid.UUID    `json:"user_id"`
	FriendID  uuid.UUID    `json:"friend_id"`
	Friend    user.Summary `json:"friend"`
	Timestamp time.Time    `json:"timestamp"`
}

// RequestDeclined goes to the requester
type RequestDeclined struct {
	RequestID uuid.UUID `json:"request_id"`
	UserID    uuid.UUID `json:"user_id"`
	FriendID  uuid.UUID `json:"friend_id"`
	Timestamp time.Time `json:"timestamp"`
}

// RequestCancelled goes to the recipient of a withdrawn request
type RequestCancelled struct {
	RequestID uuid.UUID `json:"request_id"`
	UserID    uuid.UUID `json:"user_id"`
	FriendID  uuid.UUID `json:"friend_id"`
	Timestamp time.Time `json:"timestamp"`
}

// RelationRemoved goes to both former friends
type RelationRemoved struct {
	UserID    uuid.UUID `json:"user_id"`
	FriendID  uuid.UUID `json:"friend_id"`
	Timestamp time.Time `json:"timestamp"`
}

type Blocked struct {
	BlockerID uuid.UUID `json:"blocker_id"`
	BlockedID uuid.UUID `json:"blocked_id"`
	Timestamp time.Time `json:"timestamp"`
}

type Unblocked struct {
	BlockerID uuid.UUID `json:"blocker_id"`
	BlockedID uuid.UUID `json:"blocked_id"`
	Timestamp time.Time `json:"timestamp"`
}

type PresenceOnline struct {
	UserID    uuid.UUID `json:"user_id"`
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}

type PresenceOffline struct {
	UserID   uuid.UUID `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

func (RequestReceived) Kind() Kind  { return KindRequestReceived }
func (RequestAccepted) Kind() Kind  { return KindRequestAccepted }
func (RequestDeclined) Kind() Kind  { return KindRequestDeclined }
func (RequestCancelled) Kind() Kind { return KindRequestCancelled }
func (RelationRemoved) Kind() Kind  { return KindRelationRemoved }
func (Blocked) Kind() Kind          { return KindBlocked }
func (Unblocked) Kind() Kind        { return KindUnblocked }
func (PresenceOnline) Kind() Kind   { return KindPresenceOnline }
func (PresenceOffline) Kind() Kind  { return KindPresenceOffline }

func (RequestReceived) sealed()  {}
func (RequestAccepted) sealed()  {}
func (RequestDeclined) sealed()  {}
func (RequestCancelled) sealed() {}
func (RelationRemoved) sealed()  {}
func (Blocked) sealed()          {}
func (Unblocked) sealed()        {}
func (PresenceOnline) sealed()   {}
func (PresenceOffline) sealed()  {}

// Envelope is the wire shape of every outbound frame
type Envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode wraps ev in its envelope
func Encode(ev Event) ([]byte, error) {
	switch ev.(type) {
	case RequestReceived, RequestAccepted, RequestDeclined, RequestCancelled,
		RelationRemoved, Blocked, Unblocked, PresenceOnline, PresenceOffline:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, ev)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	return json.Marshal(Envelope{Type: ev.Kind(), Data: data})
}

// Decode parses an envelope back into its concrete event
func Decode(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case KindRequestReceived:
		return decodeAs[RequestReceived](env)
	case KindRequestAccepted:
		return decodeAs[RequestAccepted](env)
	case KindRequestDeclined:
		return decodeAs[RequestDeclined](env)
	case KindRequestCancelled:
		return decodeAs[RequestCancelled](env)
	case KindRelationRemoved:
		return decodeAs[RelationRemoved](env)
	case KindBlocked:
		return decodeAs[Blocked](env)
	case KindUnblocked:
		return decodeAs[Unblocked](env)
	case KindPresenceOnline:
		return decodeAs[PresenceOnline](env)
	case KindPresenceOffline:
		return decodeAs[PresenceOffline](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
}

func decodeAs[T Event](env Envelope) (Event, error) {
	var ev T
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return ev, nil
}
