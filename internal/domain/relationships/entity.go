package relationships

import (
	"time"

	"github.com/google/uuid"

	"github.com/mwork/social-realtime/internal/domain/user"
)

// Status of a relationship between two users
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
)

// Relationship is the single record kept per unordered pair of users
type Relationship struct {
	ID          uuid.UUID `db:"id" json:"id"`
	RequesterID uuid.UUID `db:"requester_id" json:"requester_id"`
	AddresseeID uuid.UUID `db:"addressee_id" json:"addressee_id"`
	Status      Status    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Involves reports whether userID is one side of the pair
func (r *Relationship) Involves(userID uuid.UUID) bool {
	return r.RequesterID == userID || r.AddresseeID == userID
}

// Counterpart returns the other side of the pair
func (r *Relationship) Counterpart(userID uuid.UUID) uuid.UUID {
	if r.RequesterID == userID {
		return r.AddresseeID
	}
	return r.RequesterID
}

// BlockRelation represents a user-to-user block
type BlockRelation struct {
	ID            uuid.UUID `db:"id" json:"id"`
	BlockerUserID uuid.UUID `db:"blocker_user_id" json:"blocker_user_id"`
	BlockedUserID uuid.UUID `db:"blocked_user_id" json:"blocked_user_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Action is the addressee's answer to a pending request
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
)

// Direction filters pending requests relative to the caller
type Direction string

const (
	DirectionReceived Direction = "received"
	DirectionSent     Direction = "sent"
)

// RelationStatus is how another user stands relative to the viewer
type RelationStatus string

const (
	RelationNone            RelationStatus = "none"
	RelationFriend          RelationStatus = "friend"
	RelationPendingSent     RelationStatus = "pending_sent"
	RelationPendingReceived RelationStatus = "pending_received"
	RelationBlocked         RelationStatus = "blocked"
	RelationBlockedBy       RelationStatus = "blocked_by"
)

// Result is what every mutation reports back: the records touched and whom the change concerns.
type Result struct {
	Relationship *Relationship
	Block        *BlockRelation
	// Users holds summaries of both sides when the operation loaded them.
	Users map[uuid.UUID]user.Summary
	// Affected lists the users that must be told about the change.
	Affected []uuid.UUID
	// At is the time the mutation took effect.
	At time.Time
}

// Page is an offset window over a listing
type Page struct {
	Limit  int
	Offset int
}

const (
	defaultPageLimit   = 20
	maxPageLimit       = 100
	defaultSearchLimit = 10
	maxSearchLimit     = 20
)

// Normalize clamps the page into the supported window
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
