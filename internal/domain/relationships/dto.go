package relationships

import (
	"time"

	"github.com/google/uuid"

	"github.com/mwork/social-realtime/internal/domain/user"
)

// SendRequestRequest for POST /friends/requests
type SendRequestRequest struct {
	FriendID uuid.UUID `json:"friend_id" validate:"required"`
}

// RespondRequest for PATCH /friends/requests/{requestId}
type RespondRequest struct {
	Action string `json:"action" validate:"required,friend_action"`
}

// ListPendingQuery for GET /friends/requests
type ListPendingQuery struct {
	Type string `json:"type" validate:"request_direction"`
}

// SearchUsersQuery for GET /friends/search
type SearchUsersQuery struct {
	Q     string `json:"q" validate:"required,max=100"`
	Limit int    `json:"limit" validate:"gte=0,lte=20"`
}

// SearchUserResponse is one search hit with the caller's relation to it
type SearchUserResponse struct {
	User           user.Summary   `json:"user"`
	RelationStatus RelationStatus `json:"relation_status"`
}

// FriendResponse is one accepted relationship seen from the caller's side
type FriendResponse struct {
	RelationshipID uuid.UUID    `json:"relationship_id"`
	Friend         user.Summary `json:"friend"`
	Since          string       `json:"since"`
}

// RequestResponse is a pending (or just resolved) friend request
type RequestResponse struct {
	ID        uuid.UUID    `json:"id"`
	Status    Status       `json:"status"`
	Direction Direction    `json:"direction,omitempty"`
	From      user.Summary `json:"from"`
	To        user.Summary `json:"to"`
	CreatedAt string       `json:"created_at"`
	UpdatedAt string       `json:"updated_at"`
}

// BlockedUserResponse represents a blocked user in API response
type BlockedUserResponse struct {
	ID        uuid.UUID    `json:"id"`
	User      user.Summary `json:"user"`
	BlockedAt string       `json:"blocked_at"`
}

func summaryOrID(users map[uuid.UUID]user.Summary, id uuid.UUID) user.Summary {
	if s, ok := users[id]; ok {
		return s
	}
	return user.Summary{ID: id}
}

// FriendFromEntity converts an accepted relationship to the caller's view
func FriendFromEntity(rel *Relationship, viewer uuid.UUID, users map[uuid.UUID]user.Summary) FriendResponse {
	return FriendResponse{
		RelationshipID: rel.ID,
		Friend:         summaryOrID(users, rel.Counterpart(viewer)),
		Since:          rel.UpdatedAt.Format(time.RFC3339),
	}
}

// RequestFromEntity converts a relationship to the request view
func RequestFromEntity(rel *Relationship, viewer uuid.UUID, users map[uuid.UUID]user.Summary) RequestResponse {
	direction := DirectionSent
	if rel.AddresseeID == viewer {
		direction = DirectionReceived
	}
	return RequestResponse{
		ID:        rel.ID,
		Status:    rel.Status,
		Direction: direction,
		From:      summaryOrID(users, rel.RequesterID),
		To:        summaryOrID(users, rel.AddresseeID),
		CreatedAt: rel.CreatedAt.Format(time.RFC3339),
		UpdatedAt: rel.UpdatedAt.Format(time.RFC3339),
	}
}

// BlockRelationFromEntity converts entity to response
func BlockRelationFromEntity(block *BlockRelation, users map[uuid.UUID]user.Summary) BlockedUserResponse {
	return BlockedUserResponse{
		ID:        block.ID,
		User:      summaryOrID(users, block.BlockedUserID),
		BlockedAt: block.CreatedAt.Format(time.RFC3339),
	}
}
