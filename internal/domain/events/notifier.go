package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mwork/social-realtime/internal/domain/relationships"
	"github.com/mwork/social-realtime/internal/domain/user"
	"github.com/mwork/social-realtime/internal/pkg/logger"
)

const publishTimeout = 5 * time.Second

// Publisher delivers an encoded frame to every connection bound to channel
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// ChannelFor is the fan-out channel a user's connections join
func ChannelFor(userID uuid.UUID) string {
	return userID.String()
}

// Notifier maps relationship and presence changes to outbound events.
// Delivery is best effort and never fails the caller.
type Notifier struct {
	publisher Publisher
}

// NewNotifier creates notifier over the given publisher
func NewNotifier(publisher Publisher) *Notifier {
	return &Notifier{publisher: publisher}
}

func (n *Notifier) send(ctx context.Context, ev Event, targets ...uuid.UUID) {
	payload, err := Encode(ev)
	if err != nil {
		logger.LogError(ctx, err, "Failed to encode event", "kind", string(ev.Kind()))
		return
	}

	// publishing outlives the originating request
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	for _, target := range targets {
		if err := n.publisher.Publish(pubCtx, ChannelFor(target), payload); err != nil {
			logger.LogWarn(ctx, "Event publish failed",
				"kind", string(ev.Kind()),
				"target", target.String(),
				"error", err.Error(),
			)
		}
	}
}

func (n *Notifier) RequestReceived(ctx context.Context, rel *relationships.Relationship, from, to user.Summary) {
	n.send(ctx, RequestReceived{
		RequestID: rel.ID,
		From:      from,
		To:        to,
		Status:    string(rel.Status),
		Timestamp: rel.CreatedAt,
	}, rel.AddresseeID)
}

func (n *Notifier) RequestAccepted(ctx context.Context, rel *relationships.Relationship, requester, addressee user.Summary) {
	n.send(ctx, RequestAccepted{
		RequestID: rel.ID,
		UserID:    rel.RequesterID,
		FriendID:  rel.AddresseeID,
		Friend:    addressee,
		Timestamp: rel.UpdatedAt,
	}, rel.RequesterID)
	n.send(ctx, RequestAccepted{
		RequestID: rel.ID,
		UserID:    rel.AddresseeID,
		FriendID:  rel.RequesterID,
		Friend:    requester,
		Timestamp: rel.UpdatedAt,
	}, rel.AddresseeID)
}

func (n *Notifier) RequestDeclined(ctx context.Context, rel *relationships.Relationship, at time.Time) {
	n.send(ctx, RequestDeclined{
		RequestID: rel.ID,
		UserID:    rel.RequesterID,
		FriendID:  rel.AddresseeID,
		Timestamp: at,
	}, rel.RequesterID)
}

func (n *Notifier) RequestCancelled(ctx context.Context, rel *relationships.Relationship, at time.Time) {
	n.send(ctx, RequestCancelled{
		RequestID: rel.ID,
		UserID:    rel.AddresseeID,
		FriendID:  rel.RequesterID,
		Timestamp: at,
	}, rel.AddresseeID)
}

func (n *Notifier) RelationRemoved(ctx context.Context, userID, peerID uuid.UUID, at time.Time) {
	n.send(ctx, RelationRemoved{UserID: userID, FriendID: peerID, Timestamp: at}, peerID)
	n.send(ctx, RelationRemoved{UserID: peerID, FriendID: userID, Timestamp: at}, userID)
}

func (n *Notifier) Blocked(ctx context.Context, block *relationships.BlockRelation) {
	n.send(ctx, Blocked{
		BlockerID: block.BlockerUserID,
		BlockedID: block.BlockedUserID,
		Timestamp: block.CreatedAt,
	}, block.BlockedUserID)
}

func (n *Notifier) Unblocked(ctx context.Context, block *relationships.BlockRelation, at time.Time) {
	n.send(ctx, Unblocked{
		BlockerID: block.BlockerUserID,
		BlockedID: block.BlockedUserID,
		Timestamp: at,
	}, block.BlockedUserID)
}

// PresenceOnline tells every accepted peer that userID came online
func (n *Notifier) PresenceOnline(ctx context.Context, userID uuid.UUID, peers []uuid.UUID, at time.Time) {
	if len(peers) == 0 {
		return
	}
	n.send(ctx, PresenceOnline{UserID: userID, Online: true, Timestamp: at}, peers...)
}

// PresenceOffline tells every accepted peer that userID went offline
func (n *Notifier) PresenceOffline(ctx context.Context, userID uuid.UUID, peers []uuid.UUID, lastSeen time.Time) {
	if len(peers) == 0 {
		return
	}
	n.send(ctx, PresenceOffline{UserID: userID, Online: false, LastSeen: lastSeen}, peers...)
}

var _ relationships.Notifier = (*Notifier)(nil)
