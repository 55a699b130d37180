package presence

import (
	"github.com/google/uuid"
)

// OnlineStatusRequest for POST /friends/online-status
type OnlineStatusRequest struct {
	UserIDs []uuid.UUID `json:"user_ids" validate:"required,min=1"`
}

// OnlineStatusResponse maps user id to online flag
type OnlineStatusResponse map[string]bool

// OnlineStatusFromMap renders store results keyed by string id
func OnlineStatusFromMap(status map[uuid.UUID]bool) OnlineStatusResponse {
	out := make(OnlineStatusResponse, len(status))
	for id, online := range status {
		out[id.String()] = online
	}
	return out
}
