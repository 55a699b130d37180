package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/mwork/social-realtime/internal/domain/presence"
	"github.com/mwork/social-realtime/internal/domain/relationships"
	"github.com/mwork/social-realtime/internal/pkg/logger"
	"github.com/mwork/social-realtime/internal/pkg/validator"
)

// Inbound command types
const (
	CmdSendRequest    = "friend:request:send"
	CmdAcceptRequest  = "friend:request:accept"
	CmdDeclineRequest = "friend:request:decline"
	CmdCancelRequest  = "friend:request:cancel"
	CmdRemoveFriend   = "friend:remove"
	CmdBlock          = "friend:block"
	CmdUnblock        = "friend:unblock"
	CmdPresenceQuery  = "presence:query"
)

const ackType = "ack"

var (
	errUnknownCommand = errors.New("unknown command type")
	errRateLimited    = errors.New("too many commands")
)

// Command is one client-to-server frame
type Command struct {
	Type string          `json:"type"`
	Ref  string          `json:"ref,omitempty"`
	Data json.RawMessage `json:"data"`
}

// Ack answers exactly one command on the connection that sent it
type Ack struct {
	Type    string      `json:"type"`
	Ref     string      `json:"ref,omitempty"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *AckError   `json:"error,omitempty"`
}

type AckError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type friendPayload struct {
	FriendID uuid.UUID `json:"friend_id" validate:"required"`
}

type requestPayload struct {
	RequestID uuid.UUID `json:"request_id" validate:"required"`
}

type userPayload struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
}

type presencePayload struct {
	UserIDs []uuid.UUID `json:"user_ids" validate:"required,min=1"`
}

// validationError carries field errors back in the ack
type validationError map[string]string

func (validationError) Error() string { return "validation failed" }

// Commands executes inbound commands against the same services the HTTP routes use
type Commands struct {
	relationships *relationships.Service
	presence      *presence.Service
	limiter       *RateLimiter
}

// NewCommands creates inbound command router; limiter may be nil
func NewCommands(rel *relationships.Service, pres *presence.Service, limiter *RateLimiter) *Commands {
	return &Commands{relationships: rel, presence: pres, limiter: limiter}
}

// Handle runs one raw frame and returns the encoded ack
func (c *Commands) Handle(ctx context.Context, userID uuid.UUID, raw []byte) []byte {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return encodeAck(Ack{Type: ackType, Error: &AckError{Code: "BAD_FRAME", Message: "Invalid JSON frame"}})
	}

	ack := Ack{Type: ackType, Ref: cmd.Ref}
	if c.limiter != nil && !c.limiter.Allow(ctx, userID) {
		commandsTotal.WithLabelValues(metricType(cmd.Type), "rate_limited").Inc()
		ack.Error = &AckError{Code: "RATE_LIMITED", Message: errRateLimited.Error()}
		return encodeAck(ack)
	}

	data, err := c.dispatch(ctx, userID, cmd)
	if err != nil {
		ack.Error = c.ackError(ctx, cmd, err)
		commandsTotal.WithLabelValues(metricType(cmd.Type), "error").Inc()
		return encodeAck(ack)
	}

	ack.Success = true
	ack.Data = data
	commandsTotal.WithLabelValues(metricType(cmd.Type), "ok").Inc()
	return encodeAck(ack)
}

func (c *Commands) dispatch(ctx context.Context, userID uuid.UUID, cmd Command) (interface{}, error) {
	switch cmd.Type {
	case CmdSendRequest:
		var p friendPayload
		if err := decodePayload(cmd.Data, &p); err != nil {
			return nil, err
		}
		res, err := c.relationships.SendRequest(ctx, userID, p.FriendID)
		if err != nil {
			return nil, err
		}
		return relationships.RequestFromEntity(res.Relationship, userID, res.Users), nil

	case CmdAcceptRequest, CmdDeclineRequest:
		var p requestPayload
		if err := decodePayload(cmd.Data, &p); err != nil {
			return nil, err
		}
		action := relationships.ActionAccept
		if cmd.Type == CmdDeclineRequest {
			action = relationships.ActionDecline
		}
		res, err := c.relationships.Respond(ctx, p.RequestID, userID, action)
		if err != nil {
			return nil, err
		}
		out := relationships.RequestFromEntity(res.Relationship, userID, res.Users)
		if action == relationships.ActionDecline {
			out.Status = "DECLINED"
		}
		return out, nil

	case CmdCancelRequest:
		var p requestPayload
		if err := decodePayload(cmd.Data, &p); err != nil {
			return nil, err
		}
		_, err := c.relationships.Cancel(ctx, p.RequestID, userID)
		return nil, err

	case CmdRemoveFriend:
		var p userPayload
		if err := decodePayload(cmd.Data, &p); err != nil {
			return nil, err
		}
		_, err := c.relationships.Remove(ctx, userID, p.UserID)
		return nil, err

	case CmdBlock:
		var p userPayload
		if err := decodePayload(cmd.Data, &p); err != nil {
			return nil, err
		}
		res, err := c.relationships.Block(ctx, userID, p.UserID)
		if err != nil {
			return nil, err
		}
		return relationships.BlockRelationFromEntity(res.Block, res.Users), nil

	case CmdUnblock:
		var p userPayload
		if err := decodePayload(cmd.Data, &p); err != nil {
			return nil, err
		}
		_, err := c.relationships.Unblock(ctx, userID, p.UserID)
		return nil, err

	case CmdPresenceQuery:
		var p presencePayload
		if err := decodePayload(cmd.Data, &p); err != nil {
			return nil, err
		}
		status, err := c.presence.OnlineStatus(ctx, p.UserIDs)
		if err != nil {
			return nil, err
		}
		return presence.OnlineStatusFromMap(status), nil

	default:
		return nil, errUnknownCommand
	}
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return validationError{"data": "Invalid payload"}
	}
	if errs := validator.Validate(v); errs != nil {
		return validationError(errs)
	}
	return nil
}

func (c *Commands) ackError(ctx context.Context, cmd Command, err error) *AckError {
	var verrs validationError
	switch {
	case errors.As(err, &verrs):
		return &AckError{Code: "VALIDATION_ERROR", Message: "Validation failed", Details: verrs}
	case errors.Is(err, errUnknownCommand):
		return &AckError{Code: "UNKNOWN_COMMAND", Message: err.Error()}
	case errors.Is(err, presence.ErrBatchTooLarge):
		return &AckError{Code: "VALIDATION_ERROR", Message: err.Error()}
	}

	status, code := relationships.ErrorStatus(err)
	if status == http.StatusInternalServerError {
		logger.LogError(ctx, err, "Websocket command failed", "type", cmd.Type)
		return &AckError{Code: code, Message: "An unexpected error occurred"}
	}
	return &AckError{Code: code, Message: err.Error()}
}

// metricType keeps unknown client-supplied types out of metric labels
func metricType(t string) string {
	switch t {
	case CmdSendRequest, CmdAcceptRequest, CmdDeclineRequest, CmdCancelRequest,
		CmdRemoveFriend, CmdBlock, CmdUnblock, CmdPresenceQuery:
		return t
	default:
		return "unknown"
	}
}

func encodeAck(ack Ack) []byte {
	data, err := json.Marshal(ack)
	if err != nil {
		data, _ = json.Marshal(Ack{Type: ackType, Ref: ack.Ref, Error: &AckError{Code: "INTERNAL_ERROR", Message: "Failed to encode ack"}})
	}
	return data
}
