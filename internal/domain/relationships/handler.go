package relationships

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mwork/social-realtime/internal/domain/user"
	"github.com/mwork/social-realtime/internal/middleware"
	"github.com/mwork/social-realtime/internal/pkg/errorhandler"
	"github.com/mwork/social-realtime/internal/pkg/logger"
	"github.com/mwork/social-realtime/internal/pkg/response"
	"github.com/mwork/social-realtime/internal/pkg/validator"
)

// Handler handles relationship HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates relationship handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// ErrorStatus maps a service error to an HTTP status and a stable error code.
// Unknown errors map to 500.
func ErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrSelf):
		return http.StatusBadRequest, "SELF_TARGET"
	case errors.Is(err, ErrBlocked):
		return http.StatusBadRequest, "BLOCKED"
	case errors.Is(err, ErrInvalidAction):
		return http.StatusBadRequest, "INVALID_ACTION"
	case errors.Is(err, ErrNotPending):
		return http.StatusBadRequest, "NOT_PENDING"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound, "USER_NOT_FOUND"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "REQUEST_NOT_FOUND"
	case errors.Is(err, ErrFriendshipNotFound):
		return http.StatusNotFound, "FRIENDSHIP_NOT_FOUND"
	case errors.Is(err, ErrBlockNotFound):
		return http.StatusNotFound, "BLOCK_NOT_FOUND"
	case errors.Is(err, ErrAlreadyPending):
		return http.StatusConflict, "ALREADY_PENDING"
	case errors.Is(err, ErrAlreadyFriends):
		return http.StatusConflict, "ALREADY_FRIENDS"
	case errors.Is(err, ErrAlreadyBlocked):
		return http.StatusConflict, "ALREADY_BLOCKED"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := ErrorStatus(err)
	if status == http.StatusInternalServerError {
		errorhandler.HandleError(r.Context(), w, status, code, "An unexpected error occurred", err)
		return
	}
	response.Error(w, status, code, err.Error())
}

func pageFromQuery(r *http.Request) Page {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return Page{Limit: limit, Offset: offset}.Normalize()
}

func uuidParam(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}

// summariesFor loads display data; a failed lookup degrades to id-only summaries.
func (h *Handler) summariesFor(r *http.Request, ids []uuid.UUID) map[uuid.UUID]user.Summary {
	users, err := h.service.Summaries(r.Context(), ids)
	if err != nil {
		logger.LogWarn(r.Context(), "Failed to load user summaries", "error", err.Error())
		return map[uuid.UUID]user.Summary{}
	}
	return users
}

// ListFriends handles GET /friends
func (h *Handler) ListFriends(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	page := pageFromQuery(r)

	rels, total, err := h.service.ListFriends(r.Context(), userID, page)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	ids := make([]uuid.UUID, 0, len(rels))
	for _, rel := range rels {
		ids = append(ids, rel.Counterpart(userID))
	}
	users := h.summariesFor(r, ids)

	items := make([]FriendResponse, 0, len(rels))
	for _, rel := range rels {
		items = append(items, FriendFromEntity(rel, userID, users))
	}
	response.WithMeta(w, items, response.NewMeta(total, page.Limit, page.Offset))
}

// SearchUsers handles GET /friends/search
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := SearchUsersQuery{Q: strings.TrimSpace(q.Get("q"))}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			response.BadRequest(w, "Invalid limit")
			return
		}
		query.Limit = limit
	}
	if errs := validator.Validate(query); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	results, err := h.service.SearchUsers(r.Context(), middleware.GetUserID(r.Context()), query.Q, query.Limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	items := make([]SearchUserResponse, 0, len(results))
	for _, res := range results {
		items = append(items, SearchUserResponse{User: res.User, RelationStatus: res.Relation})
	}
	response.OK(w, map[string]interface{}{
		"users": items,
		"total": len(items),
	})
}

// RemoveFriend handles DELETE /friends/{friendId}
func (h *Handler) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	friendID, ok := uuidParam(r, "friendId")
	if !ok {
		response.BadRequest(w, "Invalid friend ID")
		return
	}

	userID := middleware.GetUserID(r.Context())
	if _, err := h.service.Remove(r.Context(), userID, friendID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.OK(w, map[string]string{"status": "removed"})
}

// SendRequest handles POST /friends/requests
func (h *Handler) SendRequest(w http.ResponseWriter, r *http.Request) {
	var req SendRequestRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	userID := middleware.GetUserID(r.Context())
	res, err := h.service.SendRequest(r.Context(), userID, req.FriendID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.Created(w, RequestFromEntity(res.Relationship, userID, res.Users))
}

// ListRequests handles GET /friends/requests?type=received|sent
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	query := ListPendingQuery{Type: r.URL.Query().Get("type")}
	if errs := validator.Validate(query); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	userID := middleware.GetUserID(r.Context())
	page := pageFromQuery(r)
	rels, total, err := h.service.ListPending(r.Context(), userID, Direction(query.Type), page)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	ids := make([]uuid.UUID, 0, len(rels)*2)
	for _, rel := range rels {
		ids = append(ids, rel.RequesterID, rel.AddresseeID)
	}
	users := h.summariesFor(r, ids)

	items := make([]RequestResponse, 0, len(rels))
	for _, rel := range rels {
		items = append(items, RequestFromEntity(rel, userID, users))
	}
	response.WithMeta(w, items, response.NewMeta(total, page.Limit, page.Offset))
}

// RespondRequest handles PATCH /friends/requests/{requestId}
func (h *Handler) RespondRequest(w http.ResponseWriter, r *http.Request) {
	requestID, ok := uuidParam(r, "requestId")
	if !ok {
		response.BadRequest(w, "Invalid request ID")
		return
	}

	var req RespondRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	userID := middleware.GetUserID(r.Context())
	res, err := h.service.Respond(r.Context(), requestID, userID, Action(req.Action))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := RequestFromEntity(res.Relationship, userID, res.Users)
	if Action(req.Action) == ActionDecline {
		out.Status = "DECLINED"
	}
	response.OK(w, out)
}

// CancelRequest handles DELETE /friends/requests/{requestId}
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	requestID, ok := uuidParam(r, "requestId")
	if !ok {
		response.BadRequest(w, "Invalid request ID")
		return
	}

	userID := middleware.GetUserID(r.Context())
	if _, err := h.service.Cancel(r.Context(), requestID, userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.OK(w, map[string]string{"status": "cancelled"})
}

// BlockUser handles POST /friends/block/{userId}
func (h *Handler) BlockUser(w http.ResponseWriter, r *http.Request) {
	targetUserID, ok := uuidParam(r, "userId")
	if !ok {
		response.BadRequest(w, "Invalid user ID")
		return
	}

	userID := middleware.GetUserID(r.Context())
	res, err := h.service.Block(r.Context(), userID, targetUserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.Created(w, BlockRelationFromEntity(res.Block, res.Users))
}

// UnblockUser handles DELETE /friends/block/{userId}
func (h *Handler) UnblockUser(w http.ResponseWriter, r *http.Request) {
	targetUserID, ok := uuidParam(r, "userId")
	if !ok {
		response.BadRequest(w, "Invalid user ID")
		return
	}

	userID := middleware.GetUserID(r.Context())
	if _, err := h.service.Unblock(r.Context(), userID, targetUserID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.OK(w, map[string]string{"status": "unblocked"})
}

// ListBlocked handles GET /friends/block
func (h *Handler) ListBlocked(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	page := pageFromQuery(r)

	blocks, total, err := h.service.ListMyBlocks(r.Context(), userID, page)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	ids := make([]uuid.UUID, 0, len(blocks))
	for _, block := range blocks {
		ids = append(ids, block.BlockedUserID)
	}
	users := h.summariesFor(r, ids)

	items := make([]BlockedUserResponse, 0, len(blocks))
	for _, block := range blocks {
		items = append(items, BlockRelationFromEntity(block, users))
	}
	response.WithMeta(w, items, response.NewMeta(total, page.Limit, page.Offset))
}
