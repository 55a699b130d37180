package presence

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mwork/social-realtime/internal/pkg/errorhandler"
	"github.com/mwork/social-realtime/internal/pkg/response"
	"github.com/mwork/social-realtime/internal/pkg/validator"
)

// Handler handles presence HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates presence handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Mount hangs presence routes on an already authenticated router
func (h *Handler) Mount(r chi.Router) {
	r.Post("/online-status", h.OnlineStatus)
}

// OnlineStatus handles POST /friends/online-status
func (h *Handler) OnlineStatus(w http.ResponseWriter, r *http.Request) {
	var req OnlineStatusRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	status, err := h.service.OnlineStatus(r.Context(), req.UserIDs)
	if err != nil {
		if errors.Is(err, ErrBatchTooLarge) {
			response.ValidationError(w, map[string]string{
				"user_ids": "Too many values (max: " + strconv.Itoa(h.service.BatchLimit()) + ")",
			})
			return
		}
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "PRESENCE_UNAVAILABLE", "Failed to load online status", err)
		return
	}
	response.OK(w, OnlineStatusFromMap(status))
}
