package relationships

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns the /friends router. extra lets sibling domains hang routes under the same prefix.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler, extra ...func(chi.Router)) chi.Router {
	r := chi.NewRouter()

	r.Use(authMiddleware)

	r.Get("/", h.ListFriends)
	r.Get("/search", h.SearchUsers)
	r.Delete("/{friendId}", h.RemoveFriend)

	r.Route("/requests", func(r chi.Router) {
		r.Get("/", h.ListRequests)
		r.Post("/", h.SendRequest)
		r.Patch("/{requestId}", h.RespondRequest)
		r.Delete("/{requestId}", h.CancelRequest)
	})

	r.Route("/block", func(r chi.Router) {
		r.Get("/", h.ListBlocked)
		r.Post("/{userId}", h.BlockUser)
		r.Delete("/{userId}", h.UnblockUser)
	})

	for _, mount := range extra {
		mount(r)
	}

	return r
}
