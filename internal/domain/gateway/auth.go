package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/mwork/social-realtime/internal/domain/user"
	"github.com/mwork/social-realtime/internal/middleware"
	"github.com/mwork/social-realtime/internal/pkg/jwt"
	"github.com/mwork/social-realtime/internal/pkg/logger"
)

var ErrUnauthorized = errors.New("unauthorized")

// Identity is what a successful handshake binds to the session
type Identity struct {
	UserID      uuid.UUID `json:"userId"`
	DisplayName string    `json:"displayName"`
}

// UserLookup resolves a display name when the token carries none
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

// Authenticator validates the handshake credential
type Authenticator struct {
	jwt   *jwt.Service
	users UserLookup
}

// NewAuthenticator creates handshake authenticator; users may be nil
func NewAuthenticator(jwtService *jwt.Service, users UserLookup) *Authenticator {
	return &Authenticator{jwt: jwtService, users: users}
}

// Authenticate reads the bearer token from the header or ?token= and validates it
func (a *Authenticator) Authenticate(r *http.Request) (Identity, string, error) {
	token, err := middleware.BearerToken(r)
	if err != nil {
		return Identity{}, "missing_token", ErrUnauthorized
	}

	claims, err := a.jwt.ValidateAccessToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			return Identity{}, "expired_token", ErrUnauthorized
		}
		return Identity{}, "invalid_token", ErrUnauthorized
	}
	if claims.IsBanned {
		return Identity{}, "banned", ErrUnauthorized
	}

	identity := Identity{UserID: claims.UserID, DisplayName: claims.Name}
	if identity.DisplayName == "" && a.users != nil {
		u, err := a.users.GetByID(r.Context(), claims.UserID)
		switch {
		case err == nil:
			identity.DisplayName = u.Summary().DisplayName()
		case !errors.Is(err, user.ErrUserNotFound):
			logger.LogWarn(r.Context(), "Failed to resolve display name", "user_id", claims.UserID.String(), "error", err.Error())
		}
	}
	return identity, "", nil
}
