package user

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// User is the slice of the account record this service reads (matches users table)
type User struct {
	ID        uuid.UUID      `db:"id"`
	Name      sql.NullString `db:"name"`
	Image     sql.NullString `db:"image"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// Summary is the public projection of a user embedded in events and listings
type Summary struct {
	ID    uuid.UUID `json:"id" db:"id"`
	Name  *string   `json:"name"`
	Image *string   `json:"image"`
}

// Summary projects u for display
func (u *User) Summary() Summary {
	s := Summary{ID: u.ID}
	if u.Name.Valid {
		name := u.Name.String
		s.Name = &name
	}
	if u.Image.Valid {
		image := u.Image.String
		s.Image = &image
	}
	return s
}

// DisplayName returns the user's name or an empty string
func (s Summary) DisplayName() string {
	if s.Name == nil {
		return ""
	}
	return *s.Name
}
