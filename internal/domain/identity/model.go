package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidInput       = errors.New("invalid input")
)

// User maps to the users table. Every role shares it; doctors additionally
// carry a department and specialization.
type User struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Email          string    `db:"email" json:"email"`
	Name           string    `db:"name" json:"name"`
	Role           string    `db:"role" json:"role"`
	Department     *string   `db:"department" json:"department,omitempty"`
	Specialization *string   `db:"specialization" json:"specialization,omitempty"`
	PasswordHash   string    `db:"password_hash" json:"-"`
	Active         bool      `db:"active" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

type CreateUserRequest struct {
	Email          string  `json:"email"`
	Name           string  `json:"name"`
	Role           string  `json:"role"`
	Department     *string `json:"department,omitempty"`
	Specialization *string `json:"specialization,omitempty"`
	Password       string  `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

// UserFilter narrows List. Empty fields do not filter.
type UserFilter struct {
	Role       string
	Department string
	ActiveOnly bool
}
