package user

import (
	"errors"
	"time"

	usermodel "github.com/frahmantamala/counseling-booking/internal/core/datamodel/user"
)

// User is the client account as exposed through the API. The password hash
// never leaves the persistence layer.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already registered")
)

func FromDataModel(u *usermodel.User) *User {
	return &User{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}
