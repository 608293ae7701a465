package postgres

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/frahmantamala/counseling-booking/internal/auth"
	usermodel "github.com/frahmantamala/counseling-booking/internal/core/datamodel/user"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetPasswordForEmail(email string) (string, int64, error) {
	var u usermodel.User
	err := r.db.Where("email = ? AND is_active = ?", email, true).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", 0, fmt.Errorf("user not found")
		}
		return "", 0, err
	}
	return u.PasswordHash, u.ID, nil
}

func (r *Repository) GetUserByID(userID int64) (*auth.User, error) {
	var u usermodel.User
	err := r.db.Where("id = ? AND is_active = ?", userID, true).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user not found")
		}
		return nil, err
	}
	return &auth.User{
		ID:       u.ID,
		Email:    u.Email,
		FullName: u.FullName,
	}, nil
}
