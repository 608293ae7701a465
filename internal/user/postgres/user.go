package postgres

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	usermodel "github.com/frahmantamala/counseling-booking/internal/core/datamodel/user"
	"github.com/frahmantamala/counseling-booking/internal/user"
)

// UserRepository implements the user.Repository interface using GORM
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) user.Repository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(u *usermodel.User) error {
	err := r.db.Create(u).Error
	if err != nil && isUniqueViolation(err) {
		return user.ErrEmailTaken
	}
	return err
}

func (r *UserRepository) GetByID(userID int64) (*usermodel.User, error) {
	var u usermodel.User
	err := r.db.Where("id = ?", userID).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) UpdateFullName(userID int64, fullName string) error {
	return r.db.Model(&usermodel.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"full_name":  fullName,
			"updated_at": time.Now(),
		}).Error
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}
