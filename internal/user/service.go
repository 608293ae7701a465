package user

import (
	"strings"

	usermodel "github.com/frahmantamala/counseling-booking/internal/core/datamodel/user"
)

type Repository interface {
	Create(u *usermodel.User) error
	GetByID(userID int64) (*usermodel.User, error)
	UpdateFullName(userID int64, fullName string) error
}

// PasswordHasher abstracts the bcrypt policy owned by the auth service so
// registration and login always agree on cost.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
}

type Service struct {
	repo   Repository
	hasher PasswordHasher
}

func NewService(repo Repository, hasher PasswordHasher) *Service {
	return &Service{repo: repo, hasher: hasher}
}

// Register creates a new active client account.
func (s *Service) Register(dto RegisterDTO) (*User, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	hash, err := s.hasher.HashPassword(dto.Password)
	if err != nil {
		return nil, err
	}

	record := &usermodel.User{
		Email:        strings.ToLower(strings.TrimSpace(dto.Email)),
		PasswordHash: hash,
		FullName:     strings.TrimSpace(dto.FullName),
		IsActive:     true,
	}
	if err := s.repo.Create(record); err != nil {
		return nil, err
	}

	return FromDataModel(record), nil
}

func (s *Service) GetByID(userID int64) (*User, error) {
	record, err := s.repo.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotFound
	}
	return FromDataModel(record), nil
}

func (s *Service) UpdateProfile(userID int64, dto UpdateProfileDTO) (*User, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateFullName(userID, strings.TrimSpace(dto.FullName)); err != nil {
		return nil, err
	}
	return s.GetByID(userID)
}
