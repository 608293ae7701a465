package therapist

import (
	"log/slog"

	apperrors "github.com/frahmantamala/counseling-booking/internal"
	therapistmodel "github.com/frahmantamala/counseling-booking/internal/core/datamodel/therapist"
)

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// GetByID returns one therapist, active or not. Booking separately rejects
// inactive therapists; profile pages still render them.
func (s *Service) GetByID(id int64) (*therapistmodel.Therapist, error) {
	t, err := s.repo.GetByID(id)
	if err != nil || t == nil {
		return nil, apperrors.ErrTherapistNotFound
	}
	return t, nil
}

func (s *Service) ListActive(limit, offset int) ([]*therapistmodel.Therapist, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListActive(limit, offset)
}
