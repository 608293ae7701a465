package postgres

import (
	"errors"
	"time"

	"gorm.io/gorm"

	therapistmodel "github.com/frahmantamala/counseling-booking/internal/core/datamodel/therapist"
	"github.com/frahmantamala/counseling-booking/internal/therapist"
)

// TherapistRepository implements the therapist.Repository interface using GORM
type TherapistRepository struct {
	db *gorm.DB
}

// NewTherapistRepository creates a new therapist repository
func NewTherapistRepository(db *gorm.DB) therapist.Repository {
	return &TherapistRepository{db: db}
}

func (r *TherapistRepository) GetByID(id int64) (*therapistmodel.Therapist, error) {
	var t therapistmodel.Therapist
	err := r.db.Where("id = ?", id).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *TherapistRepository) ListActive(limit, offset int) ([]*therapistmodel.Therapist, error) {
	var therapists []*therapistmodel.Therapist
	err := r.db.Where("active = ?", true).
		Order("full_name ASC").
		Limit(limit).
		Offset(offset).
		Find(&therapists).Error
	return therapists, err
}

func (r *TherapistRepository) Create(t *therapistmodel.Therapist) error {
	return r.db.Create(t).Error
}

func (r *TherapistRepository) Update(t *therapistmodel.Therapist) error {
	t.UpdatedAt = time.Now()
	return r.db.Save(t).Error
}
