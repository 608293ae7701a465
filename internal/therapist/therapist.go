package therapist

import (
	therapistmodel "github.com/frahmantamala/counseling-booking/internal/core/datamodel/therapist"
)

// Repository is the persistence surface for the therapist catalog.
type Repository interface {
	GetByID(id int64) (*therapistmodel.Therapist, error)
	ListActive(limit, offset int) ([]*therapistmodel.Therapist, error)
	Create(t *therapistmodel.Therapist) error
	Update(t *therapistmodel.Therapist) error
}
