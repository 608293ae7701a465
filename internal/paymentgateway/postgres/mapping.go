package postgres

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/counseling-booking/internal/core/datamodel/customer"
	"github.com/frahmantamala/counseling-booking/internal/paymentgateway"
)

// MappingRepository implements paymentgateway.MappingRepository using GORM
type MappingRepository struct {
	db *gorm.DB
}

// NewMappingRepository creates a new customer mapping repository
func NewMappingRepository(db *gorm.DB) paymentgateway.MappingRepository {
	return &MappingRepository{db: db}
}

// GetByUserID returns the processor mapping for a user, or nil when the
// user has never been registered with the processor.
func (r *MappingRepository) GetByUserID(userID int64) (*customer.Mapping, error) {
	var m customer.Mapping
	err := r.db.Where("user_id = ?", userID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// Save upserts the mapping keyed by user id. Two racing checkouts for the
// same user converge on one row.
func (r *MappingRepository) Save(m *customer.Mapping) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"customer_reference", "merchant_reference"}),
	}).Create(m).Error
}
