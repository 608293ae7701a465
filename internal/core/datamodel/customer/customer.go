package customer

import "time"

// Mapping links a local user to the processor-side customer created for
// them. One mapping per user; the merchant reference is what the processor
// indexes as merchant_customer_id and is the recovery key when a concurrent
// creation races.
type Mapping struct {
	ID                int64     `gorm:"primaryKey"`
	UserID            int64     `gorm:"column:user_id;not null;uniqueIndex"`
	CustomerReference string    `gorm:"column:customer_reference;not null"`
	MerchantReference string    `gorm:"column:merchant_reference;not null;uniqueIndex"`
	CreatedAt         time.Time `gorm:"column:created_at;default:now()"`
}

func (Mapping) TableName() string {
	return "customer_mappings"
}
