package therapist

import "time"

type Therapist struct {
	ID             int64     `gorm:"primaryKey"`
	FullName       string    `gorm:"column:full_name;not null"`
	Title          string    `gorm:"column:title"`
	Specialties    string    `gorm:"column:specialties"`
	Bio            string    `gorm:"column:bio"`
	SessionFee     int64     `gorm:"column:session_fee;not null"`
	Currency       string    `gorm:"column:currency;not null;default:HKD"`
	OffersOnline   bool      `gorm:"column:offers_online;default:true"`
	OffersInPerson bool      `gorm:"column:offers_in_person;default:false"`
	Active         bool      `gorm:"column:active;default:true"`
	CreatedAt      time.Time `gorm:"column:created_at;default:now()"`
	UpdatedAt      time.Time `gorm:"column:updated_at;default:now()"`
}

func (Therapist) TableName() string {
	return "therapists"
}
