package appointment

import (
	"time"
)

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusRefunded = "refunded"
)

const (
	ConsultationOnline   = "online"
	ConsultationInPerson = "in_person"
)

type Appointment struct {
	ID               int64      `gorm:"primaryKey"`
	ClientID         int64      `gorm:"column:client_id;not null"`
	TherapistID      int64      `gorm:"column:therapist_id;not null"`
	SlotStart        time.Time  `gorm:"column:slot_start;not null"`
	ConsultationType string     `gorm:"column:consultation_type;not null"`
	Notes            string     `gorm:"column:notes"`
	Amount           int64      `gorm:"column:amount;not null"`
	Currency         string     `gorm:"column:currency;not null"`
	Status           string     `gorm:"column:status;default:pending"`
	PaymentStatus    string     `gorm:"column:payment_status;default:pending"`
	PaymentIntentID  *string    `gorm:"column:payment_intent_id;uniqueIndex"`
	PaidAt           *time.Time `gorm:"column:paid_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;default:now()"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;default:now()"`
}

func (Appointment) TableName() string {
	return "appointments"
}

// IsPaid reports whether settlement has already been applied to this row.
// Reconciliation uses it to keep the paid transition a one-time event.
func (a *Appointment) IsPaid() bool {
	return a.PaymentStatus == PaymentStatusPaid
}

// CanRetryPayment reports whether a fresh payment attempt may be made for
// this appointment (the retry-payment path).
func (a *Appointment) CanRetryPayment() bool {
	return a.Status == StatusPending && a.PaymentStatus == PaymentStatusPending
}

// Draft is the client-supplied intent to book. It lives only in the checkout
// session until settlement succeeds, at which point reconciliation consumes
// it to produce an Appointment.
type Draft struct {
	TherapistID      int64     `json:"therapist_id"`
	SlotStart        time.Time `json:"slot_start"`
	ConsultationType string    `json:"consultation_type"`
	Notes            string    `json:"notes"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
}
