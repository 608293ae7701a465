package postgres

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/frahmantamala/counseling-booking/internal/booking"
	"github.com/frahmantamala/counseling-booking/internal/core/datamodel/appointment"
)

// AppointmentRepository implements the booking.Repository interface using GORM
type AppointmentRepository struct {
	db *gorm.DB
}

// NewAppointmentRepository creates a new appointment repository
func NewAppointmentRepository(db *gorm.DB) booking.Repository {
	return &AppointmentRepository{db: db}
}

// Create saves a new appointment. A unique-index violation on
// payment_intent_id is translated into ErrIntentAlreadyReconciled so the
// reconciliation engine can recover from insert races.
func (r *AppointmentRepository) Create(a *appointment.Appointment) error {
	err := r.db.Create(a).Error
	if err != nil && isUniqueViolation(err) {
		return booking.ErrIntentAlreadyReconciled
	}
	return err
}

// GetByID retrieves an appointment by its ID
func (r *AppointmentRepository) GetByID(id int64) (*appointment.Appointment, error) {
	var a appointment.Appointment
	err := r.db.Where("id = ?", id).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// GetByClientID retrieves a client's appointments with pagination
func (r *AppointmentRepository) GetByClientID(clientID int64, limit, offset int) ([]*appointment.Appointment, error) {
	var appts []*appointment.Appointment
	err := r.db.Where("client_id = ?", clientID).
		Order("slot_start DESC").
		Limit(limit).
		Offset(offset).
		Find(&appts).Error
	return appts, err
}

// FindByPaymentIntent retrieves the appointment tied to a payment intent,
// or nil when none exists yet.
func (r *AppointmentRepository) FindByPaymentIntent(intentID string) (*appointment.Appointment, error) {
	var a appointment.Appointment
	err := r.db.Where("payment_intent_id = ?", intentID).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// MarkPaid applies the paid transition only if the row is not already paid.
// The WHERE clause carries the idempotency: a second caller matches zero
// rows and gets applied=false.
func (r *AppointmentRepository) MarkPaid(id int64, intentID string, paidAt time.Time) (bool, error) {
	res := r.db.Model(&appointment.Appointment{}).
		Where("id = ? AND payment_status <> ?", id, appointment.PaymentStatusPaid).
		Updates(map[string]interface{}{
			"payment_status":    appointment.PaymentStatusPaid,
			"payment_intent_id": intentID,
			"paid_at":           paidAt,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, booking.ErrIntentAlreadyReconciled
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AttachIntent stores the intent opened for a retry payment on the
// appointment row. The guard skips rows that settled in the meantime so a
// late attach never overwrites the intent that actually paid.
func (r *AppointmentRepository) AttachIntent(id int64, intentID string) error {
	res := r.db.Model(&appointment.Appointment{}).
		Where("id = ? AND payment_status <> ?", id, appointment.PaymentStatusPaid).
		Updates(map[string]interface{}{
			"payment_intent_id": intentID,
			"updated_at":        time.Now(),
		})
	if res.Error != nil && isUniqueViolation(res.Error) {
		return booking.ErrIntentAlreadyReconciled
	}
	return res.Error
}

// ListPendingPaymentWithIntent returns appointments that carry an intent
// but never got marked paid, created before the cutoff. The settlement
// sweep re-checks these against the processor.
func (r *AppointmentRepository) ListPendingPaymentWithIntent(olderThan time.Time, limit int) ([]*appointment.Appointment, error) {
	var appts []*appointment.Appointment
	err := r.db.Where("payment_status = ? AND payment_intent_id IS NOT NULL AND created_at < ?",
		appointment.PaymentStatusPending, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&appts).Error
	return appts, err
}

// isUniqueViolation matches the duplicate-key error across the postgres
// driver and the sqlite driver used in tests.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
