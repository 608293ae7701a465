package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeBookingConfirmed = "booking.confirmed"
	EventTypePaymentFailed    = "payment.failed"
	EventTypeSettlementStuck  = "settlement.stuck"
)

type BookingConfirmedEvent struct {
	BaseEvent
	AppointmentID   int64  `json:"appointment_id"`
	ClientID        int64  `json:"client_id"`
	TherapistID     int64  `json:"therapist_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

func NewBookingConfirmedEvent(appointmentID, clientID, therapistID int64, paymentIntentID string, amount int64, currency string) *BookingConfirmedEvent {
	return &BookingConfirmedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeBookingConfirmed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"appointment_id":    appointmentID,
				"client_id":         clientID,
				"therapist_id":      therapistID,
				"payment_intent_id": paymentIntentID,
				"amount":            amount,
				"currency":          currency,
			},
		},
		AppointmentID:   appointmentID,
		ClientID:        clientID,
		TherapistID:     therapistID,
		PaymentIntentID: paymentIntentID,
		Amount:          amount,
		Currency:        currency,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	PaymentIntentID string `json:"payment_intent_id"`
	ClientID        int64  `json:"client_id"`
	Amount          int64  `json:"amount"`
	FailureReason   string `json:"failure_reason"`
}

func NewPaymentFailedEvent(paymentIntentID string, clientID, amount int64, failureReason string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_intent_id": paymentIntentID,
				"client_id":         clientID,
				"amount":            amount,
				"failure_reason":    failureReason,
			},
		},
		PaymentIntentID: paymentIntentID,
		ClientID:        clientID,
		Amount:          amount,
		FailureReason:   failureReason,
	}
}

// SettlementStuckEvent is published when money has moved but the local
// commit keeps failing. It feeds the support escalation path; the user is
// never re-charged for it.
type SettlementStuckEvent struct {
	BaseEvent
	PaymentIntentID string `json:"payment_intent_id"`
	ClientID        int64  `json:"client_id"`
	Amount          int64  `json:"amount"`
	Reason          string `json:"reason"`
}

func NewSettlementStuckEvent(paymentIntentID string, clientID, amount int64, reason string) *SettlementStuckEvent {
	return &SettlementStuckEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeSettlementStuck,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_intent_id": paymentIntentID,
				"client_id":         clientID,
				"amount":            amount,
				"reason":            reason,
			},
		},
		PaymentIntentID: paymentIntentID,
		ClientID:        clientID,
		Amount:          amount,
		Reason:          reason,
	}
}
