package booking

import (
	"time"

	apperrors "github.com/frahmantamala/counseling-booking/internal"
	"github.com/frahmantamala/counseling-booking/internal/core/common/validation"
	"github.com/frahmantamala/counseling-booking/internal/core/datamodel/appointment"
)

// CheckoutRequestDTO is the payload opening a fresh booking checkout. The
// session fee is looked up server-side; the client never sends an amount.
type CheckoutRequestDTO struct {
	TherapistID      int64     `json:"therapist_id"`
	SlotStart        time.Time `json:"slot_start"`
	ConsultationType string    `json:"consultation_type"`
	Notes            string    `json:"notes,omitempty"`
}

func (dto CheckoutRequestDTO) Validate() *apperrors.AppError {
	validator := validation.NewValidator()
	validator.Field("therapist_id", dto.TherapistID).Required()
	validator.Field("slot_start", dto.SlotStart).Required().NotPast()
	validator.Field("consultation_type", dto.ConsultationType).
		Required().
		OneOf(appointment.ConsultationOnline, appointment.ConsultationInPerson)
	validator.Field("notes", dto.Notes).MaxLength(1000)
	return validator.Validate()
}

func (dto CheckoutRequestDTO) ToDraft() *appointment.Draft {
	return &appointment.Draft{
		TherapistID:      dto.TherapistID,
		SlotStart:        dto.SlotStart.UTC(),
		ConsultationType: dto.ConsultationType,
		Notes:            dto.Notes,
	}
}

// CheckoutResponseDTO hands the browser everything it needs to mount the
// payment widget.
type CheckoutResponseDTO struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Sandbox         bool   `json:"sandbox,omitempty"`
}

func NewCheckoutResponse(session *CheckoutSession) *CheckoutResponseDTO {
	return &CheckoutResponseDTO{
		PaymentIntentID: session.IntentID,
		ClientSecret:    session.ClientSecret,
		Amount:          session.Amount,
		Currency:        session.Currency,
		Sandbox:         session.Sandbox,
	}
}

// WidgetEventDTO is one raw callback relayed from the browser widget.
type WidgetEventDTO struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

func (dto WidgetEventDTO) Validate() *apperrors.AppError {
	validator := validation.NewValidator()
	validator.Field("type", dto.Type).Required()
	return validator.Validate()
}

// PaymentStatusDTO is the client-facing view of checkout progress.
type PaymentStatusDTO struct {
	PaymentIntentID string `json:"payment_intent_id"`
	Phase           string `json:"phase"`
	Outcome         string `json:"outcome,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
	AppointmentID   int64  `json:"appointment_id,omitempty"`
}

func NewPaymentStatusResponse(view *StatusView) *PaymentStatusDTO {
	return &PaymentStatusDTO{
		PaymentIntentID: view.IntentID,
		Phase:           view.Phase,
		Outcome:         view.Outcome,
		FailureReason:   view.FailureReason,
		AppointmentID:   view.AppointmentID,
	}
}

// AppointmentDTO is the serialized appointment returned by read endpoints.
type AppointmentDTO struct {
	ID               int64      `json:"id"`
	TherapistID      int64      `json:"therapist_id"`
	SlotStart        time.Time  `json:"slot_start"`
	ConsultationType string     `json:"consultation_type"`
	Notes            string     `json:"notes,omitempty"`
	Amount           int64      `json:"amount"`
	Currency         string     `json:"currency"`
	Status           string     `json:"status"`
	PaymentStatus    string     `json:"payment_status"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func NewAppointmentResponse(a *appointment.Appointment) *AppointmentDTO {
	return &AppointmentDTO{
		ID:               a.ID,
		TherapistID:      a.TherapistID,
		SlotStart:        a.SlotStart,
		ConsultationType: a.ConsultationType,
		Notes:            a.Notes,
		Amount:           a.Amount,
		Currency:         a.Currency,
		Status:           a.Status,
		PaymentStatus:    a.PaymentStatus,
		PaidAt:           a.PaidAt,
		CreatedAt:        a.CreatedAt,
	}
}

func NewAppointmentListResponse(appts []*appointment.Appointment) []*AppointmentDTO {
	out := make([]*AppointmentDTO, 0, len(appts))
	for _, a := range appts {
		out = append(out, NewAppointmentResponse(a))
	}
	return out
}
