package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/frahmantamala/counseling-booking/internal"
	"github.com/frahmantamala/counseling-booking/internal/core/datamodel/appointment"
	"github.com/frahmantamala/counseling-booking/internal/core/events"
)

var reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "booking_reconciliations_total",
	Help: "Reconciliation attempts by path and result",
}, []string{"path", "result"})

// ErrIntentAlreadyReconciled is returned by Repository.Create when the
// unique index on payment_intent_id rejects a second row for the same
// intent. The engine recovers by reading the existing row.
var ErrIntentAlreadyReconciled = errors.New("appointment already exists for payment intent")

// ReconcileTarget names what a confirmed settlement should materialize
// into: a fresh appointment from a draft, or an existing pending
// appointment being re-paid. Exactly one of Draft and AppointmentID is set.
type ReconcileTarget struct {
	ClientID      int64
	Draft         *appointment.Draft
	AppointmentID int64
}

// Engine turns a confirmed settlement into exactly one persisted
// appointment, however many times it is invoked for the same intent id.
type Engine struct {
	repo     Repository
	eventBus *events.EventBus
	logger   *slog.Logger
}

func NewEngine(repo Repository, eventBus *events.EventBus, logger *slog.Logger) *Engine {
	return &Engine{
		repo:     repo,
		eventBus: eventBus,
		logger:   logger,
	}
}

// Reconcile commits the booking for a settled intent. Persistence failures
// here are reported as the post-settlement class: the money has already
// moved, so this must never be presented as a payment failure.
func (e *Engine) Reconcile(ctx context.Context, intentID string, target ReconcileTarget) (*appointment.Appointment, error) {
	if target.AppointmentID != 0 {
		return e.reconcileExisting(ctx, intentID, target)
	}
	return e.reconcileFresh(ctx, intentID, target)
}

func (e *Engine) reconcileFresh(ctx context.Context, intentID string, target ReconcileTarget) (*appointment.Appointment, error) {
	if existing, err := e.repo.FindByPaymentIntent(intentID); err == nil && existing != nil {
		// Duplicate invocation (page reload, racing poll session); the
		// first reconciliation already materialized the row.
		e.logger.Info("reconcile: appointment already exists for intent, no-op",
			"intent_id", intentID,
			"appointment_id", existing.ID)
		reconciliations.WithLabelValues("fresh", "noop").Inc()
		return existing, nil
	}

	draft := target.Draft
	if draft == nil {
		reconciliations.WithLabelValues("fresh", "error").Inc()
		return nil, apperrors.NewPostSettlementError(fmt.Errorf("no draft for intent %s", intentID))
	}

	now := time.Now().UTC()
	appt := &appointment.Appointment{
		ClientID:         target.ClientID,
		TherapistID:      draft.TherapistID,
		SlotStart:        draft.SlotStart,
		ConsultationType: draft.ConsultationType,
		Notes:            draft.Notes,
		Amount:           draft.Amount,
		Currency:         draft.Currency,
		Status:           appointment.StatusPending,
		PaymentStatus:    appointment.PaymentStatusPaid,
		PaymentIntentID:  &intentID,
		PaidAt:           &now,
	}

	if err := e.repo.Create(appt); err != nil {
		if errors.Is(err, ErrIntentAlreadyReconciled) {
			// Lost the insert race to a concurrent reconciliation.
			existing, findErr := e.repo.FindByPaymentIntent(intentID)
			if findErr == nil && existing != nil {
				reconciliations.WithLabelValues("fresh", "noop").Inc()
				return existing, nil
			}
			if findErr != nil {
				err = findErr
			}
		}
		e.logger.Error("reconcile: failed to persist appointment after settlement",
			"intent_id", intentID,
			"error", err)
		reconciliations.WithLabelValues("fresh", "error").Inc()
		e.publishStuck(ctx, intentID, target.ClientID, draft.Amount, err)
		return nil, apperrors.NewPostSettlementError(err)
	}

	e.logger.Info("reconcile: appointment created",
		"intent_id", intentID,
		"appointment_id", appt.ID,
		"client_id", appt.ClientID,
		"therapist_id", appt.TherapistID)
	reconciliations.WithLabelValues("fresh", "created").Inc()

	e.eventBus.Publish(ctx, events.NewBookingConfirmedEvent(
		appt.ID, appt.ClientID, appt.TherapistID, intentID, appt.Amount, appt.Currency))

	return appt, nil
}

func (e *Engine) reconcileExisting(ctx context.Context, intentID string, target ReconcileTarget) (*appointment.Appointment, error) {
	appt, err := e.repo.GetByID(target.AppointmentID)
	if err == nil && appt == nil {
		err = fmt.Errorf("appointment %d not found", target.AppointmentID)
	}
	if err != nil {
		e.logger.Error("reconcile: appointment not found after settlement",
			"intent_id", intentID,
			"appointment_id", target.AppointmentID,
			"error", err)
		reconciliations.WithLabelValues("retry", "error").Inc()
		e.publishStuck(ctx, intentID, target.ClientID, 0, err)
		return nil, apperrors.NewPostSettlementError(err)
	}

	if appt.IsPaid() {
		reconciliations.WithLabelValues("retry", "noop").Inc()
		return appt, nil
	}

	now := time.Now().UTC()
	applied, err := e.repo.MarkPaid(appt.ID, intentID, now)
	if err != nil {
		e.logger.Error("reconcile: failed to mark appointment paid after settlement",
			"intent_id", intentID,
			"appointment_id", appt.ID,
			"error", err)
		reconciliations.WithLabelValues("retry", "error").Inc()
		e.publishStuck(ctx, intentID, target.ClientID, appt.Amount, err)
		return nil, apperrors.NewPostSettlementError(err)
	}

	if !applied {
		// Another reconciliation got there first; no second confirmation
		// is emitted.
		fresh, err := e.repo.GetByID(appt.ID)
		if err == nil && fresh == nil {
			err = fmt.Errorf("appointment %d disappeared after settlement", appt.ID)
		}
		if err != nil {
			reconciliations.WithLabelValues("retry", "error").Inc()
			e.publishStuck(ctx, intentID, target.ClientID, appt.Amount, err)
			return nil, apperrors.NewPostSettlementError(err)
		}
		reconciliations.WithLabelValues("retry", "noop").Inc()
		return fresh, nil
	}

	e.logger.Info("reconcile: appointment marked paid",
		"intent_id", intentID,
		"appointment_id", appt.ID)
	reconciliations.WithLabelValues("retry", "updated").Inc()

	e.eventBus.Publish(ctx, events.NewBookingConfirmedEvent(
		appt.ID, appt.ClientID, appt.TherapistID, intentID, appt.Amount, appt.Currency))

	appt.PaymentStatus = appointment.PaymentStatusPaid
	appt.PaymentIntentID = &intentID
	appt.PaidAt = &now
	return appt, nil
}

func (e *Engine) publishStuck(ctx context.Context, intentID string, clientID, amount int64, cause error) {
	e.eventBus.Publish(ctx, events.NewSettlementStuckEvent(intentID, clientID, amount, cause.Error()))
}
