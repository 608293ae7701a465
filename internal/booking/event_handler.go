package booking

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/counseling-booking/internal/core/events"
)

// Notifier delivers client-facing messages. Implementations are external
// (email, push); failures are retried by the caller, not here.
type Notifier interface {
	BookingConfirmed(ctx context.Context, clientID, appointmentID int64) error
	PaymentFailed(ctx context.Context, clientID int64, reason string) error
}

// EventHandler reacts to booking lifecycle events: confirmations fan out to
// the client, stuck settlements escalate to support.
type EventHandler struct {
	notifier Notifier
	logger   *slog.Logger
}

func NewEventHandler(notifier Notifier, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		notifier: notifier,
		logger:   logger,
	}
}

func (h *EventHandler) HandleBookingConfirmed(ctx context.Context, event events.Event) error {
	confirmed, ok := event.(*events.BookingConfirmedEvent)
	if !ok {
		h.logger.Error("invalid event type for booking confirmed handler", "event_type", event.EventType())
		return fmt.Errorf("expected BookingConfirmedEvent, got %T", event)
	}

	h.logger.Info("handling booking confirmed event",
		"appointment_id", confirmed.AppointmentID,
		"client_id", confirmed.ClientID,
		"therapist_id", confirmed.TherapistID,
		"event_id", confirmed.EventID())

	if h.notifier == nil {
		return nil
	}
	if err := h.notifier.BookingConfirmed(ctx, confirmed.ClientID, confirmed.AppointmentID); err != nil {
		h.logger.Error("failed to send booking confirmation",
			"error", err,
			"appointment_id", confirmed.AppointmentID,
			"client_id", confirmed.ClientID)
		return err
	}
	return nil
}

func (h *EventHandler) HandlePaymentFailed(ctx context.Context, event events.Event) error {
	failed, ok := event.(*events.PaymentFailedEvent)
	if !ok {
		h.logger.Error("invalid event type for payment failed handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentFailedEvent, got %T", event)
	}

	h.logger.Info("handling payment failed event",
		"intent_id", failed.PaymentIntentID,
		"client_id", failed.ClientID,
		"reason", failed.FailureReason,
		"event_id", failed.EventID())

	if h.notifier == nil {
		return nil
	}
	return h.notifier.PaymentFailed(ctx, failed.ClientID, failed.FailureReason)
}

func (h *EventHandler) HandleSettlementStuck(ctx context.Context, event events.Event) error {
	stuck, ok := event.(*events.SettlementStuckEvent)
	if !ok {
		h.logger.Error("invalid event type for settlement stuck handler", "event_type", event.EventType())
		return fmt.Errorf("expected SettlementStuckEvent, got %T", event)
	}

	// Support escalation path. The log line is the minimum contract; an
	// alert rule keys on it in production.
	h.logger.Error("settlement stuck: funds confirmed but booking not persisted",
		"intent_id", stuck.PaymentIntentID,
		"client_id", stuck.ClientID,
		"amount", stuck.Amount,
		"reason", stuck.Reason,
		"event_id", stuck.EventID())

	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypeBookingConfirmed, h.HandleBookingConfirmed)
	eventBus.Subscribe(events.EventTypePaymentFailed, h.HandlePaymentFailed)
	eventBus.Subscribe(events.EventTypeSettlementStuck, h.HandleSettlementStuck)

	h.logger.Info("booking event handlers registered",
		"handlers", []string{
			events.EventTypeBookingConfirmed,
			events.EventTypePaymentFailed,
			events.EventTypeSettlementStuck,
		})
}
