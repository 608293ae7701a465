package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/frahmantamala/counseling-booking/internal"
	"github.com/frahmantamala/counseling-booking/internal/core/datamodel/appointment"
	therapistmodel "github.com/frahmantamala/counseling-booking/internal/core/datamodel/therapist"
	"github.com/frahmantamala/counseling-booking/internal/core/events"
	"github.com/frahmantamala/counseling-booking/internal/settlement"
	"github.com/frahmantamala/counseling-booking/internal/widget"
)

// TherapistReader is the slice of the therapist catalog the booking flow
// needs to price and validate drafts.
type TherapistReader interface {
	GetByID(id int64) (*therapistmodel.Therapist, error)
}

type Service struct {
	repo       Repository
	gateway    GatewayAPI
	therapists TherapistReader
	engine     *Engine
	eventBus   *events.EventBus
	logger     *slog.Logger

	pollerCfg     settlement.Config
	widgetTimeout time.Duration

	sessions *sessionRegistry
}

func NewService(
	repo Repository,
	gateway GatewayAPI,
	therapists TherapistReader,
	engine *Engine,
	eventBus *events.EventBus,
	pollerCfg settlement.Config,
	widgetTimeout time.Duration,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:          repo,
		gateway:       gateway,
		therapists:    therapists,
		engine:        engine,
		eventBus:      eventBus,
		logger:        logger,
		pollerCfg:     pollerCfg,
		widgetTimeout: widgetTimeout,
		sessions:      newSessionRegistry(),
	}
}

// StartCheckout opens a checkout for a fresh booking draft. No appointment
// row exists yet; the draft lives in the session until settlement confirms.
func (s *Service) StartCheckout(ctx context.Context, clientID int64, draft *appointment.Draft) (*CheckoutSession, error) {
	th, err := s.therapists.GetByID(draft.TherapistID)
	if err != nil || th == nil || !th.Active {
		return nil, apperrors.ErrTherapistNotFound
	}

	switch draft.ConsultationType {
	case appointment.ConsultationOnline:
		if !th.OffersOnline {
			return nil, apperrors.NewValidationError("therapist does not offer online sessions", apperrors.ErrCodeInvalidSlot)
		}
	case appointment.ConsultationInPerson:
		if !th.OffersInPerson {
			return nil, apperrors.NewValidationError("therapist does not offer in-person sessions", apperrors.ErrCodeInvalidSlot)
		}
	}

	// Price comes from the catalog, never from the client.
	draft.Amount = th.SessionFee
	draft.Currency = th.Currency

	return s.openSession(ctx, clientID, draft.Amount, draft.Currency, draft, 0)
}

// StartRetryCheckout opens a checkout against an existing unpaid
// appointment. The original intent is abandoned; a new one is created and
// the appointment is only touched again when the new intent settles.
func (s *Service) StartRetryCheckout(ctx context.Context, clientID, appointmentID int64) (*CheckoutSession, error) {
	appt, err := s.repo.GetByID(appointmentID)
	if err != nil || appt == nil {
		return nil, apperrors.ErrAppointmentNotFound
	}
	if appt.ClientID != clientID {
		return nil, apperrors.ErrUnauthorizedAccess
	}
	if !appt.CanRetryPayment() {
		return nil, apperrors.NewConflictError("appointment is not awaiting payment", apperrors.ErrCodeAppointmentNotRetry)
	}

	session, err := s.openSession(ctx, clientID, appt.Amount, appt.Currency, nil, appt.ID)
	if err != nil {
		return nil, err
	}

	// The intent must be on the row before the widget can collect money:
	// if this session dies after the user pays, the settlement sweep and
	// the recheck fallback locate the appointment through it.
	if err := s.repo.AttachIntent(appt.ID, session.IntentID); err != nil {
		s.logger.Error("failed to attach intent to appointment",
			"intent_id", session.IntentID,
			"appointment_id", appt.ID,
			"error", err)
		session.stopPolling()
		session.Widget.Teardown()
		s.sessions.remove(session.IntentID)
		return nil, apperrors.NewInternalError("could not open retry checkout", err)
	}

	return session, nil
}

func (s *Service) openSession(ctx context.Context, clientID, amount int64, currency string, draft *appointment.Draft, appointmentID int64) (*CheckoutSession, error) {
	customerRef, err := s.gateway.CreateCustomer(ctx, clientID)
	if err != nil {
		return nil, err
	}

	intent, err := s.gateway.CreateIntent(ctx, amount, currency, customerRef)
	if err != nil {
		return nil, err
	}

	session := &CheckoutSession{
		IntentID:      intent.ID,
		ClientSecret:  intent.ClientSecret,
		Sandbox:       intent.Sandbox,
		ClientID:      clientID,
		Amount:        amount,
		Currency:      currency,
		Draft:         draft,
		AppointmentID: appointmentID,
		phase:         PhaseAwaitingWidget,
		createdAt:     time.Now(),
	}
	session.Widget = widget.NewSession(intent.ID, s.widgetTimeout, nil, s.logger)
	s.sessions.put(session)

	go s.consumeWidgetEvents(session)

	s.logger.Info("checkout session opened",
		"intent_id", intent.ID,
		"client_id", clientID,
		"appointment_id", appointmentID,
		"amount", amount,
		"currency", currency,
		"sandbox", intent.Sandbox)

	return session, nil
}

// HandleWidgetEvent ingests one raw widget callback for a live session.
// Unknown event types and unknown intents are rejected; duplicate or
// post-terminal events are dropped by the adapter and acknowledged here.
func (s *Service) HandleWidgetEvent(ctx context.Context, clientID int64, intentID string, raw widget.RawEvent) error {
	session, ok := s.sessions.get(intentID)
	if !ok {
		return apperrors.ErrSessionNotFound
	}
	if session.ClientID != clientID {
		return apperrors.ErrUnauthorizedAccess
	}

	ev, err := widget.ParseEvent(raw)
	if err != nil {
		return apperrors.NewValidationError(err.Error(), apperrors.ErrCodeValidationFailed)
	}

	session.Widget.Deliver(ev)
	return nil
}

// consumeWidgetEvents drives one checkout session from widget signals to a
// terminal outcome. It is the only goroutine that advances the session
// phase past awaiting_widget.
func (s *Service) consumeWidgetEvents(session *CheckoutSession) {
	for ev := range session.Widget.Events() {
		switch ev.Kind {
		case widget.EventReady:
			session.setPhase(PhaseWidgetReady)

		case widget.EventFailed:
			session.setOutcome(OutcomeFailed, ev.Reason, 0)
			s.eventBus.Publish(context.Background(),
				events.NewPaymentFailedEvent(session.IntentID, session.ClientID, session.Amount, ev.Reason))
			session.Widget.Teardown()
			return

		case widget.EventSettled:
			session.setPhase(PhasePolling)
			s.startPolling(session)
			return
		}
	}
}

// startPolling confirms the widget's optimistic "settled" against the
// processor. The widget report is never trusted on its own.
func (s *Service) startPolling(session *CheckoutSession) {
	ctx, cancel := context.WithCancel(context.Background())
	session.setCancelPoll(cancel)

	go func() {
		defer cancel()

		poller := settlement.NewPoller(s.gateway, s.pollerCfg, s.logger)
		result, err := poller.Run(ctx, session.IntentID)
		if err != nil {
			// Cancelled run: the user navigated away or the server is
			// shutting down. The recheck path picks it up later.
			s.logger.Info("settlement polling discarded",
				"intent_id", session.IntentID,
				"error", err)
			return
		}

		s.applySettlementResult(session, result)
	}()
}

func (s *Service) applySettlementResult(session *CheckoutSession, result settlement.Result) {
	switch result.Outcome {
	case settlement.OutcomeSucceeded:
		if !session.Widget.Mounted() {
			// The page is gone; nothing should commit on its behalf.
			s.logger.Info("settlement confirmed after unmount, leaving for recheck",
				"intent_id", session.IntentID)
			return
		}
		s.commitSettlement(context.Background(), session)

	case settlement.OutcomeFailed:
		session.setOutcome(OutcomeFailed, string(result.LastStatus), 0)
		s.eventBus.Publish(context.Background(),
			events.NewPaymentFailedEvent(session.IntentID, session.ClientID, session.Amount, string(result.LastStatus)))
		session.Widget.Teardown()

	case settlement.OutcomeTimedOut:
		// Not a failure: the true state is unknown. The session stays
		// alive so the client can recheck.
		session.setOutcome(OutcomeTimedOut, "", 0)
	}
}

// commitSettlement runs the reconciliation engine for a confirmed intent
// and records the outcome on the session.
func (s *Service) commitSettlement(ctx context.Context, session *CheckoutSession) {
	appt, err := s.engine.Reconcile(ctx, session.IntentID, ReconcileTarget{
		ClientID:      session.ClientID,
		Draft:         session.Draft,
		AppointmentID: session.AppointmentID,
	})
	if err != nil {
		session.setOutcome(OutcomeStuck, "", 0)
		return
	}
	session.setOutcome(OutcomeSucceeded, "", appt.ID)
	session.Widget.Teardown()
}

// StatusView is the polling surface the client reads while checkout runs.
type StatusView struct {
	IntentID      string
	Phase         string
	Outcome       string
	FailureReason string
	AppointmentID int64
}

// PaymentStatus reports the current checkout state for an intent. When the
// live session is gone (server restart, reaped session) it falls back to
// the persisted appointment, which is authoritative once paid.
func (s *Service) PaymentStatus(ctx context.Context, clientID int64, intentID string) (*StatusView, error) {
	if session, ok := s.sessions.get(intentID); ok {
		if session.ClientID != clientID {
			return nil, apperrors.ErrUnauthorizedAccess
		}
		phase, outcome, reason, appointmentID := session.snapshot()
		return &StatusView{
			IntentID:      intentID,
			Phase:         phase,
			Outcome:       outcome,
			FailureReason: reason,
			AppointmentID: appointmentID,
		}, nil
	}

	appt, err := s.repo.FindByPaymentIntent(intentID)
	if err != nil || appt == nil {
		return nil, apperrors.ErrSessionNotFound
	}
	if appt.ClientID != clientID {
		return nil, apperrors.ErrUnauthorizedAccess
	}
	view := &StatusView{
		IntentID:      intentID,
		Phase:         PhaseDone,
		AppointmentID: appt.ID,
	}
	if appt.IsPaid() {
		view.Outcome = OutcomeSucceeded
	} else {
		// A retry intent was attached but never reconciled; the true
		// settlement state is unknown until a recheck or the sweep
		// resolves it.
		view.Outcome = OutcomeTimedOut
	}
	return view, nil
}

// RecheckSettlement performs a single on-demand status check for an intent
// whose polling timed out or whose session lost its poller. A confirmed
// settlement reconciles exactly like the polling path.
func (s *Service) RecheckSettlement(ctx context.Context, clientID int64, intentID string) (*StatusView, error) {
	session, ok := s.sessions.get(intentID)
	if !ok {
		return s.recheckWithoutSession(ctx, clientID, intentID)
	}
	if session.ClientID != clientID {
		return nil, apperrors.ErrUnauthorizedAccess
	}

	status, err := s.gateway.GetIntentStatus(ctx, intentID)
	if err != nil {
		return nil, err
	}

	switch {
	case status.Succeeded():
		s.commitSettlement(ctx, session)
	case status.Terminal():
		session.setOutcome(OutcomeFailed, string(status), 0)
		s.eventBus.Publish(ctx,
			events.NewPaymentFailedEvent(intentID, clientID, session.Amount, string(status)))
		session.Widget.Teardown()
	}

	phase, outcome, reason, appointmentID := session.snapshot()
	view := &StatusView{
		IntentID:      intentID,
		Phase:         phase,
		Outcome:       outcome,
		FailureReason: reason,
		AppointmentID: appointmentID,
	}
	if outcome == OutcomeStuck {
		return view, apperrors.NewPostSettlementError(errors.New("reconciliation pending support review"))
	}
	return view, nil
}

// recheckWithoutSession serves the recheck once the live session is gone
// (restart, reap). A persisted appointment carrying the intent is the only
// trail left; a confirmed settlement reconciles it directly.
func (s *Service) recheckWithoutSession(ctx context.Context, clientID int64, intentID string) (*StatusView, error) {
	appt, err := s.repo.FindByPaymentIntent(intentID)
	if err != nil || appt == nil {
		return nil, apperrors.ErrSessionNotFound
	}
	if appt.ClientID != clientID {
		return nil, apperrors.ErrUnauthorizedAccess
	}

	view := &StatusView{
		IntentID:      intentID,
		Phase:         PhaseDone,
		AppointmentID: appt.ID,
	}

	if appt.IsPaid() {
		view.Outcome = OutcomeSucceeded
		return view, nil
	}

	status, err := s.gateway.GetIntentStatus(ctx, intentID)
	if err != nil {
		return nil, err
	}

	switch {
	case status.Succeeded():
		if _, err := s.engine.Reconcile(ctx, intentID, ReconcileTarget{
			ClientID:      appt.ClientID,
			AppointmentID: appt.ID,
		}); err != nil {
			view.Outcome = OutcomeStuck
			return view, err
		}
		view.Outcome = OutcomeSucceeded
	case status.Terminal():
		view.Outcome = OutcomeFailed
		view.FailureReason = string(status)
	default:
		view.Outcome = OutcomeTimedOut
	}
	return view, nil
}

// CancelCheckout abandons a checkout session. It only releases local
// resources; the processor-side intent is never cancelled, so a payment
// that races the cancellation is still recoverable through recheck.
func (s *Service) CancelCheckout(ctx context.Context, clientID int64, intentID string) error {
	session, ok := s.sessions.get(intentID)
	if !ok {
		return apperrors.ErrSessionNotFound
	}
	if session.ClientID != clientID {
		return apperrors.ErrUnauthorizedAccess
	}

	session.stopPolling()
	session.Widget.Teardown()
	s.sessions.remove(intentID)

	s.logger.Info("checkout session cancelled", "intent_id", intentID, "client_id", clientID)
	return nil
}

// GetAppointment returns one appointment owned by the client.
func (s *Service) GetAppointment(ctx context.Context, clientID, appointmentID int64) (*appointment.Appointment, error) {
	appt, err := s.repo.GetByID(appointmentID)
	if err != nil || appt == nil {
		return nil, apperrors.ErrAppointmentNotFound
	}
	if appt.ClientID != clientID {
		return nil, apperrors.ErrUnauthorizedAccess
	}
	return appt, nil
}

// ListAppointments returns the client's appointments, newest first.
func (s *Service) ListAppointments(ctx context.Context, clientID int64, limit, offset int) ([]*appointment.Appointment, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.GetByClientID(clientID, limit, offset)
}

// ReapSessions drops sessions older than maxAge. Reaped sessions lose
// nothing durable: paid intents are already persisted and unpaid ones can
// be restarted.
func (s *Service) ReapSessions(maxAge time.Duration) int {
	reaped := s.sessions.reapOlderThan(time.Now().Add(-maxAge))
	for _, session := range reaped {
		session.stopPolling()
		session.Widget.Teardown()
	}
	if len(reaped) > 0 {
		s.logger.Info("reaped stale checkout sessions", "count", len(reaped))
	}
	return len(reaped)
}
