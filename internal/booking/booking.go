package booking

import (
	"context"
	"sync"
	"time"

	"github.com/frahmantamala/counseling-booking/internal/core/datamodel/appointment"
	gatewaytypes "github.com/frahmantamala/counseling-booking/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/counseling-booking/internal/widget"
)

// Repository is the persistence collaborator for appointments. The unique
// index on payment_intent_id is the idempotency anchor; Create translates
// its violation into ErrIntentAlreadyReconciled for the engine to recover.
type Repository interface {
	Create(a *appointment.Appointment) error
	GetByID(id int64) (*appointment.Appointment, error)
	GetByClientID(clientID int64, limit, offset int) ([]*appointment.Appointment, error)
	FindByPaymentIntent(intentID string) (*appointment.Appointment, error)
	// MarkPaid applies the paid transition conditioned on the row not
	// already being paid. Returns false when the row was already paid and
	// nothing changed.
	MarkPaid(id int64, intentID string, paidAt time.Time) (bool, error)
	// AttachIntent records the intent opened for a retry payment on the
	// unpaid appointment, so the settlement sweep and the recheck
	// fallback can find the row if the session dies before reconciling.
	// A no-op on rows that are already paid.
	AttachIntent(id int64, intentID string) error
	ListPendingPaymentWithIntent(olderThan time.Time, limit int) ([]*appointment.Appointment, error)
}

// GatewayAPI is the slice of the payment gateway the booking flow uses.
type GatewayAPI interface {
	CreateCustomer(ctx context.Context, userID int64) (string, error)
	CreateIntent(ctx context.Context, amount int64, currency, customerRef string) (*gatewaytypes.PaymentIntent, error)
	GetIntentStatus(ctx context.Context, intentID string) (gatewaytypes.IntentStatus, error)
}

// Checkout session phases, advanced strictly forward by the service.
const (
	PhaseAwaitingWidget = "awaiting_widget"
	PhaseWidgetReady    = "widget_ready"
	PhasePolling        = "polling"
	PhaseDone           = "done"
)

// Terminal checkout outcomes exposed to the status endpoint.
const (
	OutcomeNone      = ""
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeTimedOut  = "timed_out"
	OutcomeStuck     = "post_settlement_failure"
)

// CheckoutSession is the in-memory state of one booking attempt, keyed by
// payment intent id. Sessions never coordinate with each other; duplicate
// sessions for the same intent are safe because reconciliation is
// idempotent on the intent id.
type CheckoutSession struct {
	IntentID     string
	ClientSecret string
	Sandbox      bool
	ClientID     int64
	Amount       int64
	Currency     string

	// Draft is set on the fresh-booking path, AppointmentID on the
	// retry-payment path. Exactly one is populated.
	Draft         *appointment.Draft
	AppointmentID int64

	Widget *widget.Session

	mu            sync.Mutex
	phase         string
	outcome       string
	failureReason string
	appointmentID int64
	cancelPoll    context.CancelFunc
	createdAt     time.Time
}

func (s *CheckoutSession) setPhase(phase string) {
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()
}

func (s *CheckoutSession) setOutcome(outcome, failureReason string, appointmentID int64) {
	s.mu.Lock()
	s.phase = PhaseDone
	s.outcome = outcome
	s.failureReason = failureReason
	if appointmentID != 0 {
		s.appointmentID = appointmentID
	}
	s.mu.Unlock()
}

func (s *CheckoutSession) snapshot() (phase, outcome, failureReason string, appointmentID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase, s.outcome, s.failureReason, s.appointmentID
}

func (s *CheckoutSession) setCancelPoll(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancelPoll = cancel
	s.mu.Unlock()
}

// stopPolling cancels a running poll, if any. Safe to call repeatedly.
func (s *CheckoutSession) stopPolling() {
	s.mu.Lock()
	cancel := s.cancelPoll
	s.cancelPoll = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// sessionRegistry holds live checkout sessions. Abandoned sessions are
// reaped by age; the authoritative state lives at the processor, so a
// reaped session is reconstructable via the recheck path.
type sessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*CheckoutSession
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*CheckoutSession)}
}

func (r *sessionRegistry) put(s *CheckoutSession) {
	r.mu.Lock()
	r.sessions[s.IntentID] = s
	r.mu.Unlock()
}

func (r *sessionRegistry) get(intentID string) (*CheckoutSession, bool) {
	r.mu.RLock()
	s, ok := r.sessions[intentID]
	r.mu.RUnlock()
	return s, ok
}

func (r *sessionRegistry) remove(intentID string) {
	r.mu.Lock()
	delete(r.sessions, intentID)
	r.mu.Unlock()
}

func (r *sessionRegistry) reapOlderThan(cutoff time.Time) []*CheckoutSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reaped []*CheckoutSession
	for id, s := range r.sessions {
		if s.createdAt.Before(cutoff) {
			reaped = append(reaped, s)
			delete(r.sessions, id)
		}
	}
	return reaped
}
