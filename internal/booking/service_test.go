package booking

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/frahmantamala/counseling-booking/internal"
	"github.com/frahmantamala/counseling-booking/internal/core/datamodel/appointment"
	gatewaytypes "github.com/frahmantamala/counseling-booking/internal/core/datamodel/paymentgateway"
	therapistmodel "github.com/frahmantamala/counseling-booking/internal/core/datamodel/therapist"
	"github.com/frahmantamala/counseling-booking/internal/core/events"
	"github.com/frahmantamala/counseling-booking/internal/settlement"
	"github.com/frahmantamala/counseling-booking/internal/widget"
)

// mockGateway scripts processor behavior per intent.
type mockGateway struct {
	mu           sync.Mutex
	nextIntent   int
	statuses     map[string][]gatewaytypes.IntentStatus
	statusCalls  map[string]int
	statusErrs   map[string]error
	createErr    error
	customerRef  string
	customerErr  error
	createdCount int
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		customerRef: "cust_1",
		statuses:    make(map[string][]gatewaytypes.IntentStatus),
		statusCalls: make(map[string]int),
		statusErrs:  make(map[string]error),
	}
}

func (m *mockGateway) CreateCustomer(ctx context.Context, userID int64) (string, error) {
	if m.customerErr != nil {
		return "", m.customerErr
	}
	return m.customerRef, nil
}

func (m *mockGateway) CreateIntent(ctx context.Context, amount int64, currency, customerRef string) (*gatewaytypes.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.nextIntent++
	m.createdCount++
	return &gatewaytypes.PaymentIntent{
		ID:           "pi_test_1",
		Amount:       amount,
		Currency:     currency,
		Status:       gatewaytypes.IntentStatusRequiresPayment,
		ClientSecret: "secret_1",
	}, nil
}

func (m *mockGateway) GetIntentStatus(ctx context.Context, intentID string) (gatewaytypes.IntentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := m.statuses[intentID]
	call := m.statusCalls[intentID]
	m.statusCalls[intentID]++
	if err := m.statusErrs[intentID]; err != nil {
		return "", err
	}
	if len(seq) == 0 {
		return gatewaytypes.IntentStatusRequiresPayment, nil
	}
	if call >= len(seq) {
		return seq[len(seq)-1], nil
	}
	return seq[call], nil
}

func (m *mockGateway) script(intentID string, seq ...gatewaytypes.IntentStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[intentID] = seq
}

type mockTherapists struct {
	byID map[int64]*therapistmodel.Therapist
}

func (m *mockTherapists) GetByID(id int64) (*therapistmodel.Therapist, error) {
	return m.byID[id], nil
}

var _ = Describe("Service", func() {
	var (
		repo       *mockRepository
		gateway    *mockGateway
		therapists *mockTherapists
		eventBus   *events.EventBus
		svc        *Service
		failures   chan *events.PaymentFailedEvent
	)

	newCheckoutDraft := func() *appointment.Draft {
		return &appointment.Draft{
			TherapistID:      7,
			SlotStart:        time.Now().Add(72 * time.Hour).UTC(),
			ConsultationType: appointment.ConsultationOnline,
		}
	}

	BeforeEach(func() {
		repo = newMockRepository()
		gateway = newMockGateway()
		therapists = &mockTherapists{byID: map[int64]*therapistmodel.Therapist{
			7: {
				ID:           7,
				FullName:     "Dr. Sarah Wong",
				SessionFee:   80000,
				Currency:     "HKD",
				OffersOnline: true,
				Active:       true,
			},
		}}
		eventBus = events.NewEventBus(testLogger())
		engine := NewEngine(repo, eventBus, testLogger())

		svc = NewService(
			repo,
			gateway,
			therapists,
			engine,
			eventBus,
			settlement.Config{Interval: 5 * time.Millisecond, MaxAttempts: 3, Deadline: time.Second},
			0,
			testLogger(),
		)

		failures = make(chan *events.PaymentFailedEvent, 4)
		eventBus.Subscribe(events.EventTypePaymentFailed, func(ctx context.Context, ev events.Event) error {
			failures <- ev.(*events.PaymentFailedEvent)
			return nil
		})
	})

	Describe("StartCheckout", func() {
		It("should price the draft from the catalog, never from the client", func() {
			draft := newCheckoutDraft()
			draft.Amount = 1 // client-supplied, must be ignored

			session, err := svc.StartCheckout(context.Background(), 3, draft)
			Expect(err).NotTo(HaveOccurred())
			Expect(session.Amount).To(Equal(int64(80000)))
			Expect(session.Currency).To(Equal("HKD"))
			Expect(session.ClientSecret).To(Equal("secret_1"))
		})

		It("should reject an unknown therapist", func() {
			draft := newCheckoutDraft()
			draft.TherapistID = 999

			_, err := svc.StartCheckout(context.Background(), 3, draft)
			Expect(err).To(MatchError(apperrors.ErrTherapistNotFound))
		})

		It("should reject a consultation type the therapist does not offer", func() {
			draft := newCheckoutDraft()
			draft.ConsultationType = appointment.ConsultationInPerson

			_, err := svc.StartCheckout(context.Background(), 3, draft)
			Expect(err).To(HaveOccurred())
		})

		It("should propagate gateway unavailability", func() {
			gateway.createErr = apperrors.NewGatewayUnavailableError(context.DeadlineExceeded)

			_, err := svc.StartCheckout(context.Background(), 3, newCheckoutDraft())
			Expect(err).To(MatchError(apperrors.ErrGatewayUnavailable))
		})
	})

	Describe("checkout flow", func() {
		var session *CheckoutSession

		BeforeEach(func() {
			var err error
			session, err = svc.StartCheckout(context.Background(), 3, newCheckoutDraft())
			Expect(err).NotTo(HaveOccurred())
		})

		It("should confirm the booking when the widget settles and the processor agrees", func() {
			gateway.script(session.IntentID, gatewaytypes.IntentStatusRequiresPayment, gatewaytypes.IntentStatusSucceeded)

			Expect(svc.HandleWidgetEvent(context.Background(), 3, session.IntentID, widget.RawEvent{Type: "ready"})).To(Succeed())
			Expect(svc.HandleWidgetEvent(context.Background(), 3, session.IntentID,
				widget.RawEvent{Type: "success", Payload: map[string]interface{}{"outcome_reference": "ok"}})).To(Succeed())

			Eventually(func() string {
				view, err := svc.PaymentStatus(context.Background(), 3, session.IntentID)
				if err != nil {
					return ""
				}
				return view.Outcome
			}).Should(Equal(OutcomeSucceeded))

			view, err := svc.PaymentStatus(context.Background(), 3, session.IntentID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.AppointmentID).NotTo(BeZero())

			appt, err := repo.GetByID(view.AppointmentID)
			Expect(err).NotTo(HaveOccurred())
			Expect(appt.PaymentStatus).To(Equal(appointment.PaymentStatusPaid))
		})

		It("should fail the checkout when the processor declines", func() {
			gateway.script(session.IntentID, gatewaytypes.IntentStatusFailed)

			Expect(svc.HandleWidgetEvent(context.Background(), 3, session.IntentID,
				widget.RawEvent{Type: "success", Payload: map[string]interface{}{}})).To(Succeed())

			Eventually(func() string {
				view, err := svc.PaymentStatus(context.Background(), 3, session.IntentID)
				if err != nil {
					return ""
				}
				return view.Outcome
			}).Should(Equal(OutcomeFailed))

			Eventually(failures).Should(Receive())
		})

		It("should time out without failing when the processor never settles", func() {
			// Default script keeps returning REQUIRES_PAYMENT.
			Expect(svc.HandleWidgetEvent(context.Background(), 3, session.IntentID,
				widget.RawEvent{Type: "settled", Payload: map[string]interface{}{}})).To(Succeed())

			Eventually(func() string {
				view, err := svc.PaymentStatus(context.Background(), 3, session.IntentID)
				if err != nil {
					return ""
				}
				return view.Outcome
			}).Should(Equal(OutcomeTimedOut))

			Consistently(failures).ShouldNot(Receive())
		})

		It("should mark the checkout failed when the widget reports an error", func() {
			Expect(svc.HandleWidgetEvent(context.Background(), 3, session.IntentID,
				widget.RawEvent{Type: "error", Payload: map[string]interface{}{"reason": "card_declined"}})).To(Succeed())

			Eventually(func() string {
				view, err := svc.PaymentStatus(context.Background(), 3, session.IntentID)
				if err != nil {
					return ""
				}
				return view.Outcome
			}).Should(Equal(OutcomeFailed))

			Eventually(failures).Should(Receive())
		})

		It("should reject events from another user", func() {
			err := svc.HandleWidgetEvent(context.Background(), 99, session.IntentID, widget.RawEvent{Type: "ready"})
			Expect(err).To(MatchError(apperrors.ErrUnauthorizedAccess))
		})

		It("should reject unknown widget event types", func() {
			err := svc.HandleWidgetEvent(context.Background(), 3, session.IntentID, widget.RawEvent{Type: "telemetry"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("RecheckSettlement", func() {
		It("should reconcile a settlement confirmed after a polling timeout", func() {
			session, err := svc.StartCheckout(context.Background(), 3, newCheckoutDraft())
			Expect(err).NotTo(HaveOccurred())

			gateway.script(session.IntentID, gatewaytypes.IntentStatusSucceeded)

			view, err := svc.RecheckSettlement(context.Background(), 3, session.IntentID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Outcome).To(Equal(OutcomeSucceeded))
			Expect(view.AppointmentID).NotTo(BeZero())
		})

		It("should fall back to the persisted appointment when the session is gone", func() {
			intentID := "pi_persisted"
			paidAt := time.Now()
			appt := repo.seed(&appointment.Appointment{
				ClientID:        3,
				TherapistID:     7,
				PaymentStatus:   appointment.PaymentStatusPaid,
				PaymentIntentID: &intentID,
				PaidAt:          &paidAt,
			})

			view, err := svc.RecheckSettlement(context.Background(), 3, intentID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Outcome).To(Equal(OutcomeSucceeded))
			Expect(view.AppointmentID).To(Equal(appt.ID))
		})

		It("should reconcile a retry payment whose session died before settlement confirmed", func() {
			appt := repo.seed(&appointment.Appointment{
				ClientID:      3,
				TherapistID:   7,
				Amount:        60000,
				Currency:      "HKD",
				Status:        appointment.StatusPending,
				PaymentStatus: appointment.PaymentStatusPending,
			})

			session, err := svc.StartRetryCheckout(context.Background(), 3, appt.ID)
			Expect(err).NotTo(HaveOccurred())

			gateway.script(session.IntentID, gatewaytypes.IntentStatusSucceeded)
			Expect(svc.ReapSessions(0)).To(Equal(1))

			view, err := svc.RecheckSettlement(context.Background(), 3, session.IntentID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Outcome).To(Equal(OutcomeSucceeded))
			Expect(view.AppointmentID).To(Equal(appt.ID))

			stored, err := repo.GetByID(appt.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.PaymentStatus).To(Equal(appointment.PaymentStatusPaid))
		})

		It("should report an unresolved retry payment as timed out, not settled", func() {
			appt := repo.seed(&appointment.Appointment{
				ClientID:      3,
				TherapistID:   7,
				Amount:        60000,
				Currency:      "HKD",
				Status:        appointment.StatusPending,
				PaymentStatus: appointment.PaymentStatusPending,
			})

			session, err := svc.StartRetryCheckout(context.Background(), 3, appt.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(svc.ReapSessions(0)).To(Equal(1))

			view, err := svc.PaymentStatus(context.Background(), 3, session.IntentID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Outcome).To(Equal(OutcomeTimedOut))
			Expect(view.AppointmentID).To(Equal(appt.ID))
		})
	})

	Describe("CancelCheckout", func() {
		It("should release the session without touching the processor", func() {
			session, err := svc.StartCheckout(context.Background(), 3, newCheckoutDraft())
			Expect(err).NotTo(HaveOccurred())

			Expect(svc.CancelCheckout(context.Background(), 3, session.IntentID)).To(Succeed())

			_, err = svc.PaymentStatus(context.Background(), 3, session.IntentID)
			Expect(err).To(MatchError(apperrors.ErrSessionNotFound))
		})

		It("should refuse to cancel another user's session", func() {
			session, err := svc.StartCheckout(context.Background(), 3, newCheckoutDraft())
			Expect(err).NotTo(HaveOccurred())

			err = svc.CancelCheckout(context.Background(), 99, session.IntentID)
			Expect(err).To(MatchError(apperrors.ErrUnauthorizedAccess))
		})
	})

	Describe("StartRetryCheckout", func() {
		It("should open a checkout against an unpaid appointment", func() {
			appt := repo.seed(&appointment.Appointment{
				ClientID:      3,
				TherapistID:   7,
				Amount:        60000,
				Currency:      "HKD",
				Status:        appointment.StatusPending,
				PaymentStatus: appointment.PaymentStatusPending,
			})

			session, err := svc.StartRetryCheckout(context.Background(), 3, appt.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(session.AppointmentID).To(Equal(appt.ID))
			Expect(session.Amount).To(Equal(int64(60000)))
			Expect(session.Draft).To(BeNil())

			stored, err := repo.GetByID(appt.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.PaymentIntentID).NotTo(BeNil())
			Expect(*stored.PaymentIntentID).To(Equal(session.IntentID))
		})

		It("should not hand out a widget session when the intent cannot be recorded", func() {
			appt := repo.seed(&appointment.Appointment{
				ClientID:      3,
				TherapistID:   7,
				Amount:        60000,
				Currency:      "HKD",
				Status:        appointment.StatusPending,
				PaymentStatus: appointment.PaymentStatusPending,
			})
			repo.attachErr = errors.New("write timeout")

			_, err := svc.StartRetryCheckout(context.Background(), 3, appt.ID)
			Expect(err).To(HaveOccurred())

			_, err = svc.PaymentStatus(context.Background(), 3, "pi_test_1")
			Expect(err).To(MatchError(apperrors.ErrSessionNotFound))
		})

		It("should refuse retry on a paid appointment", func() {
			appt := repo.seed(&appointment.Appointment{
				ClientID:      3,
				TherapistID:   7,
				Status:        appointment.StatusPending,
				PaymentStatus: appointment.PaymentStatusPaid,
			})

			_, err := svc.StartRetryCheckout(context.Background(), 3, appt.ID)
			Expect(err).To(HaveOccurred())

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeAppointmentNotRetry))
		})
	})
})
