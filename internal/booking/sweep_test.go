package booking

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/counseling-booking/internal/core/datamodel/appointment"
	gatewaytypes "github.com/frahmantamala/counseling-booking/internal/core/datamodel/paymentgateway"
	therapistmodel "github.com/frahmantamala/counseling-booking/internal/core/datamodel/therapist"
	"github.com/frahmantamala/counseling-booking/internal/core/events"
	"github.com/frahmantamala/counseling-booking/internal/settlement"
)

var _ = Describe("SettlementSweep", func() {
	var (
		repo    *mockRepository
		gateway *mockGateway
		engine  *Engine
		sweep   *SettlementSweep
	)

	seedUnresolved := func(intentID string) *appointment.Appointment {
		return repo.seed(&appointment.Appointment{
			ClientID:        3,
			TherapistID:     7,
			Amount:          60000,
			Currency:        "HKD",
			Status:          appointment.StatusPending,
			PaymentStatus:   appointment.PaymentStatusPending,
			PaymentIntentID: &intentID,
			CreatedAt:       time.Now().Add(-time.Hour),
		})
	}

	BeforeEach(func() {
		repo = newMockRepository()
		gateway = newMockGateway()
		eventBus := events.NewEventBus(testLogger())
		engine = NewEngine(repo, eventBus, testLogger())
		sweep = NewSettlementSweep(repo, gateway, engine, SweepConfig{
			Interval: time.Hour,
			Batch:    10,
			MinAge:   time.Millisecond,
		}, testLogger())
	})

	It("should recover a settled retry payment whose session is gone", func() {
		therapists := &mockTherapists{byID: map[int64]*therapistmodel.Therapist{
			7: {ID: 7, FullName: "Dr. Sarah Wong", SessionFee: 80000, Currency: "HKD", OffersOnline: true, Active: true},
		}}
		eventBus := events.NewEventBus(testLogger())
		svc := NewService(repo, gateway, therapists, engine, eventBus,
			settlement.Config{Interval: 5 * time.Millisecond, MaxAttempts: 3, Deadline: time.Second},
			0, testLogger())

		appt := repo.seed(&appointment.Appointment{
			ClientID:      3,
			TherapistID:   7,
			Amount:        60000,
			Currency:      "HKD",
			Status:        appointment.StatusPending,
			PaymentStatus: appointment.PaymentStatusPending,
			CreatedAt:     time.Now().Add(-time.Hour),
		})

		session, err := svc.StartRetryCheckout(context.Background(), 3, appt.ID)
		Expect(err).NotTo(HaveOccurred())

		// The new intent is on the row before any money moves.
		stored, err := repo.GetByID(appt.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.PaymentIntentID).NotTo(BeNil())
		Expect(*stored.PaymentIntentID).To(Equal(session.IntentID))

		// Client pays, then the session dies before reconciling.
		gateway.script(session.IntentID, gatewaytypes.IntentStatusSucceeded)
		Expect(svc.ReapSessions(0)).To(Equal(1))

		sweep.sweepOnce(context.Background())

		recovered, err := repo.GetByID(appt.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(recovered.PaymentStatus).To(Equal(appointment.PaymentStatusPaid))
		Expect(recovered.PaidAt).NotTo(BeNil())

		// Once paid the row leaves the sweep's view.
		sweep.sweepOnce(context.Background())
		Expect(gateway.statusCalls[session.IntentID]).To(Equal(1))
	})

	It("should leave a terminally failed intent unpaid for the client to retry", func() {
		appt := seedUnresolved("pi_declined")
		gateway.script("pi_declined", gatewaytypes.IntentStatusFailed)

		sweep.sweepOnce(context.Background())

		stored, err := repo.GetByID(appt.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.PaymentStatus).To(Equal(appointment.PaymentStatusPending))
		Expect(gateway.statusCalls["pi_declined"]).To(Equal(1))
	})

	It("should keep waiting on an intent that has not settled yet", func() {
		appt := seedUnresolved("pi_waiting")
		gateway.script("pi_waiting", gatewaytypes.IntentStatusRequiresPayment)

		sweep.sweepOnce(context.Background())

		stored, err := repo.GetByID(appt.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.PaymentStatus).To(Equal(appointment.PaymentStatusPending))
	})

	It("should continue past a status check failure to the rest of the batch", func() {
		seedUnresolved("pi_flaky")
		settled := seedUnresolved("pi_settled")
		gateway.statusErrs["pi_flaky"] = errors.New("connection reset")
		gateway.script("pi_settled", gatewaytypes.IntentStatusSucceeded)

		sweep.sweepOnce(context.Background())

		stored, err := repo.GetByID(settled.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.PaymentStatus).To(Equal(appointment.PaymentStatusPaid))
	})

	It("should stop checking when the context is cancelled", func() {
		seedUnresolved("pi_abandoned")
		gateway.script("pi_abandoned", gatewaytypes.IntentStatusSucceeded)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		sweep.sweepOnce(ctx)

		Expect(gateway.statusCalls["pi_abandoned"]).To(BeZero())
	})

	It("should skip appointments younger than the minimum age", func() {
		fresh := "pi_fresh"
		repo.seed(&appointment.Appointment{
			ClientID:        3,
			TherapistID:     7,
			Status:          appointment.StatusPending,
			PaymentStatus:   appointment.PaymentStatusPending,
			PaymentIntentID: &fresh,
			CreatedAt:       time.Now().Add(time.Minute),
		})

		sweep.sweepOnce(context.Background())

		Expect(gateway.statusCalls["pi_fresh"]).To(BeZero())
	})
})
