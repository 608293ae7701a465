package postgres

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/frahmantamala/counseling-booking/internal/booking"
	appointmentDatamodel "github.com/frahmantamala/counseling-booking/internal/core/datamodel/appointment"
)

func TestAppointmentRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "AppointmentRepository Suite")
}

type SQLiteAppointment struct {
	ID               int64      `gorm:"primaryKey"`
	ClientID         int64      `gorm:"column:client_id;not null"`
	TherapistID      int64      `gorm:"column:therapist_id;not null"`
	SlotStart        time.Time  `gorm:"column:slot_start"`
	ConsultationType string     `gorm:"column:consultation_type"`
	Notes            string     `gorm:"column:notes"`
	Amount           int64      `gorm:"column:amount"`
	Currency         string     `gorm:"column:currency"`
	Status           string     `gorm:"column:status;default:'pending'"`
	PaymentStatus    string     `gorm:"column:payment_status;default:'pending'"`
	PaymentIntentID  *string    `gorm:"column:payment_intent_id;uniqueIndex"`
	PaidAt           *time.Time `gorm:"column:paid_at"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at"`
}

func (SQLiteAppointment) TableName() string {
	return "appointments"
}

func strPtr(s string) *string { return &s }

var _ = Describe("AppointmentRepository", func() {
	var (
		db   *gorm.DB
		repo booking.Repository
	)

	BeforeEach(func() {
		var err error

		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		Expect(err).NotTo(HaveOccurred())

		err = db.AutoMigrate(&SQLiteAppointment{})
		Expect(err).NotTo(HaveOccurred())

		repo = NewAppointmentRepository(db)
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		err = sqlDB.Close()
		Expect(err).NotTo(HaveOccurred())
	})

	newAppointment := func(intentID *string) *appointmentDatamodel.Appointment {
		return &appointmentDatamodel.Appointment{
			ClientID:         1,
			TherapistID:      2,
			SlotStart:        time.Now().Add(48 * time.Hour),
			ConsultationType: appointmentDatamodel.ConsultationOnline,
			Amount:           80000,
			Currency:         "HKD",
			Status:           appointmentDatamodel.StatusPending,
			PaymentStatus:    appointmentDatamodel.PaymentStatusPending,
			PaymentIntentID:  intentID,
			CreatedAt:        time.Now(),
			UpdatedAt:        time.Now(),
		}
	}

	Describe("Create", func() {
		It("should create an appointment successfully", func() {
			appt := newAppointment(strPtr("pi_100"))

			err := repo.Create(appt)
			Expect(err).NotTo(HaveOccurred())
			Expect(appt.ID).To(BeNumerically(">", 0))
		})

		It("should reject a second appointment for the same payment intent", func() {
			first := newAppointment(strPtr("pi_200"))
			Expect(repo.Create(first)).To(Succeed())

			second := newAppointment(strPtr("pi_200"))
			err := repo.Create(second)
			Expect(err).To(MatchError(booking.ErrIntentAlreadyReconciled))
		})

		It("should allow multiple appointments without intents", func() {
			Expect(repo.Create(newAppointment(nil))).To(Succeed())
			Expect(repo.Create(newAppointment(nil))).To(Succeed())
		})
	})

	Describe("FindByPaymentIntent", func() {
		It("should return the appointment for a known intent", func() {
			appt := newAppointment(strPtr("pi_300"))
			Expect(repo.Create(appt)).To(Succeed())

			found, err := repo.FindByPaymentIntent("pi_300")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).NotTo(BeNil())
			Expect(found.ID).To(Equal(appt.ID))
		})

		It("should return nil without error for an unknown intent", func() {
			found, err := repo.FindByPaymentIntent("pi_missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeNil())
		})
	})

	Describe("MarkPaid", func() {
		It("should mark an unpaid appointment paid exactly once", func() {
			appt := newAppointment(strPtr("pi_400"))
			Expect(repo.Create(appt)).To(Succeed())

			paidAt := time.Now()
			applied, err := repo.MarkPaid(appt.ID, "pi_400", paidAt)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeTrue())

			// Second attempt matches zero rows.
			applied, err = repo.MarkPaid(appt.ID, "pi_400", time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeFalse())

			reloaded, err := repo.GetByID(appt.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(reloaded.PaymentStatus).To(Equal(appointmentDatamodel.PaymentStatusPaid))
			Expect(reloaded.PaidAt).NotTo(BeNil())
		})

		It("should record the new intent when a retry payment settles", func() {
			appt := newAppointment(strPtr("pi_old"))
			Expect(repo.Create(appt)).To(Succeed())

			applied, err := repo.MarkPaid(appt.ID, "pi_new", time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeTrue())

			reloaded, err := repo.GetByID(appt.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(*reloaded.PaymentIntentID).To(Equal("pi_new"))
		})
	})

	Describe("AttachIntent", func() {
		It("should make an unpaid appointment visible to the settlement sweep", func() {
			appt := newAppointment(nil)
			appt.CreatedAt = time.Now().Add(-10 * time.Minute)
			Expect(repo.Create(appt)).To(Succeed())

			Expect(repo.AttachIntent(appt.ID, "pi_retry_1")).To(Succeed())

			reloaded, err := repo.GetByID(appt.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(reloaded.PaymentIntentID).NotTo(BeNil())
			Expect(*reloaded.PaymentIntentID).To(Equal("pi_retry_1"))
			Expect(reloaded.PaymentStatus).To(Equal(appointmentDatamodel.PaymentStatusPending))

			list, err := repo.ListPendingPaymentWithIntent(time.Now().Add(-5*time.Minute), 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(1))
			Expect(list[0].ID).To(Equal(appt.ID))
		})

		It("should replace the abandoned intent on a second retry", func() {
			appt := newAppointment(strPtr("pi_abandoned"))
			Expect(repo.Create(appt)).To(Succeed())

			Expect(repo.AttachIntent(appt.ID, "pi_second_try")).To(Succeed())

			reloaded, err := repo.GetByID(appt.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(*reloaded.PaymentIntentID).To(Equal("pi_second_try"))
		})

		It("should not overwrite the intent that paid", func() {
			appt := newAppointment(strPtr("pi_settling"))
			Expect(repo.Create(appt)).To(Succeed())
			applied, err := repo.MarkPaid(appt.ID, "pi_settling", time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeTrue())

			Expect(repo.AttachIntent(appt.ID, "pi_late_retry")).To(Succeed())

			reloaded, err := repo.GetByID(appt.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(*reloaded.PaymentIntentID).To(Equal("pi_settling"))
		})

		It("should surface the duplicate intent error when another row holds the intent", func() {
			Expect(repo.Create(newAppointment(strPtr("pi_taken")))).To(Succeed())
			appt := newAppointment(nil)
			Expect(repo.Create(appt)).To(Succeed())

			err := repo.AttachIntent(appt.ID, "pi_taken")
			Expect(err).To(MatchError(booking.ErrIntentAlreadyReconciled))
		})
	})

	Describe("ListPendingPaymentWithIntent", func() {
		It("should only list unpaid appointments holding an intent older than the cutoff", func() {
			stale := newAppointment(strPtr("pi_stale"))
			stale.CreatedAt = time.Now().Add(-10 * time.Minute)
			Expect(repo.Create(stale)).To(Succeed())

			fresh := newAppointment(strPtr("pi_fresh"))
			Expect(repo.Create(fresh)).To(Succeed())

			noIntent := newAppointment(nil)
			noIntent.CreatedAt = time.Now().Add(-10 * time.Minute)
			Expect(repo.Create(noIntent)).To(Succeed())

			paid := newAppointment(strPtr("pi_paid"))
			paid.CreatedAt = time.Now().Add(-10 * time.Minute)
			Expect(repo.Create(paid)).To(Succeed())
			applied, err := repo.MarkPaid(paid.ID, "pi_paid", time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeTrue())

			list, err := repo.ListPendingPaymentWithIntent(time.Now().Add(-5*time.Minute), 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(1))
			Expect(*list[0].PaymentIntentID).To(Equal("pi_stale"))
		})
	})

	Describe("GetByClientID", func() {
		It("should page through a client's appointments", func() {
			for i := 0; i < 3; i++ {
				a := newAppointment(nil)
				a.SlotStart = time.Now().Add(time.Duration(i) * time.Hour)
				Expect(repo.Create(a)).To(Succeed())
			}
			other := newAppointment(nil)
			other.ClientID = 99
			Expect(repo.Create(other)).To(Succeed())

			page, err := repo.GetByClientID(1, 2, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(page).To(HaveLen(2))

			rest, err := repo.GetByClientID(1, 2, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(rest).To(HaveLen(1))
		})
	})
})
