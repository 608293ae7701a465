package paymentgateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/frahmantamala/counseling-booking/internal"
	"github.com/frahmantamala/counseling-booking/internal/core/datamodel/customer"
	gatewaytypes "github.com/frahmantamala/counseling-booking/internal/core/datamodel/paymentgateway"
)

func TestPaymentGateway(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "PaymentGateway Suite")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockMappings struct {
	mu       sync.Mutex
	byUserID map[int64]*customer.Mapping
	saveErr  error
}

func newMockMappings() *mockMappings {
	return &mockMappings{byUserID: make(map[int64]*customer.Mapping)}
}

func (m *mockMappings) GetByUserID(userID int64) (*customer.Mapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mapping, ok := m.byUserID[userID]
	if !ok {
		return nil, nil
	}
	copied := *mapping
	return &copied, nil
}

func (m *mockMappings) Save(mapping *customer.Mapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	copied := *mapping
	m.byUserID[mapping.UserID] = &copied
	return nil
}

// fakeProcessor is an httptest-backed stand-in for the payment processor.
type fakeProcessor struct {
	server *httptest.Server

	mu            sync.Mutex
	authCalls     int
	tokenTTL      time.Duration
	rejectToken   bool
	customerCalls int
	customer409   bool
	intentStatus  int
	statusByID    map[string]gatewaytypes.IntentStatus
}

func newFakeProcessor() *fakeProcessor {
	p := &fakeProcessor{
		tokenTTL:   time.Hour,
		statusByID: make(map[string]gatewaytypes.IntentStatus),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/authentication/login", p.handleLogin)
	mux.HandleFunc("/api/v1/customers", p.handleCustomers)
	mux.HandleFunc("/api/v1/payment_intents", p.handleCreateIntent)
	mux.HandleFunc("/api/v1/payment_intents/", p.handleIntentStatus)
	p.server = httptest.NewServer(mux)
	return p
}

func (p *fakeProcessor) handleLogin(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.authCalls++
	ttl := p.tokenTTL
	p.mu.Unlock()

	json.NewEncoder(w).Encode(gatewaytypes.AuthResponse{
		Token:     "tok_fake",
		ExpiresAt: time.Now().Add(ttl),
	})
}

func (p *fakeProcessor) authorized(w http.ResponseWriter, r *http.Request) bool {
	p.mu.Lock()
	reject := p.rejectToken
	p.rejectToken = false
	p.mu.Unlock()

	if reject || !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	return true
}

func (p *fakeProcessor) handleCustomers(w http.ResponseWriter, r *http.Request) {
	if !p.authorized(w, r) {
		return
	}

	if r.Method == http.MethodGet {
		merchantRef := r.URL.Query().Get("merchant_customer_id")
		json.NewEncoder(w).Encode(gatewaytypes.CustomerListResponse{
			Items: []gatewaytypes.CustomerResponse{
				{ID: "cust_existing", MerchantCustomerID: merchantRef},
			},
		})
		return
	}

	p.mu.Lock()
	p.customerCalls++
	conflict := p.customer409
	p.mu.Unlock()

	if conflict {
		w.WriteHeader(http.StatusConflict)
		return
	}

	var payload map[string]string
	json.NewDecoder(r.Body).Decode(&payload)
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(gatewaytypes.CustomerResponse{
		ID:                 "cust_new",
		MerchantCustomerID: payload["merchant_customer_id"],
	})
}

func (p *fakeProcessor) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	if !p.authorized(w, r) {
		return
	}

	p.mu.Lock()
	status := p.intentStatus
	p.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		return
	}

	var req gatewaytypes.CreateIntentRequest
	json.NewDecoder(r.Body).Decode(&req)
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(gatewaytypes.PaymentIntent{
		ID:                "pi_live_1",
		Amount:            req.Amount,
		Currency:          req.Currency,
		Status:            gatewaytypes.IntentStatusRequiresPayment,
		ClientSecret:      "secret_live_1",
		CustomerReference: req.CustomerReference,
	})
}

func (p *fakeProcessor) handleIntentStatus(w http.ResponseWriter, r *http.Request) {
	if !p.authorized(w, r) {
		return
	}

	intentID := strings.TrimPrefix(r.URL.Path, "/api/v1/payment_intents/")
	p.mu.Lock()
	status, ok := p.statusByID[intentID]
	p.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(gatewaytypes.PaymentIntent{ID: intentID, Status: status})
}

func (p *fakeProcessor) getAuthCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authCalls
}

var _ = Describe("Client", func() {
	var (
		processor *fakeProcessor
		mappings  *mockMappings
		client    *Client
	)

	newTestClient := func(sandbox bool) *Client {
		return NewClient(Config{
			BaseURL:      processor.server.URL,
			ClientID:     "merchant_1",
			ClientSecret: "shh",
			SandboxMode:  sandbox,
		}, mappings, testLogger())
	}

	BeforeEach(func() {
		processor = newFakeProcessor()
		mappings = newMockMappings()
		client = newTestClient(false)
	})

	AfterEach(func() {
		processor.server.Close()
	})

	Describe("Authenticate", func() {
		It("should cache the credential across calls", func() {
			_, err := client.Authenticate(context.Background())
			Expect(err).NotTo(HaveOccurred())
			_, err = client.Authenticate(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(processor.getAuthCalls()).To(Equal(1))
		})

		It("should refresh a credential expiring within the safety margin", func() {
			processor.tokenTTL = 30 * time.Second // inside the 60s margin

			_, err := client.Authenticate(context.Background())
			Expect(err).NotTo(HaveOccurred())
			_, err = client.Authenticate(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(processor.getAuthCalls()).To(Equal(2))
		})

		It("should map an unreachable processor to the gateway-unavailable class", func() {
			processor.server.Close()

			_, err := client.Authenticate(context.Background())
			Expect(err).To(MatchError(apperrors.ErrGatewayUnavailable))
		})
	})

	Describe("authorized requests", func() {
		It("should refresh once and retry after a 401", func() {
			_, err := client.Authenticate(context.Background())
			Expect(err).NotTo(HaveOccurred())

			processor.rejectToken = true
			client.invalidateCredential() // simulate server-side revocation racing the cache
			ref, err := client.CreateCustomer(context.Background(), 7)
			Expect(err).NotTo(HaveOccurred())
			Expect(ref).To(Equal("cust_new"))
		})
	})

	Describe("CreateCustomer", func() {
		It("should short-circuit on an existing local mapping without calling the processor", func() {
			mappings.Save(&customer.Mapping{
				UserID:            7,
				CustomerReference: "cust_cached",
				MerchantReference: "client-7",
			})

			ref, err := client.CreateCustomer(context.Background(), 7)
			Expect(err).NotTo(HaveOccurred())
			Expect(ref).To(Equal("cust_cached"))
			Expect(processor.customerCalls).To(BeZero())
		})

		It("should create the customer and persist a deterministic merchant reference", func() {
			ref, err := client.CreateCustomer(context.Background(), 42)
			Expect(err).NotTo(HaveOccurred())
			Expect(ref).To(Equal("cust_new"))

			mapping, err := mappings.GetByUserID(42)
			Expect(err).NotTo(HaveOccurred())
			Expect(mapping).NotTo(BeNil())
			Expect(mapping.MerchantReference).To(Equal("client-42"))
			Expect(mapping.CustomerReference).To(Equal("cust_new"))
		})

		It("should recover from a conflict by looking up the existing customer", func() {
			processor.customer409 = true

			ref, err := client.CreateCustomer(context.Background(), 42)
			Expect(err).NotTo(HaveOccurred())
			Expect(ref).To(Equal("cust_existing"))

			mapping, err := mappings.GetByUserID(42)
			Expect(err).NotTo(HaveOccurred())
			Expect(mapping.CustomerReference).To(Equal("cust_existing"))
		})
	})

	Describe("CreateIntent", func() {
		It("should create a live intent", func() {
			intent, err := client.CreateIntent(context.Background(), 80000, "HKD", "cust_new")
			Expect(err).NotTo(HaveOccurred())
			Expect(intent.ID).To(Equal("pi_live_1"))
			Expect(intent.Amount).To(Equal(int64(80000)))
			Expect(intent.Sandbox).To(BeFalse())
		})

		It("should reject an invalid amount before touching the processor", func() {
			_, err := client.CreateIntent(context.Background(), 0, "HKD", "cust_new")
			Expect(err).To(HaveOccurred())

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeValidationFailed))
		})

		It("should surface a processor 5xx as gateway unavailable outside sandbox mode", func() {
			processor.intentStatus = http.StatusInternalServerError

			_, err := client.CreateIntent(context.Background(), 80000, "HKD", "cust_new")
			Expect(err).To(MatchError(apperrors.ErrGatewayUnavailable))
		})

		It("should mint a flagged sandbox intent on a 5xx in sandbox mode", func() {
			client = newTestClient(true)
			processor.intentStatus = http.StatusInternalServerError

			intent, err := client.CreateIntent(context.Background(), 80000, "HKD", "cust_new")
			Expect(err).NotTo(HaveOccurred())
			Expect(intent.Sandbox).To(BeTrue())
			Expect(intent.ID).To(HavePrefix("sandbox_"))
			Expect(intent.Amount).To(Equal(int64(80000)))
		})

		It("should mint a sandbox intent when the processor is unreachable in sandbox mode", func() {
			client = newTestClient(true)
			processor.server.Close()

			intent, err := client.CreateIntent(context.Background(), 80000, "HKD", "cust_new")
			Expect(err).NotTo(HaveOccurred())
			Expect(intent.Sandbox).To(BeTrue())
		})
	})

	Describe("GetIntentStatus", func() {
		It("should read the authoritative status from the processor", func() {
			processor.statusByID["pi_live_1"] = gatewaytypes.IntentStatusSucceeded

			status, err := client.GetIntentStatus(context.Background(), "pi_live_1")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(gatewaytypes.IntentStatusSucceeded))
		})

		It("should settle sandbox intents immediately in sandbox mode", func() {
			client = newTestClient(true)

			status, err := client.GetIntentStatus(context.Background(), "sandbox_abc")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(gatewaytypes.IntentStatusSucceeded))
		})

		It("should never treat a sandbox-looking id specially outside sandbox mode", func() {
			_, err := client.GetIntentStatus(context.Background(), "sandbox_abc")
			Expect(err).To(HaveOccurred())
		})
	})
})
