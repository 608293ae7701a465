package paymentgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/frahmantamala/counseling-booking/internal"
	"github.com/frahmantamala/counseling-booking/internal/core/datamodel/customer"
	gatewaytypes "github.com/frahmantamala/counseling-booking/internal/core/datamodel/paymentgateway"
)

// tokenRefreshMargin is how early a cached credential is considered expired,
// so a token is never presented when it could lapse mid-request.
const tokenRefreshMargin = 60 * time.Second

const sandboxIntentPrefix = "sandbox_"

// MappingRepository persists the local-user to processor-customer link.
type MappingRepository interface {
	GetByUserID(userID int64) (*customer.Mapping, error)
	Save(m *customer.Mapping) error
}

type Config struct {
	BaseURL        string
	ClientID       string
	ClientSecret   string
	RequestTimeout time.Duration
	SandboxMode    bool
}

// Client wraps the payment processor's HTTP API: authentication with a
// cached bearer credential, customer upsert, intent creation and status
// reads. All calls go through one authenticated request path.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	mappings   MappingRepository

	mu         sync.Mutex
	credential gatewaytypes.Credential
}

func NewClient(cfg Config, mappings MappingRepository, logger *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		mappings:   mappings,
	}
}

// Authenticate returns a valid bearer credential, refreshing it from the
// processor when the cached one is within the refresh margin of expiry.
// Only one refresh is in flight at a time; callers that race a refresh wait
// for it rather than triggering duplicates.
func (c *Client) Authenticate(ctx context.Context) (gatewaytypes.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.credential.Valid(time.Now(), tokenRefreshMargin) {
		return c.credential, nil
	}

	cred, err := c.requestCredential(ctx)
	if err != nil {
		return gatewaytypes.Credential{}, err
	}

	c.credential = cred
	c.logger.Info("gateway credential refreshed", "expires_at", cred.ExpiresAt)
	return cred, nil
}

func (c *Client) requestCredential(ctx context.Context) (gatewaytypes.Credential, error) {
	payload := map[string]string{
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return gatewaytypes.Credential{}, fmt.Errorf("failed to marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v1/authentication/login", bytes.NewBuffer(body))
	if err != nil {
		return gatewaytypes.Credential{}, fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("gateway authentication failed", "error", err)
		return gatewaytypes.Credential{}, apperrors.NewGatewayUnavailableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		c.logger.Error("gateway authentication rejected", "status", resp.StatusCode, "response", string(respBody))
		return gatewaytypes.Credential{}, apperrors.NewGatewayUnavailableError(fmt.Errorf("auth returned status %d", resp.StatusCode))
	}

	var authResp gatewaytypes.AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return gatewaytypes.Credential{}, fmt.Errorf("failed to decode auth response: %w", err)
	}

	return gatewaytypes.Credential{
		Token:     authResp.Token,
		ExpiresAt: authResp.ExpiresAt,
	}, nil
}

// invalidateCredential drops the cached token so the next Authenticate call
// refreshes. Used after a 401 from the processor.
func (c *Client) invalidateCredential() {
	c.mu.Lock()
	c.credential = gatewaytypes.Credential{}
	c.mu.Unlock()
}

// doAuthorized performs an authenticated request. A 401 invalidates the
// cached credential and retries once; requests that raced an expiry are not
// surfaced as failures.
func (c *Client) doAuthorized(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	for attempt := 0; attempt < 2; attempt++ {
		cred, err := c.Authenticate(ctx)
		if err != nil {
			return nil, err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+cred.Token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Error("gateway request failed", "method", method, "path", path, "error", err)
			return nil, apperrors.NewGatewayUnavailableError(err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			c.logger.Warn("gateway rejected credential, refreshing once", "path", path)
			c.invalidateCredential()
			continue
		}

		return resp, nil
	}

	return nil, apperrors.NewGatewayUnavailableError(fmt.Errorf("credential refresh retry exhausted"))
}

// CreateCustomer is an idempotent upsert of the processor-side customer for
// a local user. The merchant reference is deterministic per user, so a
// concurrent retry that loses the creation race recovers by querying the
// processor for the existing customer instead of surfacing a conflict.
func (c *Client) CreateCustomer(ctx context.Context, userID int64) (string, error) {
	if mapping, err := c.mappings.GetByUserID(userID); err == nil && mapping != nil {
		return mapping.CustomerReference, nil
	}

	merchantRef := fmt.Sprintf("client-%d", userID)

	payload := map[string]string{
		"merchant_customer_id": merchantRef,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal customer request: %w", err)
	}

	resp, err := c.doAuthorized(ctx, http.MethodPost, "/api/v1/customers", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var customerRef string
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var created gatewaytypes.CustomerResponse
		if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
			return "", fmt.Errorf("failed to decode customer response: %w", err)
		}
		customerRef = created.ID

	case resp.StatusCode == http.StatusConflict:
		c.logger.Info("customer already exists remotely, recovering by merchant reference",
			"user_id", userID,
			"merchant_reference", merchantRef)
		customerRef, err = c.findCustomerByMerchantRef(ctx, merchantRef)
		if err != nil {
			return "", err
		}

	default:
		respBody, _ := io.ReadAll(resp.Body)
		c.logger.Error("customer creation failed",
			"user_id", userID,
			"status", resp.StatusCode,
			"response", string(respBody))
		return "", apperrors.NewGatewayUnavailableError(fmt.Errorf("customer creation returned status %d", resp.StatusCode))
	}

	mapping := &customer.Mapping{
		UserID:            userID,
		CustomerReference: customerRef,
		MerchantReference: merchantRef,
	}
	if err := c.mappings.Save(mapping); err != nil {
		// A concurrent call may have persisted the same mapping first.
		if existing, getErr := c.mappings.GetByUserID(userID); getErr == nil && existing != nil {
			return existing.CustomerReference, nil
		}
		return "", fmt.Errorf("failed to persist customer mapping: %w", err)
	}

	c.logger.Info("customer mapping created",
		"user_id", userID,
		"customer_reference", customerRef)

	return customerRef, nil
}

func (c *Client) findCustomerByMerchantRef(ctx context.Context, merchantRef string) (string, error) {
	path := "/api/v1/customers?merchant_customer_id=" + url.QueryEscape(merchantRef)

	resp, err := c.doAuthorized(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NewGatewayUnavailableError(fmt.Errorf("customer lookup returned status %d", resp.StatusCode))
	}

	var list gatewaytypes.CustomerListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return "", fmt.Errorf("failed to decode customer lookup response: %w", err)
	}
	if len(list.Items) == 0 {
		return "", apperrors.NewGatewayUnavailableError(fmt.Errorf("customer %s not found after conflict", merchantRef))
	}

	return list.Items[0].ID, nil
}

// CreateIntent creates one processor-side payment intent for a checkout
// attempt. Unreachable-processor failures map to ErrGatewayUnavailable,
// which callers must treat as retryable. In sandbox mode a clearly-flagged
// synthetic intent keeps the flow testable without a live processor; the
// fallback is config-gated, never a silent runtime branch.
func (c *Client) CreateIntent(ctx context.Context, amount int64, currency, customerRef string) (*gatewaytypes.PaymentIntent, error) {
	req := &gatewaytypes.CreateIntentRequest{
		Amount:            amount,
		Currency:          currency,
		CustomerReference: customerRef,
		MerchantOrderID:   uuid.NewString(),
	}
	if err := req.Validate(); err != nil {
		c.logger.Error("intent request validation failed", "error", err)
		return nil, apperrors.NewValidationError(err.Error(), apperrors.ErrCodeValidationFailed)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal intent request: %w", err)
	}

	resp, err := c.doAuthorized(ctx, http.MethodPost, "/api/v1/payment_intents", body)
	if err != nil {
		if c.cfg.SandboxMode {
			return c.sandboxIntent(amount, currency, customerRef), nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		c.logger.Error("intent creation failed",
			"status", resp.StatusCode,
			"response", string(respBody))

		if resp.StatusCode >= http.StatusInternalServerError {
			if c.cfg.SandboxMode {
				return c.sandboxIntent(amount, currency, customerRef), nil
			}
			return nil, apperrors.NewGatewayUnavailableError(fmt.Errorf("intent creation returned status %d", resp.StatusCode))
		}
		return nil, apperrors.NewExternalError(
			fmt.Sprintf("intent creation rejected with status %d", resp.StatusCode),
			apperrors.ErrCodeGatewayUnavailable)
	}

	var intent gatewaytypes.PaymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, fmt.Errorf("failed to decode intent response: %w", err)
	}

	c.logger.Info("payment intent created",
		"intent_id", intent.ID,
		"amount", intent.Amount,
		"currency", intent.Currency,
		"status", intent.Status)

	return &intent, nil
}

func (c *Client) sandboxIntent(amount int64, currency, customerRef string) *gatewaytypes.PaymentIntent {
	intent := &gatewaytypes.PaymentIntent{
		ID:                sandboxIntentPrefix + uuid.NewString(),
		Amount:            amount,
		Currency:          currency,
		Status:            gatewaytypes.IntentStatusRequiresPayment,
		ClientSecret:      sandboxIntentPrefix + uuid.NewString(),
		CustomerReference: customerRef,
		Sandbox:           true,
	}

	c.logger.Warn("processor unreachable, issuing sandbox intent",
		"intent_id", intent.ID,
		"amount", amount,
		"currency", currency)

	return intent
}

// GetIntentStatus re-reads the intent's authoritative status from the
// processor. Pure read, safe to call repeatedly.
func (c *Client) GetIntentStatus(ctx context.Context, intentID string) (gatewaytypes.IntentStatus, error) {
	if c.cfg.SandboxMode && strings.HasPrefix(intentID, sandboxIntentPrefix) {
		// Sandbox intents settle immediately so the flow can complete.
		return gatewaytypes.IntentStatusSucceeded, nil
	}

	resp, err := c.doAuthorized(ctx, http.MethodGet, "/api/v1/payment_intents/"+url.PathEscape(intentID), nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NewGatewayUnavailableError(fmt.Errorf("status read returned status %d", resp.StatusCode))
	}

	var intent gatewaytypes.PaymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return "", fmt.Errorf("failed to decode intent status response: %w", err)
	}

	return intent.Status, nil
}
