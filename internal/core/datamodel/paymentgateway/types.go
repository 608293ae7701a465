package paymentgateway

import (
	"errors"
	"time"
)

type IntentStatus string

const (
	IntentStatusRequiresPayment IntentStatus = "REQUIRES_PAYMENT"
	IntentStatusSucceeded       IntentStatus = "SUCCEEDED"
	IntentStatusFailed          IntentStatus = "FAILED"
	IntentStatusCancelled       IntentStatus = "CANCELLED"
)

// Succeeded reports a confirmed settlement.
func (s IntentStatus) Succeeded() bool {
	return s == IntentStatusSucceeded
}

// Terminal reports whether the processor will never move the intent again.
func (s IntentStatus) Terminal() bool {
	switch s {
	case IntentStatusSucceeded, IntentStatusFailed, IntentStatusCancelled:
		return true
	}
	return false
}

// PaymentIntent mirrors processor-side state. It is never mutated locally;
// Status is always re-read from the processor.
type PaymentIntent struct {
	ID                string       `json:"id"`
	Amount            int64        `json:"amount"`
	Currency          string       `json:"currency"`
	Status            IntentStatus `json:"status"`
	ClientSecret      string       `json:"client_secret"`
	CustomerReference string       `json:"customer_id"`
	// Sandbox marks a synthetic intent minted when the processor is
	// unreachable in non-production environments. Never set on a real
	// payment path.
	Sandbox bool `json:"sandbox,omitempty"`
}

type CreateIntentRequest struct {
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	CustomerReference string `json:"customer_id"`
	MerchantOrderID   string `json:"merchant_order_id"`
}

func (r *CreateIntentRequest) Validate() error {
	if r.Amount <= 0 {
		return errors.New("amount must be greater than 0")
	}
	if r.Currency == "" {
		return errors.New("currency is required")
	}
	if r.CustomerReference == "" {
		return errors.New("customer_id is required")
	}
	return nil
}

type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the credential can be used now. The refresh margin
// keeps us from presenting a token that expires mid-request.
func (c Credential) Valid(now time.Time, refreshMargin time.Duration) bool {
	if c.Token == "" {
		return false
	}
	return now.Before(c.ExpiresAt.Add(-refreshMargin))
}

type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type CustomerResponse struct {
	ID                 string `json:"id"`
	MerchantCustomerID string `json:"merchant_customer_id"`
	Email              string `json:"email,omitempty"`
}

type CustomerListResponse struct {
	Items []CustomerResponse `json:"items"`
}
