// Package domain holds the processor-agnostic entity model. Every adapter
// translates its back-end's payloads into these types; nothing outside the
// adapters ever sees a processor-native shape.
package domain

import (
	"encoding/json"
	"time"
)

// Processor identifies which back-end an entity originated from.
type Processor string

const (
	ProcessorStripe       Processor = "stripe"
	ProcessorPaddle       Processor = "paddle"
	ProcessorBraintree    Processor = "braintree"
	ProcessorLemonSqueezy Processor = "lemonsqueezy"
	ProcessorGlobalPay    Processor = "globalpay"
	ProcessorTest         Processor = "test"
)

// Customer is the canonical customer record. ProcessorCustomerID is opaque
// and never interpreted by the engine.
type Customer struct {
	ID                  string            `json:"id"`
	Email               string            `json:"email"`
	Name                string            `json:"name,omitempty"`
	Phone               string            `json:"phone,omitempty"`
	Processor           Processor         `json:"processor"`
	ProcessorCustomerID string            `json:"processorCustomerId"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

// BillingInterval is the recurrence unit of a price.
type BillingInterval string

const (
	IntervalDay   BillingInterval = "day"
	IntervalWeek  BillingInterval = "week"
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// Price is read-only from the engine's perspective and immutable once created.
// Amount is in minor currency units.
type Price struct {
	ID               string          `json:"id"`
	ProductID        string          `json:"productId"`
	Amount           int64           `json:"amount"`
	Currency         string          `json:"currency"`
	Interval         BillingInterval `json:"interval"`
	IntervalCount    int             `json:"intervalCount"`
	TrialDays        int             `json:"trialDays,omitempty"`
	Active           bool            `json:"active"`
	Processor        Processor       `json:"processor"`
	ProcessorPriceID string          `json:"processorPriceId"`
}

// PaymentMethodType discriminates the kinds of stored payment instruments.
type PaymentMethodType string

const (
	PaymentMethodCard   PaymentMethodType = "card"
	PaymentMethodBank   PaymentMethodType = "bank"
	PaymentMethodPayPal PaymentMethodType = "paypal"
	PaymentMethodWallet PaymentMethodType = "wallet"
)

// PaymentMethod is a stored instrument. At most one method per customer may
// have IsDefault set; setting a new default clears the previous one.
type PaymentMethod struct {
	ID             string            `json:"id"`
	CustomerID     string            `json:"customerId"`
	Type           PaymentMethodType `json:"type"`
	Last4          string            `json:"last4,omitempty"`
	Brand          string            `json:"brand,omitempty"`
	ExpiryMonth    int               `json:"expiryMonth,omitempty"`
	ExpiryYear     int               `json:"expiryYear,omitempty"`
	IsDefault      bool              `json:"isDefault"`
	BillingEmail   string            `json:"billingEmail,omitempty"`
	BillingName    string            `json:"billingName,omitempty"`
	BillingCountry string            `json:"billingCountry,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ChargeStatus is the settlement state of a charge.
type ChargeStatus string

const (
	ChargeSucceeded ChargeStatus = "succeeded"
	ChargeFailed    ChargeStatus = "failed"
	ChargePending   ChargeStatus = "pending"
	ChargeRefunded  ChargeStatus = "refunded"
)

// Charge is immutable after creation except for the refund fields.
type Charge struct {
	ID                string            `json:"id"`
	CustomerID        string            `json:"customerId"`
	Amount            int64             `json:"amount"`
	Currency          string            `json:"currency"`
	Status            ChargeStatus      `json:"status"`
	Description       string            `json:"description,omitempty"`
	ReceiptURL        string            `json:"receiptUrl,omitempty"`
	Refunded          bool              `json:"refunded"`
	RefundedAmount    int64             `json:"refundedAmount,omitempty"`
	Processor         Processor         `json:"processor"`
	ProcessorChargeID string            `json:"processorChargeId"`
	CreatedAt         time.Time         `json:"createdAt"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// WebhookEvent is a verified (or not yet verified) inbound notification.
// ID doubles as the idempotency key for reconciliation.
type WebhookEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Processor Processor       `json:"processor"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
	Verified  bool            `json:"verified"`
}
