// Package adapter defines the contract every payment back-end
// implementation satisfies, and the registry that selects one from
// configuration. Methods accept and return canonical domain types only;
// native SDK errors never escape an adapter.
package adapter

import (
	"context"

	"github.com/paybridge/paybridge/domain"
)

// CustomerParams describes a customer to create at the processor.
type CustomerParams struct {
	Email    string
	Name     string
	Phone    string
	Metadata map[string]string
}

// SubscriptionParams describes a subscription to create. IdempotencyKey is
// derived once per logical request by the retry controller so a retried
// create cannot produce a duplicate resource.
type SubscriptionParams struct {
	CustomerID     string
	PriceID        string
	Quantity       int64
	TrialDays      int
	IdempotencyKey string
}

// ChargeParams describes a one-off charge. Token is an opaque payment token;
// the engine never handles raw card data.
type ChargeParams struct {
	CustomerID     string
	Amount         int64
	Currency       string
	Description    string
	Token          string
	IdempotencyKey string
}

// PlanChangeParams moves an existing subscription to a new price.
type PlanChangeParams struct {
	SubscriptionID string
	NewPriceID     string
	Quantity       int64
}

// ProcessorAdapter is the capability set every back-end must provide.
// Operations a back-end genuinely cannot perform fail with
// payerr.ErrUnsupportedOperation so callers can branch deterministically.
type ProcessorAdapter interface {
	// Kind reports which processor this adapter speaks to.
	Kind() domain.Processor

	// ValidateConfiguration performs a cheap authenticated round-trip and
	// fails with payerr.ErrInvalidConfiguration on bad credentials. It is
	// called before any stateful operation.
	ValidateConfiguration(ctx context.Context) error

	CreateCustomer(ctx context.Context, params CustomerParams) (domain.Customer, error)
	GetCustomer(ctx context.Context, customerID string) (domain.Customer, error)
	ListSubscriptions(ctx context.Context, customerID string) ([]domain.Subscription, error)
	CreateSubscription(ctx context.Context, params SubscriptionParams) (domain.Subscription, error)
	CreateCharge(ctx context.Context, params ChargeParams) (domain.Charge, error)
	ChangePlan(ctx context.Context, params PlanChangeParams) (domain.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (domain.Subscription, error)
	ResumeSubscription(ctx context.Context, subscriptionID string) (domain.Subscription, error)
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (domain.PaymentMethod, error)
	RemovePaymentMethod(ctx context.Context, paymentMethodID string) error
	ListPaymentMethods(ctx context.Context, customerID string) ([]domain.PaymentMethod, error)
	ListCharges(ctx context.Context, customerID string) ([]domain.Charge, error)

	// HandleWebhook verifies signature over rawPayload and returns the
	// decoded event with Verified set. A payload that fails verification is
	// returned only inside a payerr.ErrWebhookVerificationFailure error,
	// never as an unverified event value.
	HandleWebhook(ctx context.Context, signature string, rawPayload []byte) (domain.WebhookEvent, error)
}
