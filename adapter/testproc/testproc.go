// Package testproc is the synthetic back-end. It implements the full
// adapter contract in memory with deterministic behavior, signed webhooks
// and injectable failures, so the engine and consuming applications can be
// exercised without any external processor.
package testproc

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/paybridge/paybridge/adapter"
	"github.com/paybridge/paybridge/domain"
	"github.com/paybridge/paybridge/payerr"
)

// DefaultWebhookSecret signs synthetic webhook payloads when the
// configuration does not provide one.
const DefaultWebhookSecret = "whsec_test"

// Adapter is an in-memory ProcessorAdapter.
type Adapter struct {
	clock         domain.Clock
	webhookSecret string

	mu            sync.Mutex
	customers     map[string]domain.Customer
	subscriptions map[string]domain.Subscription
	charges       map[string]domain.Charge
	methods       map[string]domain.PaymentMethod
	prices        map[string]domain.Price
	seenIdem      map[string]string

	calls        map[string]int
	failNext     error
	failNextLeft int
}

// New returns an empty synthetic adapter.
func New(webhookSecret string, clock domain.Clock) *Adapter {
	if webhookSecret == "" {
		webhookSecret = DefaultWebhookSecret
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Adapter{
		clock:         clock,
		webhookSecret: webhookSecret,
		customers:     make(map[string]domain.Customer),
		subscriptions: make(map[string]domain.Subscription),
		charges:       make(map[string]domain.Charge),
		methods:       make(map[string]domain.PaymentMethod),
		prices:        make(map[string]domain.Price),
		seenIdem:      make(map[string]string),
		calls:         make(map[string]int),
	}
}

func (a *Adapter) Kind() domain.Processor { return domain.ProcessorTest }

// FailNextCalls makes the next n adapter calls return err, then normal
// behavior resumes. Used by retry and error-path tests.
func (a *Adapter) FailNextCalls(n int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failNext = err
	a.failNextLeft = n
}

// CallCount reports how many times the named operation ran.
func (a *Adapter) CallCount(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op]
}

// SeedPrice registers a price the synthetic back-end will honor.
func (a *Adapter) SeedPrice(p domain.Price) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prices[p.ID] = p
}

func (a *Adapter) begin(op string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[op]++
	if a.failNextLeft > 0 {
		a.failNextLeft--
		return a.failNext
	}
	return nil
}

func (a *Adapter) ValidateConfiguration(ctx context.Context) error {
	if err := a.begin("ValidateConfiguration"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return payerr.New(payerr.ErrNetworkFailure, "test", err.Error())
	}
	return nil
}

func (a *Adapter) CreateCustomer(ctx context.Context, params adapter.CustomerParams) (domain.Customer, error) {
	if err := a.begin("CreateCustomer"); err != nil {
		return domain.Customer{}, err
	}
	if params.Email == "" {
		return domain.Customer{}, payerr.New(payerr.ErrValidationFailure, "test", "email is required")
	}
	now := a.clock.Now()
	c := domain.Customer{
		ID:                  uuid.NewString(),
		Email:               params.Email,
		Name:                params.Name,
		Phone:               params.Phone,
		Processor:           domain.ProcessorTest,
		ProcessorCustomerID: "test_cus_" + uuid.NewString()[:8],
		Metadata:            params.Metadata,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	a.mu.Lock()
	a.customers[c.ID] = c
	a.mu.Unlock()
	return c, nil
}

func (a *Adapter) GetCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	if err := a.begin("GetCustomer"); err != nil {
		return domain.Customer{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.customers[customerID]
	if !ok {
		return domain.Customer{}, payerr.New(payerr.ErrCustomerNotFound, "test", customerID)
	}
	return c, nil
}

func (a *Adapter) ListSubscriptions(ctx context.Context, customerID string) ([]domain.Subscription, error) {
	if err := a.begin("ListSubscriptions"); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.Subscription
	for _, sub := range a.subscriptions {
		if sub.CustomerID == customerID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, params adapter.SubscriptionParams) (domain.Subscription, error) {
	if err := a.begin("CreateSubscription"); err != nil {
		return domain.Subscription{}, err
	}
	if params.CustomerID == "" || params.PriceID == "" {
		return domain.Subscription{}, payerr.New(payerr.ErrValidationFailure, "test", "customer id and price id are required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if params.IdempotencyKey != "" {
		if id, ok := a.seenIdem[params.IdempotencyKey]; ok {
			return a.subscriptions[id], nil
		}
	}
	if _, ok := a.customers[params.CustomerID]; !ok {
		return domain.Subscription{}, payerr.New(payerr.ErrCustomerNotFound, "test", params.CustomerID)
	}

	now := a.clock.Now()
	quantity := params.Quantity
	if quantity == 0 {
		quantity = 1
	}
	price, havePrice := a.prices[params.PriceID]
	productID := ""
	if havePrice {
		productID = price.ProductID
	}
	sub := domain.Subscription{
		ID:                      uuid.NewString(),
		CustomerID:              params.CustomerID,
		Status:                  domain.StatusActive,
		PriceID:                 params.PriceID,
		ProductID:               productID,
		CurrentPeriodStart:      now,
		CurrentPeriodEnd:        now.AddDate(0, 1, 0),
		Quantity:                quantity,
		Processor:               domain.ProcessorTest,
		ProcessorSubscriptionID: "test_sub_" + uuid.NewString()[:8],
	}
	if params.TrialDays > 0 {
		trialEnd := now.AddDate(0, 0, params.TrialDays)
		sub.Status = domain.StatusTrialing
		sub.TrialStart = &now
		sub.TrialEnd = &trialEnd
		sub.CurrentPeriodEnd = trialEnd
	}
	a.subscriptions[sub.ID] = sub
	if params.IdempotencyKey != "" {
		a.seenIdem[params.IdempotencyKey] = sub.ID
	}
	return sub, nil
}

func (a *Adapter) CreateCharge(ctx context.Context, params adapter.ChargeParams) (domain.Charge, error) {
	if err := a.begin("CreateCharge"); err != nil {
		return domain.Charge{}, err
	}
	if params.Amount <= 0 {
		return domain.Charge{}, payerr.New(payerr.ErrValidationFailure, "test", "amount must be positive")
	}
	// The magic token lets tests exercise the decline path.
	if params.Token == "tok_declined" {
		return domain.Charge{}, payerr.Declined("test", "card_declined", "synthetic decline")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if params.IdempotencyKey != "" {
		if id, ok := a.seenIdem[params.IdempotencyKey]; ok {
			return a.charges[id], nil
		}
	}
	ch := domain.Charge{
		ID:                uuid.NewString(),
		CustomerID:        params.CustomerID,
		Amount:            params.Amount,
		Currency:          params.Currency,
		Status:            domain.ChargeSucceeded,
		Description:       params.Description,
		Processor:         domain.ProcessorTest,
		ProcessorChargeID: "test_ch_" + uuid.NewString()[:8],
		CreatedAt:         a.clock.Now(),
	}
	a.charges[ch.ID] = ch
	if params.IdempotencyKey != "" {
		a.seenIdem[params.IdempotencyKey] = ch.ID
	}
	return ch, nil
}

func (a *Adapter) ChangePlan(ctx context.Context, params adapter.PlanChangeParams) (domain.Subscription, error) {
	if err := a.begin("ChangePlan"); err != nil {
		return domain.Subscription{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	sub, ok := a.subscriptions[params.SubscriptionID]
	if !ok {
		return domain.Subscription{}, payerr.New(payerr.ErrSubscriptionNotFound, "test", params.SubscriptionID)
	}
	sub.PriceID = params.NewPriceID
	if price, ok := a.prices[params.NewPriceID]; ok {
		sub.ProductID = price.ProductID
	}
	if params.Quantity > 0 {
		sub.Quantity = params.Quantity
	}
	now := a.clock.Now()
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = now.AddDate(0, 1, 0)
	a.subscriptions[sub.ID] = sub
	return sub, nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (domain.Subscription, error) {
	if err := a.begin("CancelSubscription"); err != nil {
		return domain.Subscription{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	sub, ok := a.subscriptions[subscriptionID]
	if !ok {
		return domain.Subscription{}, payerr.New(payerr.ErrSubscriptionNotFound, "test", subscriptionID)
	}
	now := a.clock.Now()
	sub.CanceledAt = &now
	if atPeriodEnd {
		sub.CancelAtPeriodEnd = true
	} else {
		sub.Status = domain.StatusCanceled
	}
	a.subscriptions[sub.ID] = sub
	return sub, nil
}

func (a *Adapter) ResumeSubscription(ctx context.Context, subscriptionID string) (domain.Subscription, error) {
	if err := a.begin("ResumeSubscription"); err != nil {
		return domain.Subscription{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	sub, ok := a.subscriptions[subscriptionID]
	if !ok {
		return domain.Subscription{}, payerr.New(payerr.ErrSubscriptionNotFound, "test", subscriptionID)
	}
	if sub.Status == domain.StatusCanceled {
		return domain.Subscription{}, payerr.New(payerr.ErrValidationFailure, "test", "cannot resume a fully canceled subscription")
	}
	sub.CancelAtPeriodEnd = false
	sub.CanceledAt = nil
	a.subscriptions[sub.ID] = sub
	return sub, nil
}

func (a *Adapter) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (domain.PaymentMethod, error) {
	if err := a.begin("SetDefaultPaymentMethod"); err != nil {
		return domain.PaymentMethod{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	pm, ok := a.methods[paymentMethodID]
	if !ok {
		pm = domain.PaymentMethod{
			ID:         paymentMethodID,
			CustomerID: customerID,
			Type:       domain.PaymentMethodCard,
			Last4:      "4242",
			Brand:      "visa",
		}
	}
	for id, other := range a.methods {
		if other.CustomerID == customerID && other.IsDefault {
			other.IsDefault = false
			a.methods[id] = other
		}
	}
	pm.IsDefault = true
	a.methods[pm.ID] = pm
	return pm, nil
}

func (a *Adapter) RemovePaymentMethod(ctx context.Context, paymentMethodID string) error {
	if err := a.begin("RemovePaymentMethod"); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.methods[paymentMethodID]; !ok {
		return payerr.New(payerr.ErrPaymentMethodFailure, "test", "unknown payment method "+paymentMethodID)
	}
	delete(a.methods, paymentMethodID)
	return nil
}

func (a *Adapter) ListPaymentMethods(ctx context.Context, customerID string) ([]domain.PaymentMethod, error) {
	if err := a.begin("ListPaymentMethods"); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.PaymentMethod
	for _, pm := range a.methods {
		if pm.CustomerID == customerID {
			out = append(out, pm)
		}
	}
	return out, nil
}

func (a *Adapter) ListCharges(ctx context.Context, customerID string) ([]domain.Charge, error) {
	if err := a.begin("ListCharges"); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.Charge
	for _, ch := range a.charges {
		if ch.CustomerID == customerID {
			out = append(out, ch)
		}
	}
	return out, nil
}

// Sign computes the hex HMAC-SHA256 signature the adapter expects for a
// synthetic webhook payload. Tests use it to build deliverable events.
func (a *Adapter) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) HandleWebhook(ctx context.Context, signature string, rawPayload []byte) (domain.WebhookEvent, error) {
	if err := a.begin("HandleWebhook"); err != nil {
		return domain.WebhookEvent{}, err
	}
	expected := a.Sign(rawPayload)
	sig, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(sig, mustHex(expected)) {
		return domain.WebhookEvent{}, payerr.New(payerr.ErrWebhookVerificationFailure, "test", "signature mismatch")
	}
	var event domain.WebhookEvent
	if err := json.Unmarshal(rawPayload, &event); err != nil {
		return domain.WebhookEvent{}, payerr.New(payerr.ErrWebhookVerificationFailure, "test", fmt.Sprintf("malformed payload: %v", err))
	}
	event.Processor = domain.ProcessorTest
	event.Verified = true
	if event.CreatedAt.IsZero() {
		event.CreatedAt = a.clock.Now()
	}
	return event, nil
}

func mustHex(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
