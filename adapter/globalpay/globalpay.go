// Package globalpay implements the adapter contract for the global
// processor's REST API, which exposes the full capability set: customers,
// subscriptions, charges and stored payment methods.
package globalpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/paybridge/paybridge/adapter"
	"github.com/paybridge/paybridge/adapter/rest"
	"github.com/paybridge/paybridge/domain"
	"github.com/paybridge/paybridge/payerr"
)

const defaultBaseURL = "https://api.globalpay.example.com"

// Adapter speaks the global processor's REST API.
type Adapter struct {
	client        *rest.Client
	webhookSecret string
}

// New builds a globalpay adapter. baseURL is overridable for tests and
// regional endpoints.
func New(apiKey, webhookSecret, baseURL string, timeout time.Duration) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		client: rest.New(baseURL, "globalpay", map[string]string{
			"Authorization": "Bearer " + apiKey,
		}, timeout),
		webhookSecret: webhookSecret,
	}
}

func (a *Adapter) Kind() domain.Processor { return domain.ProcessorGlobalPay }

func (a *Adapter) ValidateConfiguration(ctx context.Context) error {
	err := a.client.DoJSON(ctx, http.MethodGet, "/v1/ping", nil, nil)
	if err == nil {
		return nil
	}
	if kind := payerr.KindOf(err); kind == payerr.ErrAuthenticationFailure {
		return payerr.New(payerr.ErrInvalidConfiguration, "globalpay", err.Error())
	}
	return err
}

type gpCustomer struct {
	ID        string            `json:"id"`
	Email     string            `json:"email"`
	Name      string            `json:"name"`
	Phone     string            `json:"phone"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type gpSubscription struct {
	ID                 string     `json:"id"`
	CustomerID         string     `json:"customer_id"`
	Status             string     `json:"status"`
	PriceID            string     `json:"price_id"`
	ProductID          string     `json:"product_id"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	TrialStart         *time.Time `json:"trial_start"`
	TrialEnd           *time.Time `json:"trial_end"`
	CanceledAt         *time.Time `json:"canceled_at"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	Quantity           int64      `json:"quantity"`
}

type gpCharge struct {
	ID             string            `json:"id"`
	CustomerID     string            `json:"customer_id"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Status         string            `json:"status"`
	Description    string            `json:"description"`
	ReceiptURL     string            `json:"receipt_url"`
	Refunded       bool              `json:"refunded"`
	RefundedAmount int64             `json:"refunded_amount"`
	Metadata       map[string]string `json:"metadata"`
	CreatedAt      time.Time         `json:"created_at"`
}

type gpPaymentMethod struct {
	ID          string `json:"id"`
	CustomerID  string `json:"customer_id"`
	Type        string `json:"type"`
	Last4       string `json:"last4"`
	Brand       string `json:"brand"`
	ExpiryMonth int    `json:"expiry_month"`
	ExpiryYear  int    `json:"expiry_year"`
	Default     bool   `json:"default"`
}

func (a *Adapter) CreateCustomer(ctx context.Context, params adapter.CustomerParams) (domain.Customer, error) {
	var out gpCustomer
	body := map[string]any{"email": params.Email, "name": params.Name, "phone": params.Phone}
	if len(params.Metadata) > 0 {
		body["metadata"] = params.Metadata
	}
	if err := a.client.DoJSON(ctx, http.MethodPost, "/v1/customers", body, &out); err != nil {
		return domain.Customer{}, err
	}
	return toCustomer(out), nil
}

func (a *Adapter) GetCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	var out gpCustomer
	err := a.client.DoJSON(ctx, http.MethodGet, "/v1/customers/"+customerID, nil, &out)
	if err != nil {
		return domain.Customer{}, rest.AsNotFound(err, payerr.ErrCustomerNotFound, "globalpay")
	}
	return toCustomer(out), nil
}

func (a *Adapter) ListSubscriptions(ctx context.Context, customerID string) ([]domain.Subscription, error) {
	var out struct {
		Data []gpSubscription `json:"data"`
	}
	err := a.client.DoJSON(ctx, http.MethodGet, "/v1/customers/"+customerID+"/subscriptions", nil, &out)
	if err != nil {
		return nil, rest.AsNotFound(err, payerr.ErrCustomerNotFound, "globalpay")
	}
	subs := make([]domain.Subscription, 0, len(out.Data))
	for _, s := range out.Data {
		subs = append(subs, toSubscription(s))
	}
	return subs, nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, params adapter.SubscriptionParams) (domain.Subscription, error) {
	quantity := params.Quantity
	if quantity == 0 {
		quantity = 1
	}
	body := map[string]any{
		"customer_id":     params.CustomerID,
		"price_id":        params.PriceID,
		"quantity":        quantity,
		"idempotency_key": params.IdempotencyKey,
	}
	if params.TrialDays > 0 {
		body["trial_days"] = params.TrialDays
	}
	var out gpSubscription
	err := a.client.DoJSON(ctx, http.MethodPost, "/v1/subscriptions", body, &out)
	if err != nil {
		return domain.Subscription{}, rest.AsNotFound(err, payerr.ErrCustomerNotFound, "globalpay")
	}
	return toSubscription(out), nil
}

func (a *Adapter) CreateCharge(ctx context.Context, params adapter.ChargeParams) (domain.Charge, error) {
	body := map[string]any{
		"customer_id":     params.CustomerID,
		"amount":          params.Amount,
		"currency":        params.Currency,
		"description":     params.Description,
		"source":          params.Token,
		"idempotency_key": params.IdempotencyKey,
	}
	var out gpCharge
	err := a.client.DoJSON(ctx, http.MethodPost, "/v1/charges", body, &out)
	if err != nil {
		return domain.Charge{}, rest.AsNotFound(err, payerr.ErrCustomerNotFound, "globalpay")
	}
	return toCharge(out), nil
}

func (a *Adapter) ChangePlan(ctx context.Context, params adapter.PlanChangeParams) (domain.Subscription, error) {
	body := map[string]any{"price_id": params.NewPriceID}
	if params.Quantity > 0 {
		body["quantity"] = params.Quantity
	}
	var out gpSubscription
	err := a.client.DoJSON(ctx, http.MethodPatch, "/v1/subscriptions/"+params.SubscriptionID, body, &out)
	if err != nil {
		return domain.Subscription{}, rest.AsNotFound(err, payerr.ErrSubscriptionNotFound, "globalpay")
	}
	return toSubscription(out), nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (domain.Subscription, error) {
	var out gpSubscription
	err := a.client.DoJSON(ctx, http.MethodPost, "/v1/subscriptions/"+subscriptionID+"/cancel",
		map[string]any{"at_period_end": atPeriodEnd}, &out)
	if err != nil {
		return domain.Subscription{}, rest.AsNotFound(err, payerr.ErrSubscriptionNotFound, "globalpay")
	}
	return toSubscription(out), nil
}

func (a *Adapter) ResumeSubscription(ctx context.Context, subscriptionID string) (domain.Subscription, error) {
	var out gpSubscription
	err := a.client.DoJSON(ctx, http.MethodPost, "/v1/subscriptions/"+subscriptionID+"/resume", map[string]any{}, &out)
	if err != nil {
		return domain.Subscription{}, rest.AsNotFound(err, payerr.ErrSubscriptionNotFound, "globalpay")
	}
	return toSubscription(out), nil
}

func (a *Adapter) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (domain.PaymentMethod, error) {
	var out gpPaymentMethod
	err := a.client.DoJSON(ctx, http.MethodPost,
		"/v1/customers/"+customerID+"/payment_methods/"+paymentMethodID+"/default", map[string]any{}, &out)
	if err != nil {
		return domain.PaymentMethod{}, rest.AsNotFound(err, payerr.ErrPaymentMethodFailure, "globalpay")
	}
	return toPaymentMethod(out), nil
}

func (a *Adapter) RemovePaymentMethod(ctx context.Context, paymentMethodID string) error {
	err := a.client.DoJSON(ctx, http.MethodDelete, "/v1/payment_methods/"+paymentMethodID, nil, nil)
	return rest.AsNotFound(err, payerr.ErrPaymentMethodFailure, "globalpay")
}

func (a *Adapter) ListPaymentMethods(ctx context.Context, customerID string) ([]domain.PaymentMethod, error) {
	var out struct {
		Data []gpPaymentMethod `json:"data"`
	}
	err := a.client.DoJSON(ctx, http.MethodGet, "/v1/customers/"+customerID+"/payment_methods", nil, &out)
	if err != nil {
		return nil, rest.AsNotFound(err, payerr.ErrCustomerNotFound, "globalpay")
	}
	var methods []domain.PaymentMethod
	for _, pm := range out.Data {
		methods = append(methods, toPaymentMethod(pm))
	}
	return methods, nil
}

func (a *Adapter) ListCharges(ctx context.Context, customerID string) ([]domain.Charge, error) {
	var out struct {
		Data []gpCharge `json:"data"`
	}
	err := a.client.DoJSON(ctx, http.MethodGet, "/v1/customers/"+customerID+"/charges", nil, &out)
	if err != nil {
		return nil, rest.AsNotFound(err, payerr.ErrCustomerNotFound, "globalpay")
	}
	result := make([]domain.Charge, 0, len(out.Data))
	for _, ch := range out.Data {
		result = append(result, toCharge(ch))
	}
	return result, nil
}

// HandleWebhook verifies the X-GP-Signature header, a hex HMAC-SHA256 over
// the raw payload.
func (a *Adapter) HandleWebhook(ctx context.Context, signature string, rawPayload []byte) (domain.WebhookEvent, error) {
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write(rawPayload)
	got, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(mac.Sum(nil), got) {
		return domain.WebhookEvent{}, payerr.New(payerr.ErrWebhookVerificationFailure, "globalpay", "signature mismatch")
	}

	var envelope struct {
		ID        string          `json:"id"`
		Type      string          `json:"type"`
		CreatedAt time.Time       `json:"created_at"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rawPayload, &envelope); err != nil {
		return domain.WebhookEvent{}, payerr.New(payerr.ErrWebhookVerificationFailure, "globalpay", fmt.Sprintf("malformed payload: %v", err))
	}
	return domain.WebhookEvent{
		ID:        envelope.ID,
		Type:      envelope.Type,
		Processor: domain.ProcessorGlobalPay,
		Data:      normalizeEventData(envelope.Type, envelope.Data),
		CreatedAt: envelope.CreatedAt,
		Verified:  true,
	}, nil
}

func toCustomer(c gpCustomer) domain.Customer {
	return domain.Customer{
		ID:                  c.ID,
		Email:               c.Email,
		Name:                c.Name,
		Phone:               c.Phone,
		Processor:           domain.ProcessorGlobalPay,
		ProcessorCustomerID: c.ID,
		Metadata:            c.Metadata,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
}

func toSubscription(s gpSubscription) domain.Subscription {
	return domain.Subscription{
		ID:                      s.ID,
		CustomerID:              s.CustomerID,
		Status:                  toStatus(s.Status),
		PriceID:                 s.PriceID,
		ProductID:               s.ProductID,
		CurrentPeriodStart:      s.CurrentPeriodStart,
		CurrentPeriodEnd:        s.CurrentPeriodEnd,
		TrialStart:              s.TrialStart,
		TrialEnd:                s.TrialEnd,
		CanceledAt:              s.CanceledAt,
		CancelAtPeriodEnd:       s.CancelAtPeriodEnd,
		Quantity:                s.Quantity,
		Processor:               domain.ProcessorGlobalPay,
		ProcessorSubscriptionID: s.ID,
	}
}

func toStatus(s string) domain.SubscriptionStatus {
	switch s {
	case "active":
		return domain.StatusActive
	case "trialing":
		return domain.StatusTrialing
	case "past_due":
		return domain.StatusPastDue
	case "canceled":
		return domain.StatusCanceled
	default:
		return domain.StatusPaused
	}
}

func toCharge(c gpCharge) domain.Charge {
	status := domain.ChargePending
	switch c.Status {
	case "succeeded":
		status = domain.ChargeSucceeded
	case "failed":
		status = domain.ChargeFailed
	case "refunded":
		status = domain.ChargeRefunded
	}
	return domain.Charge{
		ID:                c.ID,
		CustomerID:        c.CustomerID,
		Amount:            c.Amount,
		Currency:          strings.ToLower(c.Currency),
		Status:            status,
		Description:       c.Description,
		ReceiptURL:        c.ReceiptURL,
		Refunded:          c.Refunded,
		RefundedAmount:    c.RefundedAmount,
		Processor:         domain.ProcessorGlobalPay,
		ProcessorChargeID: c.ID,
		CreatedAt:         c.CreatedAt,
		Metadata:          c.Metadata,
	}
}

func toPaymentMethod(pm gpPaymentMethod) domain.PaymentMethod {
	return domain.PaymentMethod{
		ID:          pm.ID,
		CustomerID:  pm.CustomerID,
		Type:        domain.PaymentMethodType(pm.Type),
		Last4:       pm.Last4,
		Brand:       pm.Brand,
		ExpiryMonth: pm.ExpiryMonth,
		ExpiryYear:  pm.ExpiryYear,
		IsDefault:   pm.Default,
	}
}

// normalizeEventData translates the native event body into the canonical
// payload convention.
func normalizeEventData(eventType string, raw json.RawMessage) json.RawMessage {
	switch {
	case strings.HasPrefix(eventType, "subscription."):
		var s gpSubscription
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		patch := domain.PatchOf(toSubscription(s))
		return domain.EventPayload{Subscription: &patch}.Encode()
	case strings.HasPrefix(eventType, "payment."), strings.HasPrefix(eventType, "charge."):
		var body struct {
			gpCharge
			SubscriptionID string `json:"subscription_id"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil
		}
		ch := toCharge(body.gpCharge)
		return domain.EventPayload{
			Charge:         &ch,
			SubscriptionID: body.SubscriptionID,
			CustomerID:     body.CustomerID,
		}.Encode()
	case strings.HasPrefix(eventType, "payment_method."):
		var pm gpPaymentMethod
		if err := json.Unmarshal(raw, &pm); err != nil {
			return nil
		}
		method := toPaymentMethod(pm)
		return domain.EventPayload{PaymentMethod: &method, CustomerID: pm.CustomerID}.Encode()
	default:
		return nil
	}
}
