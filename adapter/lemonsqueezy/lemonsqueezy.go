// Package lemonsqueezy implements the adapter contract over the Lemon
// Squeezy JSON:API. Like Paddle, the back-end is checkout-driven: server
// APIs cannot create subscriptions or one-off charges, and payment methods
// are managed through the customer portal, so those operations fail with
// UnsupportedOperation.
package lemonsqueezy

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/paybridge/paybridge/adapter"
	"github.com/paybridge/paybridge/adapter/rest"
	"github.com/paybridge/paybridge/domain"
	"github.com/paybridge/paybridge/payerr"
)

const defaultBaseURL = "https://api.lemonsqueezy.com"

// Adapter speaks the Lemon Squeezy API for one store.
type Adapter struct {
	client        *rest.Client
	storeID       string
	webhookSecret string
}

// New builds a Lemon Squeezy adapter. baseURL is overridable for tests.
func New(apiKey, webhookSecret, storeID, baseURL string, timeout time.Duration) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		client: rest.New(baseURL, "lemonsqueezy", map[string]string{
			"Authorization": "Bearer " + apiKey,
		}, timeout),
		storeID:       storeID,
		webhookSecret: webhookSecret,
	}
}

func (a *Adapter) Kind() domain.Processor { return domain.ProcessorLemonSqueezy }

func (a *Adapter) ValidateConfiguration(ctx context.Context) error {
	err := a.client.DoJSON(ctx, http.MethodGet, "/v1/users/me", nil, nil)
	if err == nil {
		return nil
	}
	if kind := payerr.KindOf(err); kind == payerr.ErrAuthenticationFailure {
		return payerr.New(payerr.ErrInvalidConfiguration, "lemonsqueezy", err.Error())
	}
	return err
}

// resource is the generic JSON:API object envelope.
type resource struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Attributes json.RawMessage `json:"attributes"`
}

func (a *Adapter) CreateCustomer(ctx context.Context, params adapter.CustomerParams) (domain.Customer, error) {
	body := map[string]any{
		"data": map[string]any{
			"type": "customers",
			"attributes": map[string]any{
				"name":  params.Name,
				"email": params.Email,
			},
			"relationships": map[string]any{
				"store": map[string]any{
					"data": map[string]any{"type": "stores", "id": a.storeID},
				},
			},
		},
	}
	var resp struct {
		Data resource `json:"data"`
	}
	if err := a.client.DoJSON(ctx, http.MethodPost, "/v1/customers", body, &resp); err != nil {
		return domain.Customer{}, err
	}
	return toCustomer(resp.Data)
}

func (a *Adapter) GetCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	var resp struct {
		Data resource `json:"data"`
	}
	err := a.client.DoJSON(ctx, http.MethodGet, "/v1/customers/"+customerID, nil, &resp)
	if err != nil {
		return domain.Customer{}, rest.AsNotFound(err, payerr.ErrCustomerNotFound, "lemonsqueezy")
	}
	return toCustomer(resp.Data)
}

func (a *Adapter) ListSubscriptions(ctx context.Context, customerID string) ([]domain.Subscription, error) {
	var resp struct {
		Data []resource `json:"data"`
	}
	path := "/v1/subscriptions?filter[store_id]=" + a.storeID + "&filter[customer_id]=" + customerID
	err := a.client.DoJSON(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		return nil, rest.AsNotFound(err, payerr.ErrCustomerNotFound, "lemonsqueezy")
	}
	var out []domain.Subscription
	for _, r := range resp.Data {
		sub, err := toSubscription(r)
		if err != nil {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, params adapter.SubscriptionParams) (domain.Subscription, error) {
	return domain.Subscription{}, payerr.New(payerr.ErrUnsupportedOperation, "lemonsqueezy", "subscriptions are created through checkout")
}

func (a *Adapter) CreateCharge(ctx context.Context, params adapter.ChargeParams) (domain.Charge, error) {
	return domain.Charge{}, payerr.New(payerr.ErrUnsupportedOperation, "lemonsqueezy", "one-off charges are created through checkout")
}

func (a *Adapter) ChangePlan(ctx context.Context, params adapter.PlanChangeParams) (domain.Subscription, error) {
	variantID, err := strconv.Atoi(params.NewPriceID)
	if err != nil {
		return domain.Subscription{}, payerr.New(payerr.ErrValidationFailure, "lemonsqueezy", "price id must be a numeric variant id")
	}
	body := map[string]any{
		"data": map[string]any{
			"type":       "subscriptions",
			"id":         params.SubscriptionID,
			"attributes": map[string]any{"variant_id": variantID},
		},
	}
	return a.patchSubscription(ctx, params.SubscriptionID, body)
}

func (a *Adapter) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (domain.Subscription, error) {
	// Lemon Squeezy cancellation is always effective at period end.
	var resp struct {
		Data resource `json:"data"`
	}
	err := a.client.DoJSON(ctx, http.MethodDelete, "/v1/subscriptions/"+subscriptionID, nil, &resp)
	if err != nil {
		return domain.Subscription{}, rest.AsNotFound(err, payerr.ErrSubscriptionNotFound, "lemonsqueezy")
	}
	return toSubscription(resp.Data)
}

func (a *Adapter) ResumeSubscription(ctx context.Context, subscriptionID string) (domain.Subscription, error) {
	body := map[string]any{
		"data": map[string]any{
			"type":       "subscriptions",
			"id":         subscriptionID,
			"attributes": map[string]any{"cancelled": false},
		},
	}
	return a.patchSubscription(ctx, subscriptionID, body)
}

func (a *Adapter) patchSubscription(ctx context.Context, id string, body any) (domain.Subscription, error) {
	var resp struct {
		Data resource `json:"data"`
	}
	err := a.client.DoJSON(ctx, http.MethodPatch, "/v1/subscriptions/"+id, body, &resp)
	if err != nil {
		return domain.Subscription{}, rest.AsNotFound(err, payerr.ErrSubscriptionNotFound, "lemonsqueezy")
	}
	return toSubscription(resp.Data)
}

func (a *Adapter) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (domain.PaymentMethod, error) {
	return domain.PaymentMethod{}, payerr.New(payerr.ErrUnsupportedOperation, "lemonsqueezy", "payment methods are managed through the customer portal")
}

func (a *Adapter) RemovePaymentMethod(ctx context.Context, paymentMethodID string) error {
	return payerr.New(payerr.ErrUnsupportedOperation, "lemonsqueezy", "payment methods are managed through the customer portal")
}

func (a *Adapter) ListPaymentMethods(ctx context.Context, customerID string) ([]domain.PaymentMethod, error) {
	return nil, payerr.New(payerr.ErrUnsupportedOperation, "lemonsqueezy", "payment methods are managed through the customer portal")
}

func (a *Adapter) ListCharges(ctx context.Context, customerID string) ([]domain.Charge, error) {
	var resp struct {
		Data []resource `json:"data"`
	}
	path := "/v1/orders?filter[store_id]=" + a.storeID + "&filter[customer_id]=" + customerID
	err := a.client.DoJSON(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		return nil, rest.AsNotFound(err, payerr.ErrCustomerNotFound, "lemonsqueezy")
	}
	var out []domain.Charge
	for _, r := range resp.Data {
		ch, err := toCharge(r, customerID)
		if err != nil {
			continue
		}
		out = append(out, ch)
	}
	return out, nil
}

// HandleWebhook verifies the X-Signature header, a hex HMAC-SHA256 over the
// raw payload. The event id is derived from the event name, object id and
// update time so redeliveries dedupe to the same key.
func (a *Adapter) HandleWebhook(ctx context.Context, signature string, rawPayload []byte) (domain.WebhookEvent, error) {
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write(rawPayload)
	got, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(mac.Sum(nil), got) {
		return domain.WebhookEvent{}, payerr.New(payerr.ErrWebhookVerificationFailure, "lemonsqueezy", "signature mismatch")
	}

	var envelope struct {
		Meta struct {
			EventName string `json:"event_name"`
		} `json:"meta"`
		Data resource `json:"data"`
	}
	if err := json.Unmarshal(rawPayload, &envelope); err != nil {
		return domain.WebhookEvent{}, payerr.New(payerr.ErrWebhookVerificationFailure, "lemonsqueezy", fmt.Sprintf("malformed payload: %v", err))
	}

	var attrs struct {
		UpdatedAt time.Time `json:"updated_at"`
	}
	_ = json.Unmarshal(envelope.Data.Attributes, &attrs)
	eventID := fmt.Sprintf("%s:%s:%d", envelope.Meta.EventName, envelope.Data.ID, attrs.UpdatedAt.Unix())

	return domain.WebhookEvent{
		ID:        eventID,
		Type:      envelope.Meta.EventName,
		Processor: domain.ProcessorLemonSqueezy,
		Data:      normalizeEventData(envelope.Meta.EventName, envelope.Data),
		CreatedAt: attrs.UpdatedAt,
		Verified:  true,
	}, nil
}
