// Package paddle implements the adapter contract over the Paddle Billing
// REST API. Paddle sells through hosted checkouts, so one-off charges and
// default payment method changes are not available server-side and fail
// with UnsupportedOperation.
package paddle

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

const defaultBaseURL = "https://api.paddle.com"

// Adapter speaks the Paddle Billing API.
type Adapter struct {
	client        *rest.Client
	webhookSecret string
	clock         domain.Clock
}

// New builds a Paddle adapter. baseURL is overridable for the sandbox
// environment and tests.
func New(apiKey, webhookSecret, baseURL string, timeout time.Duration, clock domain.Clock) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Adapter{
		client: rest.New(baseURL, "paddle", map[string]string{
			"Authorization": "Bearer " + apiKey,
		}, timeout),
		webhookSecret: webhookSecret,
		clock:         clock,
	}
}

func (a *Adapter) Kind() domain.Processor { return domain.ProcessorPaddle }

func (a *Adapter) ValidateConfiguration(ctx context.Context) error {
	err := a.client.DoJSON(ctx, http.MethodGet, "/event-types", nil, nil)
	if err == nil {
		return nil
	}
	if kind := payerr.KindOf(err); kind == payerr.ErrAuthenticationFailure {
		return payerr.New(payerr.ErrInvalidConfiguration, "paddle", err.Error())
	}
	return err
}

type paddleCustomer struct {
	ID        string            `json:"id"`
	Email     string            `json:"email"`
	Name      string            `json:"name"`
	CreatedAt time.Time         `json:"created_at"`
	Custom    map[string]string `json:"custom_data"`
}

type paddleSubscription struct {
	ID            string     `json:"id"`
	CustomerID    string     `json:"customer_id"`
	Status        string     `json:"status"`
	StartedAt     *time.Time `json:"started_at"`
	CanceledAt    *time.Time `json:"canceled_at"`
	CurrentPeriod struct {
		StartsAt time.Time `json:"starts_at"`
		EndsAt   time.Time `json:"ends_at"`
	} `json:"current_billing_period"`
	ScheduledChange *struct {
		Action string `json:"action"`
	} `json:"scheduled_change"`
	Items []struct {
		Quantity int64 `json:"quantity"`
		Price    struct {
			ID        string `json:"id"`
			ProductID string `json:"product_id"`
		} `json:"price"`
	} `json:"items"`
}

func (a *Adapter) CreateCustomer(ctx context.Context, params adapter.CustomerParams) (domain.Customer, error) {
	var resp struct {
		Data paddleCustomer `json:"data"`
	}
	body := map[string]any{"email": params.Email}
	if params.Name != "" {
		body["name"] = params.Name
	}
	if len(params.Metadata) > 0 {
		body["custom_data"] = params.Metadata
	}
	if err := a.client.DoJSON(ctx, http.MethodPost, "/customers", body, &resp); err != nil {
		return domain.Customer{}, err
	}
	return toCustomer(resp.Data), nil
}

func (a *Adapter) GetCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	var resp struct {
		Data paddleCustomer `json:"data"`
	}
	err := a.client.DoJSON(ctx, http.MethodGet, "/customers/"+customerID, nil, &resp)
	if err != nil {
		return domain.Customer{}, rest.AsNotFound(err, payerr.ErrCustomerNotFound, "paddle")
	}
	return toCustomer(resp.Data), nil
}

func (a *Adapter) ListSubscriptions(ctx context.Context, customerID string) ([]domain.Subscription, error) {
	var resp struct {
		Data []paddleSubscription `json:"data"`
	}
	err := a.client.DoJSON(ctx, http.MethodGet, "/subscriptions?customer_id="+customerID, nil, &resp)
	if err != nil {
		return nil, rest.AsNotFound(err, payerr.ErrCustomerNotFound, "paddle")
	}
	var out []domain.Subscription
	for _, s := range resp.Data {
		out = append(out, toSubscription(s))
	}
	return out, nil
}

// CreateSubscription is not offered by Paddle's server API; subscriptions
// originate from hosted checkout transactions.
func (a *Adapter) CreateSubscription(ctx context.Context, params adapter.SubscriptionParams) (domain.Subscription, error) {
	return domain.Subscription{}, payerr.New(payerr.ErrUnsupportedOperation, "paddle", "subscriptions are created through checkout")
}

// CreateCharge is not offered by Paddle's server API.
func (a *Adapter) CreateCharge(ctx context.Context, params adapter.ChargeParams) (domain.Charge, error) {
	return domain.Charge{}, payerr.New(payerr.ErrUnsupportedOperation, "paddle", "one-off charges are created through checkout")
}

func (a *Adapter) ChangePlan(ctx context.Context, params adapter.PlanChangeParams) (domain.Subscription, error) {
	quantity := params.Quantity
	if quantity == 0 {
		quantity = 1
	}
	var resp struct {
		Data paddleSubscription `json:"data"`
	}
	body := map[string]any{
		"items":                  []map[string]any{{"price_id": params.NewPriceID, "quantity": quantity}},
		"proration_billing_mode": "prorated_immediately",
	}
	err := a.client.DoJSON(ctx, http.MethodPatch, "/subscriptions/"+params.SubscriptionID, body, &resp)
	if err != nil {
		return domain.Subscription{}, rest.AsNotFound(err, payerr.ErrSubscriptionNotFound, "paddle")
	}
	return toSubscription(resp.Data), nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (domain.Subscription, error) {
	effective := "immediately"
	if atPeriodEnd {
		effective = "next_billing_period"
	}
	var resp struct {
		Data paddleSubscription `json:"data"`
	}
	err := a.client.DoJSON(ctx, http.MethodPost, "/subscriptions/"+subscriptionID+"/cancel",
		map[string]any{"effective_from": effective}, &resp)
	if err != nil {
		return domain.Subscription{}, rest.AsNotFound(err, payerr.ErrSubscriptionNotFound, "paddle")
	}
	sub := toSubscription(resp.Data)
	if atPeriodEnd && sub.CanceledAt == nil {
		now := a.clock.Now()
		sub.CanceledAt = &now
		sub.CancelAtPeriodEnd = true
	}
	return sub, nil
}

func (a *Adapter) ResumeSubscription(ctx context.Context, subscriptionID string) (domain.Subscription, error) {
	var resp struct {
		Data paddleSubscription `json:"data"`
	}
	err := a.client.DoJSON(ctx, http.MethodPatch, "/subscriptions/"+subscriptionID,
		map[string]any{"scheduled_change": nil}, &resp)
	if err != nil {
		return domain.Subscription{}, rest.AsNotFound(err, payerr.ErrSubscriptionNotFound, "paddle")
	}
	return toSubscription(resp.Data), nil
}

// SetDefaultPaymentMethod is customer-portal territory in Paddle.
func (a *Adapter) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (domain.PaymentMethod, error) {
	return domain.PaymentMethod{}, payerr.New(payerr.ErrUnsupportedOperation, "paddle", "default payment methods are managed through the customer portal")
}

func (a *Adapter) RemovePaymentMethod(ctx context.Context, paymentMethodID string) error {
	return payerr.New(payerr.ErrUnsupportedOperation, "paddle", "payment methods are managed through the customer portal")
}

func (a *Adapter) ListPaymentMethods(ctx context.Context, customerID string) ([]domain.PaymentMethod, error) {
	var resp struct {
		Data []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
			Card *struct {
				Last4       string `json:"last4"`
				CardType    string `json:"type"`
				ExpiryMonth int    `json:"expiry_month"`
				ExpiryYear  int    `json:"expiry_year"`
			} `json:"card"`
		} `json:"data"`
	}
	err := a.client.DoJSON(ctx, http.MethodGet, "/customers/"+customerID+"/payment-methods", nil, &resp)
	if err != nil {
		return nil, rest.AsNotFound(err, payerr.ErrCustomerNotFound, "paddle")
	}
	var out []domain.PaymentMethod
	for _, pm := range resp.Data {
		method := domain.PaymentMethod{
			ID:         pm.ID,
			CustomerID: customerID,
			Type:       toMethodType(pm.Type),
		}
		if pm.Card != nil {
			method.Last4 = pm.Card.Last4
			method.Brand = pm.Card.CardType
			method.ExpiryMonth = pm.Card.ExpiryMonth
			method.ExpiryYear = pm.Card.ExpiryYear
		}
		out = append(out, method)
	}
	return out, nil
}

func (a *Adapter) ListCharges(ctx context.Context, customerID string) ([]domain.Charge, error) {
	var resp struct {
		Data []struct {
			ID        string    `json:"id"`
			Status    string    `json:"status"`
			CreatedAt time.Time `json:"created_at"`
			Details   struct {
				Totals struct {
					Total        string `json:"total"`
					CurrencyCode string `json:"currency_code"`
				} `json:"totals"`
			} `json:"details"`
		} `json:"data"`
	}
	err := a.client.DoJSON(ctx, http.MethodGet, "/transactions?customer_id="+customerID, nil, &resp)
	if err != nil {
		return nil, rest.AsNotFound(err, payerr.ErrCustomerNotFound, "paddle")
	}
	var out []domain.Charge
	for _, txn := range resp.Data {
		out = append(out, domain.Charge{
			ID:                txn.ID,
			CustomerID:        customerID,
			Amount:            parseMinorUnits(txn.Details.Totals.Total),
			Currency:          strings.ToLower(txn.Details.Totals.CurrencyCode),
			Status:            toChargeStatus(txn.Status),
			Processor:         domain.ProcessorPaddle,
			ProcessorChargeID: txn.ID,
			CreatedAt:         txn.CreatedAt,
		})
	}
	return out, nil
}

// HandleWebhook verifies the Paddle-Signature header, which carries a
// timestamp and an HMAC-SHA256 of "<ts>:<payload>" as "ts=...;h1=...".
func (a *Adapter) HandleWebhook(ctx context.Context, signature string, rawPayload []byte) (domain.WebhookEvent, error) {
	ts, h1, err := parseSignatureHeader(signature)
	if err != nil {
		return domain.WebhookEvent{}, payerr.New(payerr.ErrWebhookVerificationFailure, "paddle", err.Error())
	}
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	fmt.Fprintf(mac, "%s:%s", ts, rawPayload)
	expected := mac.Sum(nil)
	got, err := hex.DecodeString(h1)
	if err != nil || !hmac.Equal(expected, got) {
		return domain.WebhookEvent{}, payerr.New(payerr.ErrWebhookVerificationFailure, "paddle", "signature mismatch")
	}

	var envelope struct {
		EventID    string          `json:"event_id"`
		EventType  string          `json:"event_type"`
		OccurredAt time.Time       `json:"occurred_at"`
		Data       json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rawPayload, &envelope); err != nil {
		return domain.WebhookEvent{}, payerr.New(payerr.ErrWebhookVerificationFailure, "paddle", fmt.Sprintf("malformed payload: %v", err))
	}
	return domain.WebhookEvent{
		ID:        envelope.EventID,
		Type:      envelope.EventType,
		Processor: domain.ProcessorPaddle,
		Data:      normalizeEventData(envelope.EventType, envelope.Data),
		CreatedAt: envelope.OccurredAt,
		Verified:  true,
	}, nil
}

func parseSignatureHeader(header string) (ts, h1 string, err error) {
	for _, part := range strings.Split(header, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "h1":
			h1 = v
		}
	}
	if ts == "" || h1 == "" {
		return "", "", fmt.Errorf("missing ts or h1 in signature header")
	}
	return ts, h1, nil
}
