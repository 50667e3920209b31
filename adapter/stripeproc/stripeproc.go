// Package stripeproc implements the adapter contract over the official
// Stripe SDK. A per-adapter client.API is used instead of the SDK's global
// key so reinitialization can swap processors without hidden shared state.
package stripeproc

import (
	"context"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/client"
	"github.com/stripe/stripe-go/webhook"

	"github.com/paybridge/paybridge/adapter"
	"github.com/paybridge/paybridge/domain"
	"github.com/paybridge/paybridge/payerr"
)

// Adapter speaks to Stripe.
type Adapter struct {
	sc            *client.API
	webhookSecret string
}

// New builds a Stripe adapter from an API key and webhook signing secret.
// timeout bounds every SDK call through the backend's HTTP client; the
// SDK's own 80s default is far past the per-call budget.
func New(apiKey, webhookSecret string, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sc := &client.API{}
	sc.Init(apiKey, stripe.NewBackends(&http.Client{Timeout: timeout}))
	return &Adapter{sc: sc, webhookSecret: webhookSecret}
}

// ctxErr reports an expired context as the transient failure kind so a
// deadline never escapes the taxonomy.
func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return payerr.New(payerr.ErrNetworkFailure, "stripe", err.Error())
	}
	return nil
}

func (a *Adapter) Kind() domain.Processor { return domain.ProcessorStripe }

// ValidateConfiguration retrieves the account balance, the cheapest
// authenticated round-trip Stripe offers. Bad credentials surface as
// InvalidConfiguration before any stateful call is made.
func (a *Adapter) ValidateConfiguration(ctx context.Context) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if _, err := a.sc.Balance.Get(nil); err != nil {
		mapped := mapError(err)
		if kind := payerr.KindOf(mapped); kind == payerr.ErrAuthenticationFailure || kind == payerr.ErrValidationFailure {
			return payerr.New(payerr.ErrInvalidConfiguration, "stripe", mapped.Error())
		}
		return mapped
	}
	return nil
}

func (a *Adapter) CreateCustomer(ctx context.Context, params adapter.CustomerParams) (domain.Customer, error) {
	if err := ctxErr(ctx); err != nil {
		return domain.Customer{}, err
	}
	cp := &stripe.CustomerParams{
		Email: stripe.String(params.Email),
	}
	if params.Name != "" {
		cp.Name = stripe.String(params.Name)
	}
	if params.Phone != "" {
		cp.Phone = stripe.String(params.Phone)
	}
	for k, v := range params.Metadata {
		cp.AddMetadata(k, v)
	}
	cust, err := a.sc.Customers.New(cp)
	if err != nil {
		return domain.Customer{}, mapError(err)
	}
	return toCustomer(cust), nil
}

func (a *Adapter) GetCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	if err := ctxErr(ctx); err != nil {
		return domain.Customer{}, err
	}
	cust, err := a.sc.Customers.Get(customerID, nil)
	if err != nil {
		return domain.Customer{}, mapError(err)
	}
	return toCustomer(cust), nil
}

func (a *Adapter) ListSubscriptions(ctx context.Context, customerID string) ([]domain.Subscription, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	iter := a.sc.Subscriptions.List(&stripe.SubscriptionListParams{
		Customer: customerID,
	})
	var out []domain.Subscription
	for iter.Next() {
		out = append(out, toSubscription(iter.Subscription()))
	}
	if err := iter.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, params adapter.SubscriptionParams) (domain.Subscription, error) {
	if err := ctxErr(ctx); err != nil {
		return domain.Subscription{}, err
	}
	quantity := params.Quantity
	if quantity == 0 {
		quantity = 1
	}
	sp := &stripe.SubscriptionParams{
		Customer: stripe.String(params.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Plan: stripe.String(params.PriceID), Quantity: stripe.Int64(quantity)},
		},
	}
	if params.TrialDays > 0 {
		sp.TrialPeriodDays = stripe.Int64(int64(params.TrialDays))
	}
	if params.IdempotencyKey != "" {
		sp.SetIdempotencyKey(params.IdempotencyKey)
	}
	sub, err := a.sc.Subscriptions.New(sp)
	if err != nil {
		return domain.Subscription{}, mapError(err)
	}
	return toSubscription(sub), nil
}

func (a *Adapter) CreateCharge(ctx context.Context, params adapter.ChargeParams) (domain.Charge, error) {
	if err := ctxErr(ctx); err != nil {
		return domain.Charge{}, err
	}
	cp := &stripe.ChargeParams{
		Amount:   stripe.Int64(params.Amount),
		Currency: stripe.String(params.Currency),
		Customer: stripe.String(params.CustomerID),
	}
	if params.Description != "" {
		cp.Description = stripe.String(params.Description)
	}
	if params.Token != "" {
		if err := cp.SetSource(params.Token); err != nil {
			return domain.Charge{}, payerr.New(payerr.ErrValidationFailure, "stripe", err.Error())
		}
	}
	if params.IdempotencyKey != "" {
		cp.SetIdempotencyKey(params.IdempotencyKey)
	}
	ch, err := a.sc.Charges.New(cp)
	if err != nil {
		return domain.Charge{}, mapError(err)
	}
	return toCharge(ch), nil
}

func (a *Adapter) ChangePlan(ctx context.Context, params adapter.PlanChangeParams) (domain.Subscription, error) {
	if err := ctxErr(ctx); err != nil {
		return domain.Subscription{}, err
	}
	current, err := a.sc.Subscriptions.Get(params.SubscriptionID, nil)
	if err != nil {
		return domain.Subscription{}, mapError(err)
	}
	if len(current.Items.Data) == 0 {
		return domain.Subscription{}, payerr.New(payerr.ErrSubscriptionNotFound, "stripe", "subscription has no items")
	}
	quantity := params.Quantity
	if quantity == 0 {
		quantity = current.Quantity
	}
	sp := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:       stripe.String(current.Items.Data[0].ID),
				Plan:     stripe.String(params.NewPriceID),
				Quantity: stripe.Int64(quantity),
			},
		},
	}
	sub, err := a.sc.Subscriptions.Update(params.SubscriptionID, sp)
	if err != nil {
		return domain.Subscription{}, mapError(err)
	}
	return toSubscription(sub), nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (domain.Subscription, error) {
	if err := ctxErr(ctx); err != nil {
		return domain.Subscription{}, err
	}
	var sub *stripe.Subscription
	var err error
	if atPeriodEnd {
		sub, err = a.sc.Subscriptions.Update(subscriptionID, &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		})
	} else {
		sub, err = a.sc.Subscriptions.Cancel(subscriptionID, nil)
	}
	if err != nil {
		return domain.Subscription{}, mapError(err)
	}
	return toSubscription(sub), nil
}

func (a *Adapter) ResumeSubscription(ctx context.Context, subscriptionID string) (domain.Subscription, error) {
	if err := ctxErr(ctx); err != nil {
		return domain.Subscription{}, err
	}
	sub, err := a.sc.Subscriptions.Update(subscriptionID, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	})
	if err != nil {
		return domain.Subscription{}, mapError(err)
	}
	return toSubscription(sub), nil
}

func (a *Adapter) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (domain.PaymentMethod, error) {
	if err := ctxErr(ctx); err != nil {
		return domain.PaymentMethod{}, err
	}
	_, err := a.sc.Customers.Update(customerID, &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	})
	if err != nil {
		return domain.PaymentMethod{}, mapError(err)
	}
	pm, err := a.sc.PaymentMethods.Get(paymentMethodID, nil)
	if err != nil {
		return domain.PaymentMethod{}, mapError(err)
	}
	out := toPaymentMethod(pm, customerID)
	out.IsDefault = true
	return out, nil
}

func (a *Adapter) RemovePaymentMethod(ctx context.Context, paymentMethodID string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if _, err := a.sc.PaymentMethods.Detach(paymentMethodID, nil); err != nil {
		return mapError(err)
	}
	return nil
}

func (a *Adapter) ListPaymentMethods(ctx context.Context, customerID string) ([]domain.PaymentMethod, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	cust, err := a.sc.Customers.Get(customerID, nil)
	if err != nil {
		return nil, mapError(err)
	}
	defaultID := ""
	if cust.InvoiceSettings != nil && cust.InvoiceSettings.DefaultPaymentMethod != nil {
		defaultID = cust.InvoiceSettings.DefaultPaymentMethod.ID
	}
	iter := a.sc.PaymentMethods.List(&stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	})
	var out []domain.PaymentMethod
	for iter.Next() {
		pm := toPaymentMethod(iter.PaymentMethod(), customerID)
		pm.IsDefault = pm.ID == defaultID
		out = append(out, pm)
	}
	if err := iter.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (a *Adapter) ListCharges(ctx context.Context, customerID string) ([]domain.Charge, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	iter := a.sc.Charges.List(&stripe.ChargeListParams{
		Customer: stripe.String(customerID),
	})
	var out []domain.Charge
	for iter.Next() {
		out = append(out, toCharge(iter.Charge()))
	}
	if err := iter.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// HandleWebhook verifies the Stripe-Signature header and translates the
// event envelope. The raw object payload is carried through untouched; the
// reconciliation engine owns interpretation.
func (a *Adapter) HandleWebhook(ctx context.Context, signature string, rawPayload []byte) (domain.WebhookEvent, error) {
	if err := ctxErr(ctx); err != nil {
		return domain.WebhookEvent{}, err
	}
	event, err := webhook.ConstructEvent(rawPayload, signature, a.webhookSecret)
	if err != nil {
		return domain.WebhookEvent{}, payerr.New(payerr.ErrWebhookVerificationFailure, "stripe", err.Error())
	}
	return domain.WebhookEvent{
		ID:        event.ID,
		Type:      event.Type,
		Processor: domain.ProcessorStripe,
		Data:      normalizeEventData(event.Type, event.Data.Raw),
		CreatedAt: time.Unix(event.Created, 0),
		Verified:  true,
	}, nil
}
