package stripeproc

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go"

	"github.com/paybridge/paybridge/domain"
	"github.com/paybridge/paybridge/payerr"
)

func toCustomer(c *stripe.Customer) domain.Customer {
	out := domain.Customer{
		ID:                  c.ID,
		Email:               c.Email,
		Name:                c.Name,
		Phone:               c.Phone,
		Processor:           domain.ProcessorStripe,
		ProcessorCustomerID: c.ID,
		CreatedAt:           time.Unix(c.Created, 0),
		UpdatedAt:           time.Unix(c.Created, 0),
	}
	if len(c.Metadata) > 0 {
		out.Metadata = c.Metadata
	}
	return out
}

func toSubscription(s *stripe.Subscription) domain.Subscription {
	out := domain.Subscription{
		ID:                      s.ID,
		Status:                  toStatus(s.Status),
		CurrentPeriodStart:      time.Unix(s.CurrentPeriodStart, 0),
		CurrentPeriodEnd:        time.Unix(s.CurrentPeriodEnd, 0),
		CancelAtPeriodEnd:       s.CancelAtPeriodEnd,
		Quantity:                s.Quantity,
		Processor:               domain.ProcessorStripe,
		ProcessorSubscriptionID: s.ID,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Plan != nil {
		out.PriceID = s.Plan.ID
		if s.Plan.Product != nil {
			out.ProductID = s.Plan.Product.ID
		}
	}
	if s.TrialStart != 0 {
		t := time.Unix(s.TrialStart, 0)
		out.TrialStart = &t
	}
	if s.TrialEnd != 0 {
		t := time.Unix(s.TrialEnd, 0)
		out.TrialEnd = &t
	}
	if s.CanceledAt != 0 {
		t := time.Unix(s.CanceledAt, 0)
		out.CanceledAt = &t
	}
	return out
}

func toStatus(s stripe.SubscriptionStatus) domain.SubscriptionStatus {
	switch s {
	case stripe.SubscriptionStatusActive:
		return domain.StatusActive
	case stripe.SubscriptionStatusTrialing:
		return domain.StatusTrialing
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return domain.StatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return domain.StatusCanceled
	default:
		return domain.StatusPaused
	}
}

func toCharge(c *stripe.Charge) domain.Charge {
	out := domain.Charge{
		ID:                c.ID,
		Amount:            c.Amount,
		Currency:          string(c.Currency),
		Status:            toChargeStatus(c),
		Description:       c.Description,
		ReceiptURL:        c.ReceiptURL,
		Refunded:          c.Refunded,
		RefundedAmount:    c.AmountRefunded,
		Processor:         domain.ProcessorStripe,
		ProcessorChargeID: c.ID,
		CreatedAt:         time.Unix(c.Created, 0),
	}
	if c.Customer != nil {
		out.CustomerID = c.Customer.ID
	}
	if len(c.Metadata) > 0 {
		out.Metadata = c.Metadata
	}
	return out
}

func toChargeStatus(c *stripe.Charge) domain.ChargeStatus {
	if c.Refunded {
		return domain.ChargeRefunded
	}
	switch c.Status {
	case "succeeded":
		return domain.ChargeSucceeded
	case "failed":
		return domain.ChargeFailed
	default:
		return domain.ChargePending
	}
}

func toPaymentMethod(pm *stripe.PaymentMethod, customerID string) domain.PaymentMethod {
	out := domain.PaymentMethod{
		ID:         pm.ID,
		CustomerID: customerID,
		Type:       domain.PaymentMethodCard,
	}
	switch pm.Type {
	case stripe.PaymentMethodTypeCard:
		out.Type = domain.PaymentMethodCard
	default:
		out.Type = domain.PaymentMethodType(pm.Type)
	}
	if pm.Card != nil {
		out.Last4 = pm.Card.Last4
		out.Brand = string(pm.Card.Brand)
		out.ExpiryMonth = int(pm.Card.ExpMonth)
		out.ExpiryYear = int(pm.Card.ExpYear)
	}
	if pm.BillingDetails != nil {
		out.BillingEmail = pm.BillingDetails.Email
		out.BillingName = pm.BillingDetails.Name
		if pm.BillingDetails.Address != nil {
			out.BillingCountry = pm.BillingDetails.Address.Country
		}
	}
	return out
}

// normalizeEventData turns the native event object into the canonical
// payload convention. Unknown object shapes pass through empty; the engine
// classifies their types as unrecognized and drops them.
func normalizeEventData(eventType string, raw json.RawMessage) json.RawMessage {
	switch {
	case strings.HasPrefix(eventType, "customer.subscription."):
		var s stripe.Subscription
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		patch := domain.PatchOf(toSubscription(&s))
		return domain.EventPayload{Subscription: &patch}.Encode()
	case strings.HasPrefix(eventType, "invoice."):
		// Webhook invoices carry unexpanded id strings, so decode the raw
		// JSON directly rather than through the SDK struct.
		var inv struct {
			Subscription string `json:"subscription"`
			Customer     string `json:"customer"`
			Charge       string `json:"charge"`
			AmountDue    int64  `json:"amount_due"`
			Currency     string `json:"currency"`
		}
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil
		}
		payload := domain.EventPayload{
			SubscriptionID: inv.Subscription,
			CustomerID:     inv.Customer,
		}
		if inv.Charge != "" {
			payload.Charge = &domain.Charge{
				ID:                inv.Charge,
				CustomerID:        inv.Customer,
				Amount:            inv.AmountDue,
				Currency:          inv.Currency,
				Processor:         domain.ProcessorStripe,
				ProcessorChargeID: inv.Charge,
			}
		}
		return payload.Encode()
	case strings.HasPrefix(eventType, "payment_method."):
		var pm stripe.PaymentMethod
		if err := json.Unmarshal(raw, &pm); err != nil {
			return nil
		}
		customerID := ""
		if pm.Customer != nil {
			customerID = pm.Customer.ID
		}
		method := toPaymentMethod(&pm, customerID)
		return domain.EventPayload{PaymentMethod: &method, CustomerID: customerID}.Encode()
	default:
		return nil
	}
}

// mapError translates stripe-go errors into the canonical taxonomy. Nothing
// stripe-specific escapes this package.
func mapError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		// Transport-level failure without a Stripe envelope.
		return payerr.New(payerr.ErrNetworkFailure, "stripe", err.Error())
	}
	switch stripeErr.Type {
	case stripe.ErrorTypeAuthentication:
		return payerr.New(payerr.ErrAuthenticationFailure, "stripe", stripeErr.Msg)
	case stripe.ErrorTypeCard:
		return payerr.Declined("stripe", string(stripeErr.Code), stripeErr.Msg)
	case stripe.ErrorTypeRateLimit:
		return payerr.New(payerr.ErrNetworkFailure, "stripe", stripeErr.Msg)
	case stripe.ErrorTypeAPIConnection:
		return payerr.New(payerr.ErrNetworkFailure, "stripe", stripeErr.Msg)
	case stripe.ErrorTypeInvalidRequest:
		if stripeErr.Code == stripe.ErrorCodeResourceMissing {
			if strings.Contains(stripeErr.Msg, "customer") {
				return payerr.New(payerr.ErrCustomerNotFound, "stripe", stripeErr.Msg)
			}
			if strings.Contains(stripeErr.Msg, "subscription") {
				return payerr.New(payerr.ErrSubscriptionNotFound, "stripe", stripeErr.Msg)
			}
		}
		return payerr.New(payerr.ErrValidationFailure, "stripe", stripeErr.Msg)
	default:
		if stripeErr.HTTPStatusCode >= 500 {
			return payerr.New(payerr.ErrNetworkFailure, "stripe", stripeErr.Msg)
		}
		return payerr.New(payerr.ErrProcessorDeclined, "stripe", stripeErr.Msg)
	}
}
