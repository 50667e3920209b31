package lemonsqueezy

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paybridge/paybridge/domain"
	"github.com/paybridge/paybridge/payerr"
)

type customerAttrs struct {
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toCustomer(r resource) (domain.Customer, error) {
	var attrs customerAttrs
	if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
		return domain.Customer{}, payerr.New(payerr.ErrNetworkFailure, "lemonsqueezy", fmt.Sprintf("malformed customer: %v", err))
	}
	return domain.Customer{
		ID:                  r.ID,
		Email:               attrs.Email,
		Name:                attrs.Name,
		Processor:           domain.ProcessorLemonSqueezy,
		ProcessorCustomerID: r.ID,
		CreatedAt:           attrs.CreatedAt,
		UpdatedAt:           attrs.UpdatedAt,
	}, nil
}

type subscriptionAttrs struct {
	CustomerID  int        `json:"customer_id"`
	ProductID   int        `json:"product_id"`
	VariantID   int        `json:"variant_id"`
	Status      string     `json:"status"`
	Cancelled   bool       `json:"cancelled"`
	TrialEndsAt *time.Time `json:"trial_ends_at"`
	RenewsAt    *time.Time `json:"renews_at"`
	EndsAt      *time.Time `json:"ends_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toSubscription(r resource) (domain.Subscription, error) {
	var attrs subscriptionAttrs
	if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
		return domain.Subscription{}, payerr.New(payerr.ErrNetworkFailure, "lemonsqueezy", fmt.Sprintf("malformed subscription: %v", err))
	}
	out := domain.Subscription{
		ID:                      r.ID,
		CustomerID:              strconv.Itoa(attrs.CustomerID),
		Status:                  toStatus(attrs.Status),
		PriceID:                 strconv.Itoa(attrs.VariantID),
		ProductID:               strconv.Itoa(attrs.ProductID),
		CurrentPeriodStart:      attrs.CreatedAt,
		Quantity:                1,
		Processor:               domain.ProcessorLemonSqueezy,
		ProcessorSubscriptionID: r.ID,
	}
	if attrs.RenewsAt != nil {
		out.CurrentPeriodEnd = *attrs.RenewsAt
	} else if attrs.EndsAt != nil {
		out.CurrentPeriodEnd = *attrs.EndsAt
	}
	if attrs.TrialEndsAt != nil {
		out.TrialEnd = attrs.TrialEndsAt
		start := attrs.CreatedAt
		out.TrialStart = &start
	}
	if attrs.Cancelled {
		out.CancelAtPeriodEnd = true
		at := attrs.UpdatedAt
		out.CanceledAt = &at
	}
	return out, nil
}

func toStatus(s string) domain.SubscriptionStatus {
	switch s {
	case "active":
		return domain.StatusActive
	case "on_trial":
		return domain.StatusTrialing
	case "past_due", "unpaid":
		return domain.StatusPastDue
	case "cancelled", "expired":
		return domain.StatusCanceled
	case "paused":
		return domain.StatusPaused
	default:
		return domain.StatusPaused
	}
}

type orderAttrs struct {
	Total      int64      `json:"total"`
	Currency   string     `json:"currency"`
	Status     string     `json:"status"`
	ReceiptURL string     `json:"urls,omitempty"`
	Refunded   bool       `json:"refunded"`
	RefundedAt *time.Time `json:"refunded_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toCharge(r resource, customerID string) (domain.Charge, error) {
	var attrs orderAttrs
	if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
		return domain.Charge{}, payerr.New(payerr.ErrNetworkFailure, "lemonsqueezy", fmt.Sprintf("malformed order: %v", err))
	}
	status := domain.ChargePending
	switch attrs.Status {
	case "paid":
		status = domain.ChargeSucceeded
	case "failed":
		status = domain.ChargeFailed
	case "refunded":
		status = domain.ChargeRefunded
	}
	out := domain.Charge{
		ID:                r.ID,
		CustomerID:        customerID,
		Amount:            attrs.Total,
		Currency:          strings.ToLower(attrs.Currency),
		Status:            status,
		Refunded:          attrs.Refunded,
		Processor:         domain.ProcessorLemonSqueezy,
		ProcessorChargeID: r.ID,
		CreatedAt:         attrs.CreatedAt,
	}
	if attrs.Refunded {
		out.Status = domain.ChargeRefunded
		out.RefundedAmount = attrs.Total
	}
	return out, nil
}

// normalizeEventData translates a native event object into the canonical
// payload convention.
func normalizeEventData(eventName string, data resource) json.RawMessage {
	switch {
	case strings.HasPrefix(eventName, "subscription_payment_"):
		var attrs struct {
			SubscriptionID int `json:"subscription_id"`
			CustomerID     int `json:"customer_id"`
		}
		if err := json.Unmarshal(data.Attributes, &attrs); err != nil {
			return nil
		}
		return domain.EventPayload{
			SubscriptionID: strconv.Itoa(attrs.SubscriptionID),
			CustomerID:     strconv.Itoa(attrs.CustomerID),
		}.Encode()
	case strings.HasPrefix(eventName, "subscription_"):
		sub, err := toSubscription(data)
		if err != nil {
			return nil
		}
		patch := domain.PatchOf(sub)
		return domain.EventPayload{Subscription: &patch}.Encode()
	case strings.HasPrefix(eventName, "order_"):
		ch, err := toCharge(data, "")
		if err != nil {
			return nil
		}
		return domain.EventPayload{Charge: &ch, CustomerID: ch.CustomerID}.Encode()
	default:
		return nil
	}
}
