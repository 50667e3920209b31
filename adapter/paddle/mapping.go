package paddle

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/paybridge/paybridge/domain"
)

func toCustomer(c paddleCustomer) domain.Customer {
	return domain.Customer{
		ID:                  c.ID,
		Email:               c.Email,
		Name:                c.Name,
		Processor:           domain.ProcessorPaddle,
		ProcessorCustomerID: c.ID,
		Metadata:            c.Custom,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.CreatedAt,
	}
}

func toSubscription(s paddleSubscription) domain.Subscription {
	out := domain.Subscription{
		ID:                      s.ID,
		CustomerID:              s.CustomerID,
		Status:                  toStatus(s.Status),
		CurrentPeriodStart:      s.CurrentPeriod.StartsAt,
		CurrentPeriodEnd:        s.CurrentPeriod.EndsAt,
		CanceledAt:              s.CanceledAt,
		Quantity:                1,
		Processor:               domain.ProcessorPaddle,
		ProcessorSubscriptionID: s.ID,
	}
	if len(s.Items) > 0 {
		out.PriceID = s.Items[0].Price.ID
		out.ProductID = s.Items[0].Price.ProductID
		out.Quantity = s.Items[0].Quantity
	}
	if s.ScheduledChange != nil && s.ScheduledChange.Action == "cancel" {
		out.CancelAtPeriodEnd = true
	}
	return out
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
	case "paused":
		return domain.StatusPaused
	default:
		return domain.StatusPaused
	}
}

func toChargeStatus(s string) domain.ChargeStatus {
	switch s {
	case "completed", "paid":
		return domain.ChargeSucceeded
	case "canceled", "past_due":
		return domain.ChargeFailed
	default:
		return domain.ChargePending
	}
}

func toMethodType(t string) domain.PaymentMethodType {
	switch t {
	case "card":
		return domain.PaymentMethodCard
	case "paypal":
		return domain.PaymentMethodPayPal
	case "apple_pay", "google_pay":
		return domain.PaymentMethodWallet
	default:
		return domain.PaymentMethodType(t)
	}
}

// parseMinorUnits parses Paddle's string money amounts, which are already
// in minor units.
func parseMinorUnits(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

// normalizeEventData translates a native Paddle event object into the
// canonical payload convention.
func normalizeEventData(eventType string, raw json.RawMessage) json.RawMessage {
	switch {
	case strings.HasPrefix(eventType, "subscription."):
		var s paddleSubscription
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		patch := domain.PatchOf(toSubscription(s))
		return domain.EventPayload{Subscription: &patch}.Encode()
	case strings.HasPrefix(eventType, "transaction."):
		var txn struct {
			ID             string    `json:"id"`
			CustomerID     string    `json:"customer_id"`
			SubscriptionID string    `json:"subscription_id"`
			CreatedAt      time.Time `json:"created_at"`
		}
		if err := json.Unmarshal(raw, &txn); err != nil {
			return nil
		}
		return domain.EventPayload{
			SubscriptionID: txn.SubscriptionID,
			CustomerID:     txn.CustomerID,
		}.Encode()
	default:
		return nil
	}
}
