package domain

import "time"

// SubscriptionStatus is the subscription state machine.
type SubscriptionStatus string

const (
	StatusTrialing SubscriptionStatus = "trialing"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusPaused   SubscriptionStatus = "paused"
)

// DefaultGracePeriodDays is the window a past-due subscription is still
// treated as recoverable. This is a local policy default, not a contract of
// any processor's dunning configuration.
const DefaultGracePeriodDays = 7

// Subscription is the canonical subscription record.
type Subscription struct {
	ID                      string             `json:"id"`
	CustomerID              string             `json:"customerId"`
	Status                  SubscriptionStatus `json:"status"`
	PriceID                 string             `json:"priceId"`
	ProductID               string             `json:"productId"`
	CurrentPeriodStart      time.Time          `json:"currentPeriodStart"`
	CurrentPeriodEnd        time.Time          `json:"currentPeriodEnd"`
	TrialStart              *time.Time         `json:"trialStart,omitempty"`
	TrialEnd                *time.Time         `json:"trialEnd,omitempty"`
	CanceledAt              *time.Time         `json:"canceledAt,omitempty"`
	CancelAtPeriodEnd       bool               `json:"cancelAtPeriodEnd"`
	Quantity                int64              `json:"quantity"`
	Processor               Processor          `json:"processor"`
	ProcessorSubscriptionID string             `json:"processorSubscriptionId"`
}

// IsActive reports whether the subscription is in the active state.
func (s Subscription) IsActive() bool { return s.Status == StatusActive }

// IsCanceled reports whether the subscription has been canceled.
func (s Subscription) IsCanceled() bool { return s.Status == StatusCanceled }

// IsOnTrial reports whether the subscription is trialing with a trial end
// still in the future at now.
func (s Subscription) IsOnTrial(now time.Time) bool {
	return s.Status == StatusTrialing && s.TrialEnd != nil && now.Before(*s.TrialEnd)
}

// InGracePeriod reports whether the subscription is scheduled to cancel at
// period end but the period has not yet elapsed.
func (s Subscription) InGracePeriod(now time.Time) bool {
	return s.CancelAtPeriodEnd && s.CanceledAt != nil && now.Before(s.CurrentPeriodEnd)
}

// DaysUntilDue returns the remaining days of the past-due grace window,
// which may be negative once the window is overrun. Only meaningful while
// Status == StatusPastDue; other states return 0.
func (s Subscription) DaysUntilDue(now time.Time) int {
	if s.Status != StatusPastDue {
		return 0
	}
	elapsed := int(now.Sub(s.CurrentPeriodEnd).Hours() / 24)
	return DefaultGracePeriodDays - elapsed
}
