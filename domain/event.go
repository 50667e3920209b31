package domain

import (
	"encoding/json"
	"time"
)

// EventPayload is the canonical body adapters place in WebhookEvent.Data.
// Only the sections the native event actually carried are populated, so the
// reconciliation engine can merge without guessing at absent fields.
type EventPayload struct {
	Subscription   *SubscriptionPatch `json:"subscription,omitempty"`
	Charge         *Charge            `json:"charge,omitempty"`
	PaymentMethod  *PaymentMethod     `json:"paymentMethod,omitempty"`
	SubscriptionID string             `json:"subscriptionId,omitempty"`
	CustomerID     string             `json:"customerId,omitempty"`
}

// Encode marshals the payload for embedding in a WebhookEvent.
func (p EventPayload) Encode() json.RawMessage {
	b, _ := json.Marshal(p)
	return b
}

// SubscriptionPatch is a partial subscription carried by a webhook event.
// Pointer fields distinguish "absent from the event" from "set to the zero
// value"; absent fields are preserved from the cached copy on apply.
type SubscriptionPatch struct {
	ID                      string              `json:"id"`
	CustomerID              *string             `json:"customerId,omitempty"`
	Status                  *SubscriptionStatus `json:"status,omitempty"`
	PriceID                 *string             `json:"priceId,omitempty"`
	ProductID               *string             `json:"productId,omitempty"`
	CurrentPeriodStart      *time.Time          `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd        *time.Time          `json:"currentPeriodEnd,omitempty"`
	TrialStart              *time.Time          `json:"trialStart,omitempty"`
	TrialEnd                *time.Time          `json:"trialEnd,omitempty"`
	CanceledAt              *time.Time          `json:"canceledAt,omitempty"`
	CancelAtPeriodEnd       *bool               `json:"cancelAtPeriodEnd,omitempty"`
	Quantity                *int64              `json:"quantity,omitempty"`
	Processor               *Processor          `json:"processor,omitempty"`
	ProcessorSubscriptionID *string             `json:"processorSubscriptionId,omitempty"`
}

// PatchOf builds a patch carrying every field of s. Used by adapters whose
// back-end delivers full subscription objects in events.
func PatchOf(s Subscription) SubscriptionPatch {
	return SubscriptionPatch{
		ID:                      s.ID,
		CustomerID:              &s.CustomerID,
		Status:                  &s.Status,
		PriceID:                 &s.PriceID,
		ProductID:               &s.ProductID,
		CurrentPeriodStart:      &s.CurrentPeriodStart,
		CurrentPeriodEnd:        &s.CurrentPeriodEnd,
		TrialStart:              s.TrialStart,
		TrialEnd:                s.TrialEnd,
		CanceledAt:              s.CanceledAt,
		CancelAtPeriodEnd:       &s.CancelAtPeriodEnd,
		Quantity:                &s.Quantity,
		Processor:               &s.Processor,
		ProcessorSubscriptionID: &s.ProcessorSubscriptionID,
	}
}

// ApplyTo merges the patch into s, leaving absent fields untouched.
func (p SubscriptionPatch) ApplyTo(s *Subscription) {
	if p.ID != "" {
		s.ID = p.ID
	}
	if p.CustomerID != nil {
		s.CustomerID = *p.CustomerID
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.PriceID != nil {
		s.PriceID = *p.PriceID
	}
	if p.ProductID != nil {
		s.ProductID = *p.ProductID
	}
	if p.CurrentPeriodStart != nil {
		s.CurrentPeriodStart = *p.CurrentPeriodStart
	}
	if p.CurrentPeriodEnd != nil {
		s.CurrentPeriodEnd = *p.CurrentPeriodEnd
	}
	if p.TrialStart != nil {
		s.TrialStart = p.TrialStart
	}
	if p.TrialEnd != nil {
		s.TrialEnd = p.TrialEnd
	}
	if p.CanceledAt != nil {
		s.CanceledAt = p.CanceledAt
	}
	if p.CancelAtPeriodEnd != nil {
		s.CancelAtPeriodEnd = *p.CancelAtPeriodEnd
	}
	if p.Quantity != nil {
		s.Quantity = *p.Quantity
	}
	if p.Processor != nil {
		s.Processor = *p.Processor
	}
	if p.ProcessorSubscriptionID != nil {
		s.ProcessorSubscriptionID = *p.ProcessorSubscriptionID
	}
}
