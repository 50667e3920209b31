package webhook

import "github.com/paybridge/paybridge/domain"

// EventType is the canonical classification of an inbound event.
type EventType string

const (
	SubscriptionCreated  EventType = "subscription.created"
	SubscriptionUpdated  EventType = "subscription.updated"
	SubscriptionCanceled EventType = "subscription.canceled"
	SubscriptionRenewed  EventType = "subscription.renewed"
	PaymentSucceeded     EventType = "payment.succeeded"
	PaymentFailed        EventType = "payment.failed"
	PaymentMethodUpdated EventType = "payment_method.updated"
	Unrecognized         EventType = "unrecognized"
)

// classification tables per processor. Types absent from a table classify
// as Unrecognized, which is dropped, not an error: processors add event
// types over time and the engine must stay forward compatible.
var eventTables = map[domain.Processor]map[string]EventType{
	domain.ProcessorStripe: {
		"customer.subscription.created": SubscriptionCreated,
		"customer.subscription.updated": SubscriptionUpdated,
		"customer.subscription.deleted": SubscriptionCanceled,
		"invoice.paid":                  PaymentSucceeded,
		"invoice.payment_succeeded":     PaymentSucceeded,
		"invoice.payment_failed":        PaymentFailed,
		"payment_method.attached":       PaymentMethodUpdated,
		"payment_method.updated":        PaymentMethodUpdated,
		"payment_method.detached":       PaymentMethodUpdated,
	},
	domain.ProcessorPaddle: {
		"subscription.created":       SubscriptionCreated,
		"subscription.updated":       SubscriptionUpdated,
		"subscription.canceled":      SubscriptionCanceled,
		"subscription.resumed":       SubscriptionUpdated,
		"transaction.completed":      PaymentSucceeded,
		"transaction.payment_failed": PaymentFailed,
	},
	domain.ProcessorBraintree: {
		"subscription_canceled":               SubscriptionCanceled,
		"subscription_expired":                SubscriptionCanceled,
		"subscription_went_active":            SubscriptionUpdated,
		"subscription_went_past_due":          SubscriptionUpdated,
		"subscription_charged_successfully":   SubscriptionRenewed,
		"subscription_charged_unsuccessfully": PaymentFailed,
	},
	domain.ProcessorLemonSqueezy: {
		"subscription_created":           SubscriptionCreated,
		"subscription_updated":           SubscriptionUpdated,
		"subscription_cancelled":         SubscriptionCanceled,
		"subscription_expired":           SubscriptionCanceled,
		"subscription_resumed":           SubscriptionUpdated,
		"subscription_payment_success":   PaymentSucceeded,
		"subscription_payment_recovered": PaymentSucceeded,
		"subscription_payment_failed":    PaymentFailed,
	},
}

// Classify maps a processor-native type string to the canonical set. The
// globalpay and synthetic processors emit canonical types natively.
func Classify(processor domain.Processor, nativeType string) EventType {
	if table, ok := eventTables[processor]; ok {
		if t, ok := table[nativeType]; ok {
			return t
		}
		return Unrecognized
	}
	switch EventType(nativeType) {
	case SubscriptionCreated, SubscriptionUpdated, SubscriptionCanceled,
		SubscriptionRenewed, PaymentSucceeded, PaymentFailed, PaymentMethodUpdated:
		return EventType(nativeType)
	default:
		return Unrecognized
	}
}
