package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/paybridge/paybridge/domain"
)

func Test_Classify_StripeTypes(t *testing.T) {
	assert.Equal(t, SubscriptionCanceled, Classify(domain.ProcessorStripe, "customer.subscription.deleted"))
	assert.Equal(t, PaymentSucceeded, Classify(domain.ProcessorStripe, "invoice.paid"))
	assert.Equal(t, PaymentFailed, Classify(domain.ProcessorStripe, "invoice.payment_failed"))
	assert.Equal(t, Unrecognized, Classify(domain.ProcessorStripe, "charge.dispute.created"))
}

func Test_Classify_PaddleTypes(t *testing.T) {
	assert.Equal(t, SubscriptionUpdated, Classify(domain.ProcessorPaddle, "subscription.resumed"))
	assert.Equal(t, PaymentFailed, Classify(domain.ProcessorPaddle, "transaction.payment_failed"))
}

func Test_Classify_LemonSqueezyTypes(t *testing.T) {
	assert.Equal(t, SubscriptionCanceled, Classify(domain.ProcessorLemonSqueezy, "subscription_cancelled"))
	assert.Equal(t, PaymentSucceeded, Classify(domain.ProcessorLemonSqueezy, "subscription_payment_recovered"))
}

func Test_Classify_BraintreeTypes(t *testing.T) {
	assert.Equal(t, PaymentFailed, Classify(domain.ProcessorBraintree, "subscription_charged_unsuccessfully"))
	assert.Equal(t, SubscriptionRenewed, Classify(domain.ProcessorBraintree, "subscription_charged_successfully"))
	assert.Equal(t, SubscriptionCanceled, Classify(domain.ProcessorBraintree, "subscription_expired"))
}

func Test_Classify_CanonicalPassthrough(t *testing.T) {
	// Processors without a native catalog emit canonical types directly.
	assert.Equal(t, SubscriptionRenewed, Classify(domain.ProcessorTest, "subscription.renewed"))
	assert.Equal(t, PaymentSucceeded, Classify(domain.ProcessorGlobalPay, "payment.succeeded"))
	assert.Equal(t, Unrecognized, Classify(domain.ProcessorTest, "something.else"))
}
