package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_SubscriptionPatch_ApplyTo_PreservesAbsentFields(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := Subscription{
		ID:                 "sub_1",
		CustomerID:         "cus_1",
		Status:             StatusActive,
		PriceID:            "price_basic",
		ProductID:          "prod_1",
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   start.AddDate(0, 1, 0),
		Quantity:           2,
		Processor:          ProcessorStripe,
	}

	status := StatusPastDue
	patch := SubscriptionPatch{ID: "sub_1", Status: &status}
	patch.ApplyTo(&sub)

	assert.Equal(t, StatusPastDue, sub.Status)
	// Everything the patch did not carry stays intact.
	assert.Equal(t, "cus_1", sub.CustomerID)
	assert.Equal(t, "price_basic", sub.PriceID)
	assert.Equal(t, int64(2), sub.Quantity)
	assert.Equal(t, start, sub.CurrentPeriodStart)
}

func Test_SubscriptionPatch_ApplyTo_ZeroValueIsExplicit(t *testing.T) {
	sub := Subscription{ID: "sub_1", CancelAtPeriodEnd: true, Quantity: 3}

	off := false
	var qty int64
	patch := SubscriptionPatch{ID: "sub_1", CancelAtPeriodEnd: &off, Quantity: &qty}
	patch.ApplyTo(&sub)

	assert.False(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, int64(0), sub.Quantity)
}

func Test_PatchOf_RoundTrip(t *testing.T) {
	trialEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	orig := Subscription{
		ID:                      "sub_full",
		CustomerID:              "cus_9",
		Status:                  StatusTrialing,
		PriceID:                 "price_pro",
		ProductID:               "prod_pro",
		CurrentPeriodEnd:        trialEnd,
		TrialEnd:                &trialEnd,
		Quantity:                1,
		Processor:               ProcessorPaddle,
		ProcessorSubscriptionID: "pad_sub_9",
	}

	var rebuilt Subscription
	PatchOf(orig).ApplyTo(&rebuilt)
	assert.Equal(t, orig, rebuilt)
}

func Test_EventPayload_EncodeDecode(t *testing.T) {
	status := StatusCanceled
	payload := EventPayload{
		Subscription:   &SubscriptionPatch{ID: "sub_1", Status: &status},
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
	}

	var decoded EventPayload
	err := json.Unmarshal(payload.Encode(), &decoded)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	assert.Equal(t, "sub_1", decoded.SubscriptionID)
	if decoded.Subscription == nil || decoded.Subscription.Status == nil {
		t.Fatalf("subscription patch lost in round trip")
	}
	assert.Equal(t, StatusCanceled, *decoded.Subscription.Status)
	assert.Nil(t, decoded.Charge)
}

func Test_Subscription_JSONRoundTrip(t *testing.T) {
	canceledAt := time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)
	orig := Subscription{
		ID:                "sub_json",
		CustomerID:        "cus_json",
		Status:            StatusCanceled,
		PriceID:           "price_1",
		CanceledAt:        &canceledAt,
		CancelAtPeriodEnd: true,
		Quantity:          1,
		Processor:         ProcessorLemonSqueezy,
	}

	b, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Subscription
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	assert.Equal(t, orig, decoded)
}
