package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/paybridge/paybridge/adapter/testproc"
	"github.com/paybridge/paybridge/cache"
	"github.com/paybridge/paybridge/domain"
	"github.com/paybridge/paybridge/payerr"
	"github.com/paybridge/paybridge/storage"
)

type engineFixture struct {
	engine  *Engine
	adapter *testproc.Adapter
	store   *storage.Memory
	cache   *cache.Cache
	clock   *domain.FakeClock
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	store := storage.NewMemory()
	clock := domain.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := cache.New(store, 5*time.Minute, clock, logger)
	return &engineFixture{
		engine:  NewEngine(store, c, 3, clock, logger),
		adapter: testproc.New("", clock),
		store:   store,
		cache:   c,
		clock:   clock,
	}
}

// deliver builds a signed synthetic delivery and runs it through the engine.
func (f *engineFixture) deliver(t *testing.T, id, eventType string, payload domain.EventPayload) (domain.WebhookEvent, error) {
	t.Helper()
	raw, err := json.Marshal(domain.WebhookEvent{
		ID:        id,
		Type:      eventType,
		Data:      payload.Encode(),
		CreatedAt: f.clock.Now(),
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return f.engine.Process(context.Background(), f.adapter, f.adapter.Sign(raw), raw)
}

func Test_Process_RejectsBadSignature(t *testing.T) {
	f := newEngineFixture(t)
	raw := []byte(`{"id":"evt_1","type":"subscription.updated"}`)

	_, err := f.engine.Process(context.Background(), f.adapter, "deadbeef", raw)
	assert.True(t, errors.Is(err, payerr.ErrWebhookVerificationFailure))

	// Nothing was recorded for the rejected delivery.
	ok, _ := f.store.ContainsKey("webhook:evt_1")
	assert.False(t, ok)
}

func Test_Process_AppliesSubscriptionPatch(t *testing.T) {
	f := newEngineFixture(t)
	_ = f.cache.Put(cache.KindSubscription, "sub_1", domain.Subscription{
		ID:         "sub_1",
		CustomerID: "cus_1",
		Status:     domain.StatusActive,
		PriceID:    "price_basic",
		Quantity:   2,
	}, f.clock.Now().Add(-time.Minute))

	status := domain.StatusPastDue
	_, err := f.deliver(t, "evt_1", "subscription.updated", domain.EventPayload{
		Subscription: &domain.SubscriptionPatch{ID: "sub_1", Status: &status},
	})
	assert.NoError(t, err)

	var sub domain.Subscription
	hit, _ := f.cache.GetAny(cache.KindSubscription, "sub_1", &sub)
	assert.True(t, hit)
	assert.Equal(t, domain.StatusPastDue, sub.Status)
	// Fields the event did not carry survive the merge.
	assert.Equal(t, "price_basic", sub.PriceID)
	assert.Equal(t, int64(2), sub.Quantity)
}

func Test_Process_DuplicateDeliveryIsNoOp(t *testing.T) {
	f := newEngineFixture(t)
	qty := int64(5)
	payload := domain.EventPayload{
		Subscription: &domain.SubscriptionPatch{ID: "sub_1", Quantity: &qty},
	}

	_, err := f.deliver(t, "evt_dup", "subscription.updated", payload)
	assert.NoError(t, err)

	// Mutate the cached copy, then redeliver the same event id.
	var sub domain.Subscription
	_, _ = f.cache.GetAny(cache.KindSubscription, "sub_1", &sub)
	sub.Quantity = 9
	f.clock.Advance(time.Minute)
	_ = f.cache.Put(cache.KindSubscription, "sub_1", sub, f.clock.Now())

	// Redelivery of the same id returns success without reapplying the patch.
	_, err = f.deliver(t, "evt_dup", "subscription.updated", payload)
	assert.NoError(t, err)

	_, _ = f.cache.GetAny(cache.KindSubscription, "sub_1", &sub)
	assert.Equal(t, int64(9), sub.Quantity)
}

func Test_Process_CanceledEventDefaultsStatus(t *testing.T) {
	f := newEngineFixture(t)
	_ = f.cache.Put(cache.KindSubscription, "sub_1", domain.Subscription{
		ID: "sub_1", Status: domain.StatusActive,
	}, f.clock.Now().Add(-time.Minute))

	_, err := f.deliver(t, "evt_cancel", "subscription.canceled", domain.EventPayload{
		SubscriptionID: "sub_1",
	})
	assert.NoError(t, err)

	var sub domain.Subscription
	_, _ = f.cache.GetAny(cache.KindSubscription, "sub_1", &sub)
	assert.Equal(t, domain.StatusCanceled, sub.Status)
}

func Test_Process_SubscriptionEventInvalidatesLists(t *testing.T) {
	f := newEngineFixture(t)
	_ = f.cache.Put(cache.KindSubscriptions, "cus_1", []domain.Subscription{{ID: "sub_1"}}, f.clock.Now())

	qty := int64(2)
	_, err := f.deliver(t, "evt_list", "subscription.updated", domain.EventPayload{
		Subscription: &domain.SubscriptionPatch{ID: "sub_1", Quantity: &qty},
	})
	assert.NoError(t, err)

	var list []domain.Subscription
	hit, _ := f.cache.GetAny(cache.KindSubscriptions, "cus_1", &list)
	assert.False(t, hit)
}

func Test_Process_PaymentFailureCounter(t *testing.T) {
	f := newEngineFixture(t)
	payload := domain.EventPayload{SubscriptionID: "sub_1"}

	for i, id := range []string{"evt_f1", "evt_f2", "evt_f3"} {
		_, err := f.deliver(t, id, "payment.failed", payload)
		assert.NoError(t, err)
		count, _ := f.engine.FailedPaymentCount("sub_1")
		assert.Equal(t, i+1, count)
	}

	// Redelivering a counted failure does not double count.
	_, err := f.deliver(t, "evt_f3", "payment.failed", payload)
	assert.NoError(t, err)
	count, _ := f.engine.FailedPaymentCount("sub_1")
	assert.Equal(t, 3, count)
}

func Test_Process_PaymentSuccessResetsCounter(t *testing.T) {
	f := newEngineFixture(t)
	payload := domain.EventPayload{SubscriptionID: "sub_1"}

	_, _ = f.deliver(t, "evt_f1", "payment.failed", payload)
	_, _ = f.deliver(t, "evt_f2", "payment.failed", payload)

	_, err := f.deliver(t, "evt_ok", "payment.succeeded", payload)
	assert.NoError(t, err)

	count, _ := f.engine.FailedPaymentCount("sub_1")
	assert.Equal(t, 0, count)
}

func Test_Process_RenewalMergesPeriodAndEndsFailureStreak(t *testing.T) {
	f := newEngineFixture(t)
	_ = f.cache.Put(cache.KindSubscription, "sub_1", domain.Subscription{
		ID: "sub_1", Status: domain.StatusPastDue, PriceID: "price_basic",
	}, f.clock.Now().Add(-time.Minute))
	_ = f.cache.Put(cache.KindCharges, "cus_1", []domain.Charge{{ID: "ch_1"}}, f.clock.Now())
	_, _ = f.deliver(t, "evt_f1", "payment.failed", domain.EventPayload{SubscriptionID: "sub_1"})
	_, _ = f.deliver(t, "evt_f2", "payment.failed", domain.EventPayload{SubscriptionID: "sub_1"})

	status := domain.StatusActive
	periodEnd := f.clock.Now().Add(30 * 24 * time.Hour)
	f.clock.Advance(time.Second)
	_, err := f.deliver(t, "evt_renew", "subscription.renewed", domain.EventPayload{
		Subscription: &domain.SubscriptionPatch{
			ID:               "sub_1",
			Status:           &status,
			CurrentPeriodEnd: &periodEnd,
		},
	})
	assert.NoError(t, err)

	count, _ := f.engine.FailedPaymentCount("sub_1")
	assert.Equal(t, 0, count)

	var sub domain.Subscription
	_, _ = f.cache.GetAny(cache.KindSubscription, "sub_1", &sub)
	assert.Equal(t, domain.StatusActive, sub.Status)
	assert.Equal(t, periodEnd.Unix(), sub.CurrentPeriodEnd.Unix())
	// Fields the event did not carry survive the merge.
	assert.Equal(t, "price_basic", sub.PriceID)

	var charges []domain.Charge
	hit, _ := f.cache.GetAny(cache.KindCharges, "cus_1", &charges)
	assert.False(t, hit)
}

func Test_ResetFailureCounters_ClearsEveryStreak(t *testing.T) {
	f := newEngineFixture(t)
	_, _ = f.deliver(t, "evt_a", "payment.failed", domain.EventPayload{SubscriptionID: "sub_a"})
	_, _ = f.deliver(t, "evt_b", "payment.failed", domain.EventPayload{SubscriptionID: "sub_b"})

	assert.NoError(t, f.engine.ResetFailureCounters())

	for _, id := range []string{"sub_a", "sub_b"} {
		count, err := f.engine.FailedPaymentCount(id)
		assert.NoError(t, err)
		assert.Equal(t, 0, count)
	}
	// Idempotency records are not counters and survive the reset.
	ok, _ := f.store.ContainsKey("webhook:evt_a")
	assert.True(t, ok)
}

func Test_Process_UnrecognizedEventDroppedButRecorded(t *testing.T) {
	f := newEngineFixture(t)

	event, err := f.deliver(t, "evt_odd", "something.novel", domain.EventPayload{SubscriptionID: "sub_1"})
	assert.NoError(t, err)
	assert.Equal(t, "something.novel", event.Type)

	// The id is recorded so redeliveries stay quiet.
	ok, _ := f.store.ContainsKey("webhook:evt_odd")
	assert.True(t, ok)

	// And no state was touched.
	var sub domain.Subscription
	hit, _ := f.cache.GetAny(cache.KindSubscription, "sub_1", &sub)
	assert.False(t, hit)
}

func Test_Process_EventWithoutIDRejected(t *testing.T) {
	f := newEngineFixture(t)
	raw, _ := json.Marshal(domain.WebhookEvent{Type: "subscription.updated"})
	_, err := f.engine.Process(context.Background(), f.adapter, f.adapter.Sign(raw), raw)
	assert.True(t, errors.Is(err, payerr.ErrWebhookVerificationFailure))
}

func Test_Process_StaleEventCannotOverwriteNewerState(t *testing.T) {
	f := newEngineFixture(t)
	// Current state written now.
	_ = f.cache.Put(cache.KindSubscription, "sub_1", domain.Subscription{
		ID: "sub_1", Status: domain.StatusActive,
	}, f.clock.Now())

	// An event created a minute ago arrives late.
	status := domain.StatusPastDue
	raw, _ := json.Marshal(domain.WebhookEvent{
		ID:   "evt_late",
		Type: "subscription.updated",
		Data: domain.EventPayload{
			Subscription: &domain.SubscriptionPatch{ID: "sub_1", Status: &status},
		}.Encode(),
		CreatedAt: f.clock.Now().Add(-time.Minute),
	})
	_, err := f.engine.Process(context.Background(), f.adapter, f.adapter.Sign(raw), raw)
	assert.NoError(t, err)

	var sub domain.Subscription
	_, _ = f.cache.GetAny(cache.KindSubscription, "sub_1", &sub)
	assert.Equal(t, domain.StatusActive, sub.Status)
}
