package paybridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/paybridge/paybridge/adapter"
	"github.com/paybridge/paybridge/adapter/testproc"
	"github.com/paybridge/paybridge/cache"
	"github.com/paybridge/paybridge/config"
	"github.com/paybridge/paybridge/domain"
	"github.com/paybridge/paybridge/payerr"
	"github.com/paybridge/paybridge/storage"
)

func testConfig() config.Config {
	cfg := config.Default(config.ProcessorTest, config.Credentials{})
	cfg.RetryBaseDelay = time.Millisecond
	cfg.LoggingEnabled = false
	return cfg
}

func newTestClient(t *testing.T) (*Client, *testproc.Adapter, *domain.FakeClock) {
	t.Helper()
	clock := domain.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	client, err := New(testConfig(), Options{Clock: clock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	proc, ok := client.reg.Adapter().(*testproc.Adapter)
	if !ok {
		t.Fatalf("expected synthetic adapter, got %T", client.reg.Adapter())
	}
	return client, proc, clock
}

func Test_New_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default(config.ProcessorStripe, config.Credentials{})
	_, err := New(cfg, Options{})
	assert.True(t, errors.Is(err, payerr.ErrInvalidConfiguration))
}

func Test_Operations_RequireInitialize(t *testing.T) {
	client, err := New(testConfig(), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = client.Customer(context.Background(), "cus_1")
	assert.True(t, errors.Is(err, payerr.ErrInvalidConfiguration))
}

func Test_Initialize_FailsFastOnBadCredentials(t *testing.T) {
	client, err := New(testConfig(), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	proc := client.reg.Adapter().(*testproc.Adapter)
	proc.FailNextCalls(5, payerr.New(payerr.ErrAuthenticationFailure, "test", "bad key"))

	err = client.Initialize(context.Background())
	assert.True(t, errors.Is(err, payerr.ErrAuthenticationFailure))
}

func Test_CreateCustomer_Validates(t *testing.T) {
	client, proc, _ := newTestClient(t)
	_, err := client.CreateCustomer(context.Background(), adapter.CustomerParams{})
	assert.True(t, errors.Is(err, payerr.ErrValidationFailure))
	// Rejected before any adapter call.
	assert.Equal(t, 0, proc.CallCount("CreateCustomer"))
}

func Test_Customer_ServedFromCache(t *testing.T) {
	client, proc, _ := newTestClient(t)
	cust, err := client.CreateCustomer(context.Background(), adapter.CustomerParams{Email: "jo@example.com"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}

	got, err := client.Customer(context.Background(), cust.ID)
	assert.NoError(t, err)
	assert.Equal(t, cust.Email, got.Email)
	// The create wrote through; the read never reached the adapter.
	assert.Equal(t, 0, proc.CallCount("GetCustomer"))

	_, err = client.RefreshCustomer(context.Background(), cust.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, proc.CallCount("GetCustomer"))
}

func Test_Customer_ReloadedAfterTTL(t *testing.T) {
	client, proc, clock := newTestClient(t)
	cust, _ := client.CreateCustomer(context.Background(), adapter.CustomerParams{Email: "jo@example.com"})

	clock.Advance(config.DefaultCacheTTL + time.Second)
	_, err := client.Customer(context.Background(), cust.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, proc.CallCount("GetCustomer"))
}

func Test_Subscribe_WithTrial(t *testing.T) {
	client, proc, clock := newTestClient(t)
	proc.SeedPrice(domain.Price{ID: "price_pro", ProductID: "prod_pro"})
	cust, _ := client.CreateCustomer(context.Background(), adapter.CustomerParams{Email: "jo@example.com"})

	sub, err := client.Subscribe(context.Background(), cust.ID, "price_pro", SubscribeOptions{TrialDays: 14})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	assert.Equal(t, domain.StatusTrialing, sub.Status)
	assert.Equal(t, "prod_pro", sub.ProductID)
	if sub.TrialEnd == nil {
		t.Fatalf("trial end not set")
	}
	assert.Equal(t, clock.Now().AddDate(0, 0, 14), *sub.TrialEnd)
	assert.Equal(t, *sub.TrialEnd, sub.CurrentPeriodEnd)

	// The write-through makes the subscription readable without a reload.
	cached, ok := client.Subscription(sub.ID)
	assert.True(t, ok)
	assert.Equal(t, sub.ID, cached.ID)
}

func Test_Subscribe_RetriesTransientFailure(t *testing.T) {
	client, proc, _ := newTestClient(t)
	cust, _ := client.CreateCustomer(context.Background(), adapter.CustomerParams{Email: "jo@example.com"})
	proc.FailNextCalls(2, payerr.New(payerr.ErrNetworkFailure, "test", "flaky"))

	sub, err := client.Subscribe(context.Background(), cust.ID, "price_basic", SubscribeOptions{})
	assert.NoError(t, err)
	assert.Equal(t, 3, proc.CallCount("CreateSubscription"))

	// One subscription despite the retries: the idempotency key held.
	subs, err := client.RefreshSubscriptions(context.Background(), cust.ID)
	assert.NoError(t, err)
	assert.Len(t, subs, 1)
	assert.Equal(t, sub.ID, subs[0].ID)
}

func Test_Subscribe_ExhaustsRetries(t *testing.T) {
	client, proc, _ := newTestClient(t)
	cust, _ := client.CreateCustomer(context.Background(), adapter.CustomerParams{Email: "jo@example.com"})
	proc.FailNextCalls(10, payerr.New(payerr.ErrNetworkFailure, "test", "down"))

	_, err := client.Subscribe(context.Background(), cust.ID, "price_basic", SubscribeOptions{})
	assert.True(t, errors.Is(err, payerr.ErrRetriesExhausted))
	assert.Equal(t, config.DefaultMaxRetryAttempts, proc.CallCount("CreateSubscription"))
}

func Test_CancelAndResume_InvalidateLists(t *testing.T) {
	client, proc, _ := newTestClient(t)
	cust, _ := client.CreateCustomer(context.Background(), adapter.CustomerParams{Email: "jo@example.com"})
	sub, _ := client.Subscribe(context.Background(), cust.ID, "price_basic", SubscribeOptions{})

	_, _ = client.Subscriptions(context.Background(), cust.ID)
	lists := proc.CallCount("ListSubscriptions")

	canceled, err := client.CancelSubscription(context.Background(), sub.ID, true)
	assert.NoError(t, err)
	assert.True(t, canceled.CancelAtPeriodEnd)

	// The mutation dropped the cached list, so the next read reloads.
	_, _ = client.Subscriptions(context.Background(), cust.ID)
	assert.Equal(t, lists+1, proc.CallCount("ListSubscriptions"))

	resumed, err := client.ResumeSubscription(context.Background(), sub.ID)
	assert.NoError(t, err)
	assert.False(t, resumed.CancelAtPeriodEnd)
}

func Test_MakePayment_Validation(t *testing.T) {
	client, _, _ := newTestClient(t)
	_, err := client.MakePayment(context.Background(), "cus_1", 0, "usd", "tok_ok", "")
	assert.True(t, errors.Is(err, payerr.ErrValidationFailure))
	_, err = client.MakePayment(context.Background(), "cus_1", 100, "", "tok_ok", "")
	assert.True(t, errors.Is(err, payerr.ErrValidationFailure))
}

func Test_MakePayment_DeclineNotRetried(t *testing.T) {
	client, proc, _ := newTestClient(t)
	_, err := client.MakePayment(context.Background(), "cus_1", 1000, "usd", "tok_declined", "order 1")
	assert.True(t, errors.Is(err, payerr.ErrProcessorDeclined))
	assert.Equal(t, "card_declined", payerr.Code(err))
	assert.Equal(t, 1, proc.CallCount("CreateCharge"))
}

func Test_DefaultPaymentMethod(t *testing.T) {
	client, _, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.DefaultPaymentMethod(ctx, "cus_1")
	assert.True(t, errors.Is(err, payerr.ErrPaymentMethodFailure))

	pm, err := client.SetDefaultPaymentMethod(ctx, "cus_1", "pm_1")
	assert.NoError(t, err)
	assert.True(t, pm.IsDefault)

	got, err := client.DefaultPaymentMethod(ctx, "cus_1")
	assert.NoError(t, err)
	assert.Equal(t, "pm_1", got.ID)

	// Switching defaults keeps exactly one default in the cached list.
	_, err = client.SetDefaultPaymentMethod(ctx, "cus_1", "pm_2")
	assert.NoError(t, err)
	methods, err := client.ListPaymentMethods(ctx, "cus_1")
	assert.NoError(t, err)
	defaults := 0
	for _, m := range methods {
		if m.IsDefault {
			defaults++
			assert.Equal(t, "pm_2", m.ID)
		}
	}
	assert.Equal(t, 1, defaults)
}

func Test_HandleWebhook_UpdatesCachedSubscription(t *testing.T) {
	client, proc, clock := newTestClient(t)
	cust, _ := client.CreateCustomer(context.Background(), adapter.CustomerParams{Email: "jo@example.com"})
	sub, _ := client.Subscribe(context.Background(), cust.ID, "price_basic", SubscribeOptions{})

	clock.Advance(time.Second)
	status := domain.StatusPastDue
	raw, _ := json.Marshal(domain.WebhookEvent{
		ID:   "evt_pd",
		Type: "subscription.updated",
		Data: domain.EventPayload{
			Subscription: &domain.SubscriptionPatch{ID: sub.ID, Status: &status},
		}.Encode(),
		CreatedAt: clock.Now(),
	})

	event, err := client.HandleWebhook(context.Background(), proc.Sign(raw), raw)
	assert.NoError(t, err)
	assert.True(t, event.Verified)

	cached, ok := client.Subscription(sub.ID)
	assert.True(t, ok)
	assert.Equal(t, domain.StatusPastDue, cached.Status)
	// The merge kept everything the event did not carry.
	assert.Equal(t, cust.ID, cached.CustomerID)
}

func Test_FailedPaymentCount_ThroughFacade(t *testing.T) {
	client, proc, clock := newTestClient(t)
	for _, id := range []string{"evt_1", "evt_2", "evt_3"} {
		raw, _ := json.Marshal(domain.WebhookEvent{
			ID:        id,
			Type:      "payment.failed",
			Data:      domain.EventPayload{SubscriptionID: "sub_x"}.Encode(),
			CreatedAt: clock.Now(),
		})
		_, err := client.HandleWebhook(context.Background(), proc.Sign(raw), raw)
		assert.NoError(t, err)
	}

	count, err := client.FailedPaymentCount("sub_x")
	assert.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 3, client.FailureThreshold())
}

func Test_Reinitialize_IsolatesProcessors(t *testing.T) {
	client, _, _ := newTestClient(t)
	cust, _ := client.CreateCustomer(context.Background(), adapter.CustomerParams{Email: "jo@example.com"})

	if err := client.Reinitialize(context.Background(), testConfig()); err != nil {
		t.Fatalf("Reinitialize: %v", err)
	}

	// The new back-end has no such customer and the cache was flushed, so
	// the read surfaces the new processor's truth, not stale state.
	_, err := client.Customer(context.Background(), cust.ID)
	assert.True(t, errors.Is(err, payerr.ErrCustomerNotFound))
}

func Test_Reinitialize_RejectsBadTarget(t *testing.T) {
	client, _, _ := newTestClient(t)
	cust, _ := client.CreateCustomer(context.Background(), adapter.CustomerParams{Email: "jo@example.com"})

	bad := config.Default(config.ProcessorStripe, config.Credentials{})
	err := client.Reinitialize(context.Background(), bad)
	assert.True(t, errors.Is(err, payerr.ErrInvalidConfiguration))

	// The old processor keeps serving.
	got, err := client.Customer(context.Background(), cust.ID)
	assert.NoError(t, err)
	assert.Equal(t, cust.ID, got.ID)
}

func Test_Reinitialize_ClearsFailureCounters(t *testing.T) {
	client, proc, clock := newTestClient(t)
	for _, id := range []string{"evt_1", "evt_2"} {
		raw, _ := json.Marshal(domain.WebhookEvent{
			ID:        id,
			Type:      "payment.failed",
			Data:      domain.EventPayload{SubscriptionID: "sub_x"}.Encode(),
			CreatedAt: clock.Now(),
		})
		_, err := client.HandleWebhook(context.Background(), proc.Sign(raw), raw)
		assert.NoError(t, err)
	}
	count, _ := client.FailedPaymentCount("sub_x")
	assert.Equal(t, 2, count)

	if err := client.Reinitialize(context.Background(), testConfig()); err != nil {
		t.Fatalf("Reinitialize: %v", err)
	}

	// Streaks earned against the old processor do not survive the swap.
	count, err := client.FailedPaymentCount("sub_x")
	assert.NoError(t, err)
	assert.Equal(t, 0, count)
}

func Test_Reinitialize_DiscardsStaleWrites(t *testing.T) {
	client, _, _ := newTestClient(t)
	stale, err := client.session()
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	if err := client.Reinitialize(context.Background(), testConfig()); err != nil {
		t.Fatalf("Reinitialize: %v", err)
	}

	// A write fenced by a pre-swap generation never lands.
	applied := false
	client.commit(stale.generation, func() { applied = true })
	assert.False(t, applied)

	// A post-swap session commits normally.
	fresh, err := client.session()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	client.commit(fresh.generation, func() { applied = true })
	assert.True(t, applied)
}

func Test_Reinitialize_ConcurrentReadsAreSafe(t *testing.T) {
	client, _, _ := newTestClient(t)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = client.Timeout()
			_ = client.FailureThreshold()
			_, _ = client.FailedPaymentCount("sub_x")
			_, _ = client.Subscriptions(context.Background(), "cus_1")
		}
	}()

	for i := 0; i < 20; i++ {
		if err := client.Reinitialize(context.Background(), testConfig()); err != nil {
			t.Fatalf("Reinitialize: %v", err)
		}
	}
	close(stop)
	wg.Wait()
}

func Test_ClearCache_ForcesReload(t *testing.T) {
	client, proc, _ := newTestClient(t)
	cust, _ := client.CreateCustomer(context.Background(), adapter.CustomerParams{Email: "jo@example.com"})

	client.ClearCache()
	_, err := client.Customer(context.Background(), cust.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, proc.CallCount("GetCustomer"))
}

func Test_SharedStore_KeepsIdempotencyAcrossClients(t *testing.T) {
	store := storage.NewMemory()
	clock := domain.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))

	first, err := New(testConfig(), Options{Store: store, Clock: clock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = first.Initialize(context.Background())
	proc := first.reg.Adapter().(*testproc.Adapter)

	raw, _ := json.Marshal(domain.WebhookEvent{
		ID:        "evt_shared",
		Type:      "payment.failed",
		Data:      domain.EventPayload{SubscriptionID: "sub_1"}.Encode(),
		CreatedAt: clock.Now(),
	})
	_, err = first.HandleWebhook(context.Background(), proc.Sign(raw), raw)
	assert.NoError(t, err)

	// A second process over the same durable store sees the delivery as
	// already handled.
	second, err := New(testConfig(), Options{Store: store, Clock: clock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = second.Initialize(context.Background())
	proc2 := second.reg.Adapter().(*testproc.Adapter)
	_, err = second.HandleWebhook(context.Background(), proc2.Sign(raw), raw)
	assert.NoError(t, err)

	count, _ := second.FailedPaymentCount("sub_1")
	assert.Equal(t, 1, count)
}

func Test_CacheKeyLayout(t *testing.T) {
	// Other packages persist alongside these keys; the layout is contract.
	assert.Equal(t, "cache:customer:cus_1", cache.EntryKey(cache.KindCustomer, "cus_1"))
}
