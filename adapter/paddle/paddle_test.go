package paddle

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/paybridge/paybridge/adapter"
	"github.com/paybridge/paybridge/domain"
	"github.com/paybridge/paybridge/payerr"
)

const testSecret = "pdl_whsec_test"

func signPayload(ts string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(mac, "%s:%s", ts, payload)
	return fmt.Sprintf("ts=%s;h1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func newTestAdapter(baseURL string) *Adapter {
	return New("pdl_key", testSecret, baseURL, 5*time.Second, domain.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)))
}

func Test_HandleWebhook_ValidSignature(t *testing.T) {
	a := newTestAdapter("")
	payload := []byte(`{
		"event_id": "evt_01",
		"event_type": "subscription.canceled",
		"occurred_at": "2026-03-15T12:00:00Z",
		"data": {
			"id": "sub_01",
			"customer_id": "ctm_01",
			"status": "canceled",
			"items": [{"quantity": 1, "price": {"id": "pri_01", "product_id": "pro_01"}}]
		}
	}`)

	event, err := a.HandleWebhook(context.Background(), signPayload("1770000000", payload), payload)
	if err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	assert.True(t, event.Verified)
	assert.Equal(t, "evt_01", event.ID)
	assert.Equal(t, domain.ProcessorPaddle, event.Processor)

	var decoded domain.EventPayload
	if err := json.Unmarshal(event.Data, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Subscription == nil {
		t.Fatalf("subscription patch missing")
	}
	assert.Equal(t, "sub_01", decoded.Subscription.ID)
	assert.Equal(t, domain.StatusCanceled, *decoded.Subscription.Status)
	assert.Equal(t, "pri_01", *decoded.Subscription.PriceID)
}

func Test_HandleWebhook_TamperedPayload(t *testing.T) {
	a := newTestAdapter("")
	payload := []byte(`{"event_id":"evt_01","event_type":"subscription.updated","data":{}}`)
	sig := signPayload("1770000000", payload)

	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-2] = 'x'
	_, err := a.HandleWebhook(context.Background(), sig, tampered)
	assert.True(t, errors.Is(err, payerr.ErrWebhookVerificationFailure))
}

func Test_HandleWebhook_MalformedHeader(t *testing.T) {
	a := newTestAdapter("")
	_, err := a.HandleWebhook(context.Background(), "h1=abc", []byte(`{}`))
	assert.True(t, errors.Is(err, payerr.ErrWebhookVerificationFailure))
	_, err = a.HandleWebhook(context.Background(), "", []byte(`{}`))
	assert.True(t, errors.Is(err, payerr.ErrWebhookVerificationFailure))
}

func Test_HandleWebhook_TransactionEvent(t *testing.T) {
	a := newTestAdapter("")
	payload := []byte(`{
		"event_id": "evt_txn",
		"event_type": "transaction.payment_failed",
		"data": {"id": "txn_01", "customer_id": "ctm_01", "subscription_id": "sub_01"}
	}`)

	event, err := a.HandleWebhook(context.Background(), signPayload("1770000001", payload), payload)
	assert.NoError(t, err)

	var decoded domain.EventPayload
	_ = json.Unmarshal(event.Data, &decoded)
	assert.Equal(t, "sub_01", decoded.SubscriptionID)
	assert.Equal(t, "ctm_01", decoded.CustomerID)
}

func Test_CreateSubscription_Unsupported(t *testing.T) {
	a := newTestAdapter("")
	_, err := a.CreateSubscription(context.Background(), adapter.SubscriptionParams{CustomerID: "c", PriceID: "p"})
	assert.True(t, errors.Is(err, payerr.ErrUnsupportedOperation))
	_, err = a.CreateCharge(context.Background(), adapter.ChargeParams{Amount: 100})
	assert.True(t, errors.Is(err, payerr.ErrUnsupportedOperation))
}

func Test_CancelSubscription_AtPeriodEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/subscriptions/sub_01/cancel", r.URL.Path)
		assert.Equal(t, "Bearer pdl_key", r.Header.Get("Authorization"))

		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "next_billing_period", body["effective_from"])

		fmt.Fprint(w, `{"data":{
			"id": "sub_01",
			"customer_id": "ctm_01",
			"status": "active",
			"scheduled_change": {"action": "cancel"},
			"current_billing_period": {"starts_at": "2026-03-01T00:00:00Z", "ends_at": "2026-04-01T00:00:00Z"},
			"items": [{"quantity": 2, "price": {"id": "pri_01", "product_id": "pro_01"}}]
		}}`)
	}))
	defer srv.Close()

	a := newTestAdapter(srv.URL)
	sub, err := a.CancelSubscription(context.Background(), "sub_01", true)
	if err != nil {
		t.Fatalf("CancelSubscription: %v", err)
	}
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, domain.StatusActive, sub.Status)
	assert.Equal(t, int64(2), sub.Quantity)
	if sub.CanceledAt == nil {
		t.Fatalf("canceled at not set for scheduled cancel")
	}
}

func Test_ListSubscriptions_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"detail":"customer not found"}}`)
	}))
	defer srv.Close()

	a := newTestAdapter(srv.URL)
	_, err := a.ListSubscriptions(context.Background(), "ctm_missing")
	assert.True(t, errors.Is(err, payerr.ErrCustomerNotFound))
}

func Test_ValidateConfiguration_BadKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := newTestAdapter(srv.URL)
	err := a.ValidateConfiguration(context.Background())
	assert.True(t, errors.Is(err, payerr.ErrInvalidConfiguration))
}
