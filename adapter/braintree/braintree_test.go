package braintree

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
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

const (
	testPublicKey  = "pub_test"
	testPrivateKey = "priv_test"
)

func sign(payload []byte) string {
	keyDigest := sha1.Sum([]byte(testPrivateKey))
	mac := hmac.New(sha1.New, keyDigest[:])
	mac.Write(payload)
	return testPublicKey + "|" + hex.EncodeToString(mac.Sum(nil))
}

func newTestAdapter(baseURL string) *Adapter {
	clock := domain.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	return New(testPublicKey, testPrivateKey, "merchant_1", "sandbox", baseURL, 5*time.Second, clock)
}

func Test_HandleWebhook_SubscriptionNotification(t *testing.T) {
	a := newTestAdapter("")
	payload := []byte(`{
		"kind": "subscription_went_past_due",
		"timestamp": "2026-03-15T12:00:00Z",
		"subject": {"id": "bt_sub_1", "status": "PastDue", "planId": "plan_basic"}
	}`)

	event, err := a.HandleWebhook(context.Background(), sign(payload), payload)
	if err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	assert.True(t, event.Verified)
	assert.Equal(t, "subscription_went_past_due", event.Type)
	// Identical redeliveries derive the same id.
	again, err := a.HandleWebhook(context.Background(), sign(payload), payload)
	assert.NoError(t, err)
	assert.Equal(t, event.ID, again.ID)

	var decoded domain.EventPayload
	_ = json.Unmarshal(event.Data, &decoded)
	if decoded.Subscription == nil {
		t.Fatalf("subscription patch missing")
	}
	assert.Equal(t, "bt_sub_1", decoded.Subscription.ID)
	assert.Equal(t, domain.StatusPastDue, *decoded.Subscription.Status)
	assert.Equal(t, "plan_basic", *decoded.Subscription.PriceID)
}

func Test_HandleWebhook_WrongPublicKey(t *testing.T) {
	a := newTestAdapter("")
	payload := []byte(`{"kind":"subscription_canceled","subject":{}}`)
	keyDigest := sha1.Sum([]byte(testPrivateKey))
	mac := hmac.New(sha1.New, keyDigest[:])
	mac.Write(payload)
	badKey := "other_key|" + hex.EncodeToString(mac.Sum(nil))

	_, err := a.HandleWebhook(context.Background(), badKey, payload)
	assert.True(t, errors.Is(err, payerr.ErrWebhookVerificationFailure))
}

func Test_HandleWebhook_TamperedPayload(t *testing.T) {
	a := newTestAdapter("")
	payload := []byte(`{"kind":"subscription_canceled","subject":{"id":"bt_sub_1"}}`)
	sig := sign(payload)
	_, err := a.HandleWebhook(context.Background(), sig, []byte(`{"kind":"subscription_canceled","subject":{"id":"bt_sub_2"}}`))
	assert.True(t, errors.Is(err, payerr.ErrWebhookVerificationFailure))
}

func Test_CreateCustomer_GraphQL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/graphql", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("Braintree-Version"))

		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Contains(t, req.Query, "createCustomer")

		fmt.Fprint(w, `{"data":{"createCustomer":{"customer":{
			"id": "bt_cus_1", "email": "jo@example.com", "firstName": "Jo", "lastName": "Doe", "createdAt": "2026-03-15T12:00:00Z"
		}}}}`)
	}))
	defer srv.Close()

	a := newTestAdapter(srv.URL)
	cust, err := a.CreateCustomer(context.Background(), adapter.CustomerParams{Email: "jo@example.com", Name: "Jo Doe"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	assert.Equal(t, "bt_cus_1", cust.ID)
	assert.Equal(t, domain.ProcessorBraintree, cust.Processor)
}

func Test_GraphQLErrorClass_Mapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors":[{"message":"invalid credentials","extensions":{"errorClass":"AUTHENTICATION"}}]}`)
	}))
	defer srv.Close()

	a := newTestAdapter(srv.URL)
	err := a.ValidateConfiguration(context.Background())
	assert.True(t, errors.Is(err, payerr.ErrInvalidConfiguration))
}

func Test_SubscriptionOperations_Unsupported(t *testing.T) {
	a := newTestAdapter("")
	ctx := context.Background()

	_, err := a.CreateSubscription(ctx, adapter.SubscriptionParams{CustomerID: "c", PriceID: "p"})
	assert.True(t, errors.Is(err, payerr.ErrUnsupportedOperation))
	_, err = a.ChangePlan(ctx, adapter.PlanChangeParams{SubscriptionID: "s", NewPriceID: "p"})
	assert.True(t, errors.Is(err, payerr.ErrUnsupportedOperation))
	_, err = a.ListSubscriptions(ctx, "c")
	assert.True(t, errors.Is(err, payerr.ErrUnsupportedOperation))
}

func Test_MoneyConversions(t *testing.T) {
	assert.Equal(t, "12.34", minorToDecimal(1234))
	assert.Equal(t, "0.05", minorToDecimal(5))
	assert.Equal(t, int64(1234), decimalToMinor("12.34"))
	assert.Equal(t, int64(500), decimalToMinor("5"))
	assert.Equal(t, int64(50), decimalToMinor("0.5"))
}
