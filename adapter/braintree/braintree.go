// Package braintree implements the adapter contract over the Braintree
// GraphQL API. The GraphQL surface covers customers, vaulted payment
// methods and one-off transactions; recurring billing lives in Braintree's
// legacy gateway and is not exposed here, so subscription operations fail
// with UnsupportedOperation.
package braintree

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/paybridge/paybridge/adapter"
	"github.com/paybridge/paybridge/adapter/rest"
	"github.com/paybridge/paybridge/domain"
	"github.com/paybridge/paybridge/payerr"
)

const (
	defaultBaseURL = "https://payments.braintree-api.com"
	sandboxBaseURL = "https://payments.sandbox.braintree-api.com"
	graphqlVersion = "2023-01-01"
)

// Adapter speaks the Braintree GraphQL API.
type Adapter struct {
	client     *rest.Client
	publicKey  string
	privateKey string
	clock      domain.Clock
}

// New builds a Braintree adapter. environment selects sandbox when set to
// "sandbox"; baseURL overrides both for tests.
func New(publicKey, privateKey, merchantID, environment, baseURL string, timeout time.Duration, clock domain.Clock) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
		if environment == "sandbox" {
			baseURL = sandboxBaseURL
		}
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	auth := base64.StdEncoding.EncodeToString([]byte(publicKey + ":" + privateKey))
	return &Adapter{
		client: rest.New(baseURL, "braintree", map[string]string{
			"Authorization":     "Basic " + auth,
			"Braintree-Version": graphqlVersion,
		}, timeout),
		publicKey:  publicKey,
		privateKey: privateKey,
		clock:      clock,
	}
}

func (a *Adapter) Kind() domain.Processor { return domain.ProcessorBraintree }

// query posts one GraphQL operation and decodes data into out. GraphQL
// errors arrive with HTTP 200, so they are mapped here rather than in the
// rest client.
func (a *Adapter) query(ctx context.Context, q string, variables map[string]any, out any) error {
	var resp struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message    string `json:"message"`
			Extensions struct {
				ErrorClass string `json:"errorClass"`
				LegacyCode string `json:"legacyCode"`
			} `json:"extensions"`
		} `json:"errors"`
	}
	err := a.client.DoJSON(ctx, http.MethodPost, "/graphql", map[string]any{
		"query":     q,
		"variables": variables,
	}, &resp)
	if err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		ge := resp.Errors[0]
		switch ge.Extensions.ErrorClass {
		case "AUTHENTICATION", "AUTHORIZATION":
			return payerr.New(payerr.ErrAuthenticationFailure, "braintree", ge.Message)
		case "NOT_FOUND":
			return fmt.Errorf("%w: %s", rest.ErrNotFound, ge.Message)
		case "VALIDATION":
			return payerr.New(payerr.ErrValidationFailure, "braintree", ge.Message)
		case "UNSUPPORTED_CLIENT", "RESOURCE_LIMIT", "SERVICE_AVAILABILITY":
			return payerr.New(payerr.ErrNetworkFailure, "braintree", ge.Message)
		default:
			return payerr.Declined("braintree", ge.Extensions.LegacyCode, ge.Message)
		}
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return payerr.New(payerr.ErrNetworkFailure, "braintree", fmt.Sprintf("malformed response: %v", err))
		}
	}
	return nil
}

func (a *Adapter) ValidateConfiguration(ctx context.Context) error {
	var out struct {
		Ping string `json:"ping"`
	}
	err := a.query(ctx, `query { ping }`, nil, &out)
	if err == nil {
		return nil
	}
	if kind := payerr.KindOf(err); kind == payerr.ErrAuthenticationFailure {
		return payerr.New(payerr.ErrInvalidConfiguration, "braintree", err.Error())
	}
	return err
}

func (a *Adapter) CreateCustomer(ctx context.Context, params adapter.CustomerParams) (domain.Customer, error) {
	const q = `mutation CreateCustomer($input: CustomerCreateInput!) {
  createCustomer(input: $input) { customer { id email firstName lastName phoneNumber createdAt } }
}`
	first, last := splitName(params.Name)
	var out struct {
		CreateCustomer struct {
			Customer btCustomer `json:"customer"`
		} `json:"createCustomer"`
	}
	input := map[string]any{"customer": map[string]any{
		"email":       params.Email,
		"firstName":   first,
		"lastName":    last,
		"phoneNumber": params.Phone,
	}}
	if err := a.query(ctx, q, map[string]any{"input": input}, &out); err != nil {
		return domain.Customer{}, err
	}
	cust := toCustomer(out.CreateCustomer.Customer)
	cust.Metadata = params.Metadata
	return cust, nil
}

func (a *Adapter) GetCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	const q = `query Customer($id: ID!) {
  node(id: $id) { ... on Customer { id email firstName lastName phoneNumber createdAt } }
}`
	var out struct {
		Node btCustomer `json:"node"`
	}
	err := a.query(ctx, q, map[string]any{"id": customerID}, &out)
	if err != nil {
		return domain.Customer{}, rest.AsNotFound(err, payerr.ErrCustomerNotFound, "braintree")
	}
	if out.Node.ID == "" {
		return domain.Customer{}, payerr.New(payerr.ErrCustomerNotFound, "braintree", customerID)
	}
	return toCustomer(out.Node), nil
}

// ListSubscriptions is not available through the GraphQL API.
func (a *Adapter) ListSubscriptions(ctx context.Context, customerID string) ([]domain.Subscription, error) {
	return nil, payerr.New(payerr.ErrUnsupportedOperation, "braintree", "recurring billing is not exposed by the graphql api")
}

// CreateSubscription is not available through the GraphQL API.
func (a *Adapter) CreateSubscription(ctx context.Context, params adapter.SubscriptionParams) (domain.Subscription, error) {
	return domain.Subscription{}, payerr.New(payerr.ErrUnsupportedOperation, "braintree", "recurring billing is not exposed by the graphql api")
}

func (a *Adapter) CreateCharge(ctx context.Context, params adapter.ChargeParams) (domain.Charge, error) {
	const q = `mutation Charge($input: ChargePaymentMethodInput!) {
  chargePaymentMethod(input: $input) {
    transaction { id status amount { value currencyCode } createdAt }
  }
}`
	var out struct {
		ChargePaymentMethod struct {
			Transaction btTransaction `json:"transaction"`
		} `json:"chargePaymentMethod"`
	}
	input := map[string]any{
		"paymentMethodId": params.Token,
		"transaction": map[string]any{
			"amount":  minorToDecimal(params.Amount),
			"orderId": params.IdempotencyKey,
		},
	}
	if err := a.query(ctx, q, map[string]any{"input": input}, &out); err != nil {
		return domain.Charge{}, err
	}
	ch := toCharge(out.ChargePaymentMethod.Transaction)
	ch.CustomerID = params.CustomerID
	ch.Description = params.Description
	return ch, nil
}

func (a *Adapter) ChangePlan(ctx context.Context, params adapter.PlanChangeParams) (domain.Subscription, error) {
	return domain.Subscription{}, payerr.New(payerr.ErrUnsupportedOperation, "braintree", "recurring billing is not exposed by the graphql api")
}

func (a *Adapter) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (domain.Subscription, error) {
	return domain.Subscription{}, payerr.New(payerr.ErrUnsupportedOperation, "braintree", "recurring billing is not exposed by the graphql api")
}

func (a *Adapter) ResumeSubscription(ctx context.Context, subscriptionID string) (domain.Subscription, error) {
	return domain.Subscription{}, payerr.New(payerr.ErrUnsupportedOperation, "braintree", "recurring billing is not exposed by the graphql api")
}

func (a *Adapter) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (domain.PaymentMethod, error) {
	const q = `mutation MakeDefault($input: VaultPaymentMethodMakeDefaultInput!) {
  makeDefaultPaymentMethod(input: $input) {
    paymentMethod { id details { ... on CreditCardDetails { last4 brandCode expirationMonth expirationYear } } }
  }
}`
	var out struct {
		MakeDefaultPaymentMethod struct {
			PaymentMethod btPaymentMethod `json:"paymentMethod"`
		} `json:"makeDefaultPaymentMethod"`
	}
	input := map[string]any{"paymentMethodId": paymentMethodID}
	err := a.query(ctx, q, map[string]any{"input": input}, &out)
	if err != nil {
		return domain.PaymentMethod{}, rest.AsNotFound(err, payerr.ErrPaymentMethodFailure, "braintree")
	}
	pm := toPaymentMethod(out.MakeDefaultPaymentMethod.PaymentMethod, customerID)
	pm.IsDefault = true
	return pm, nil
}

func (a *Adapter) RemovePaymentMethod(ctx context.Context, paymentMethodID string) error {
	const q = `mutation Delete($input: DeletePaymentMethodFromVaultInput!) {
  deletePaymentMethodFromVault(input: $input) { clientMutationId }
}`
	input := map[string]any{"paymentMethodId": paymentMethodID}
	err := a.query(ctx, q, map[string]any{"input": input}, nil)
	return rest.AsNotFound(err, payerr.ErrPaymentMethodFailure, "braintree")
}

func (a *Adapter) ListPaymentMethods(ctx context.Context, customerID string) ([]domain.PaymentMethod, error) {
	const q = `query Methods($id: ID!) {
  node(id: $id) {
    ... on Customer {
      paymentMethods {
        edges { node { id details { ... on CreditCardDetails { last4 brandCode expirationMonth expirationYear } } } }
      }
    }
  }
}`
	var out struct {
		Node struct {
			PaymentMethods struct {
				Edges []struct {
					Node btPaymentMethod `json:"node"`
				} `json:"edges"`
			} `json:"paymentMethods"`
		} `json:"node"`
	}
	err := a.query(ctx, q, map[string]any{"id": customerID}, &out)
	if err != nil {
		return nil, rest.AsNotFound(err, payerr.ErrCustomerNotFound, "braintree")
	}
	var methods []domain.PaymentMethod
	for _, edge := range out.Node.PaymentMethods.Edges {
		methods = append(methods, toPaymentMethod(edge.Node, customerID))
	}
	return methods, nil
}

func (a *Adapter) ListCharges(ctx context.Context, customerID string) ([]domain.Charge, error) {
	const q = `query Charges($input: TransactionSearchInput!) {
  search { transactions(input: $input) { edges { node { id status amount { value currencyCode } createdAt } } } }
}`
	var out struct {
		Search struct {
			Transactions struct {
				Edges []struct {
					Node btTransaction `json:"node"`
				} `json:"edges"`
			} `json:"transactions"`
		} `json:"search"`
	}
	input := map[string]any{"customer": map[string]any{"id": map[string]any{"is": customerID}}}
	err := a.query(ctx, q, map[string]any{"input": input}, &out)
	if err != nil {
		return nil, rest.AsNotFound(err, payerr.ErrCustomerNotFound, "braintree")
	}
	var charges []domain.Charge
	for _, edge := range out.Search.Transactions.Edges {
		ch := toCharge(edge.Node)
		ch.CustomerID = customerID
		charges = append(charges, ch)
	}
	return charges, nil
}

// HandleWebhook verifies the "<publicKey>|<hex hmac-sha1>" signature
// Braintree attaches to notifications. The HMAC key is the SHA-1 of the
// private key, matching the gateway's scheme.
func (a *Adapter) HandleWebhook(ctx context.Context, signature string, rawPayload []byte) (domain.WebhookEvent, error) {
	pub, sig, ok := strings.Cut(signature, "|")
	if !ok || pub != a.publicKey {
		return domain.WebhookEvent{}, payerr.New(payerr.ErrWebhookVerificationFailure, "braintree", "unknown signature key")
	}
	keyDigest := sha1.Sum([]byte(a.privateKey))
	mac := hmac.New(sha1.New, keyDigest[:])
	mac.Write(rawPayload)
	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(mac.Sum(nil), got) {
		return domain.WebhookEvent{}, payerr.New(payerr.ErrWebhookVerificationFailure, "braintree", "signature mismatch")
	}

	var envelope struct {
		Kind      string          `json:"kind"`
		Timestamp time.Time       `json:"timestamp"`
		Subject   json.RawMessage `json:"subject"`
	}
	if err := json.Unmarshal(rawPayload, &envelope); err != nil {
		return domain.WebhookEvent{}, payerr.New(payerr.ErrWebhookVerificationFailure, "braintree", fmt.Sprintf("malformed payload: %v", err))
	}
	createdAt := envelope.Timestamp
	if createdAt.IsZero() {
		createdAt = a.clock.Now()
	}
	return domain.WebhookEvent{
		ID:        webhookEventID(envelope.Kind, rawPayload),
		Type:      envelope.Kind,
		Processor: domain.ProcessorBraintree,
		Data:      normalizeEventData(envelope.Kind, envelope.Subject),
		CreatedAt: createdAt,
		Verified:  true,
	}, nil
}

// webhookEventID derives a stable id from the notification content so
// redeliveries of the same notification dedupe.
func webhookEventID(kind string, payload []byte) string {
	sum := sha1.Sum(payload)
	return kind + ":" + hex.EncodeToString(sum[:8])
}

func splitName(name string) (first, last string) {
	first, last, ok := strings.Cut(name, " ")
	if !ok {
		return name, ""
	}
	return first, last
}
