// Package paybridge is the single entry point applications use to run
// customer, subscription, charge and webhook operations against an
// interchangeable payment processor. The active processor is chosen by
// configuration; swapping it is a Reinitialize call, not a code change.
package paybridge

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/paybridge/paybridge/adapter"
	"github.com/paybridge/paybridge/cache"
	"github.com/paybridge/paybridge/config"
	"github.com/paybridge/paybridge/domain"
	"github.com/paybridge/paybridge/payerr"
	"github.com/paybridge/paybridge/registry"
	"github.com/paybridge/paybridge/retry"
	"github.com/paybridge/paybridge/storage"
	"github.com/paybridge/paybridge/webhook"
)

// Options are the injectable collaborators. Zero values select an
// in-memory store, the system clock and the default logger.
type Options struct {
	Store  storage.Storage
	Clock  domain.Clock
	Logger *slog.Logger
}

// Client composes the retry controller, cache, adapter registry and
// webhook engine behind the operations the rest of the application calls.
type Client struct {
	// mu guards every field Reinitialize swaps: cfg, generation, engine
	// and retry alongside the adapter. Operations snapshot them under read
	// lock and run the network call without it, so Reinitialize blocks new
	// operations but never aborts in-flight ones.
	mu          sync.RWMutex
	cfg         config.Config
	reg         *registry.Registry
	generation  uint64
	initialized bool
	engine      *webhook.Engine
	retry       *retry.Controller

	store  storage.Storage
	cache  *cache.Cache
	clock  domain.Clock
	logger *slog.Logger
}

// New wires a Client from configuration. Initialize must be called before
// any stateful operation; it performs the fail-fast credential check.
func New(cfg config.Config, opts Options) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, payerr.New(payerr.ErrInvalidConfiguration, string(cfg.Processor), err.Error())
	}
	store := opts.Store
	if store == nil {
		store = storage.NewMemory()
	}
	clock := opts.Clock
	if clock == nil {
		clock = domain.RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		if cfg.LoggingEnabled {
			logger = slog.Default()
		} else {
			logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		}
	}

	reg, err := registry.New(cfg, clock)
	if err != nil {
		return nil, err
	}
	c := cache.New(store, cfg.CacheTTL, clock, logger)
	return &Client{
		cfg:    cfg,
		reg:    reg,
		store:  store,
		cache:  c,
		engine: webhook.NewEngine(store, c, cfg.FailedPaymentThreshold, clock, logger),
		retry:  retry.New(cfg.MaxRetryAttempts, cfg.RetryBaseDelay, logger),
		clock:  clock,
		logger: logger,
	}, nil
}

// Initialize validates the configured credentials with a round-trip before
// the client becomes usable. Bad credentials fail here, not on the first
// stateful call.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.RLock()
	a := c.reg.Adapter()
	rt := c.retry
	proc := c.cfg.Processor
	timeout := c.cfg.Timeout
	c.mu.RUnlock()
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rt.Do(ctx, "ValidateConfiguration", func(ctx context.Context) error {
		return a.ValidateConfiguration(ctx)
	}); err != nil {
		return err
	}
	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
	c.logger.Info("payment client initialized", "processor", proc)
	return nil
}

// session is a consistent snapshot of everything Reinitialize can swap,
// taken under read lock. The generation is checked again before any cache
// write so results from an adapter replaced mid-call are discarded instead
// of applied.
type session struct {
	adapter    adapter.ProcessorAdapter
	retry      *retry.Controller
	engine     *webhook.Engine
	processor  string
	timeout    time.Duration
	generation uint64
}

func (c *Client) session() (session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.initialized {
		return session{}, payerr.New(payerr.ErrInvalidConfiguration, string(c.cfg.Processor), "client is not initialized")
	}
	return session{
		adapter:    c.reg.Adapter(),
		retry:      c.retry,
		engine:     c.engine,
		processor:  string(c.cfg.Processor),
		timeout:    c.cfg.Timeout,
		generation: c.generation,
	}, nil
}

func (s session) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.timeout
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// processor reads the active processor name for error construction.
func (c *Client) processor() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return string(c.cfg.Processor)
}

// commit runs a cache write only when the generation is unchanged since
// the call was issued. The read lock is held across the write so a swap's
// flush cannot land between the check and the write.
func (c *Client) commit(generation uint64, write func()) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.generation != generation {
		c.logger.Debug("discarding result from replaced processor")
		return
	}
	write()
}

// CreateCustomer creates the customer at the processor and caches the
// canonical record.
func (c *Client) CreateCustomer(ctx context.Context, params adapter.CustomerParams) (domain.Customer, error) {
	if params.Email == "" {
		return domain.Customer{}, payerr.New(payerr.ErrValidationFailure, c.processor(), "email is required")
	}
	s, err := c.session()
	if err != nil {
		return domain.Customer{}, err
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	var cust domain.Customer
	err = s.retry.Do(ctx, "CreateCustomer", func(ctx context.Context) error {
		var callErr error
		cust, callErr = s.adapter.CreateCustomer(ctx, params)
		return callErr
	})
	if err != nil {
		return domain.Customer{}, err
	}
	c.commit(s.generation, func() {
		_ = c.cache.Put(cache.KindCustomer, cust.ID, cust, c.clock.Now())
	})
	return cust, nil
}

// Customer returns the cached customer, loading it from the adapter when
// the cached copy is missing or stale.
func (c *Client) Customer(ctx context.Context, customerID string) (domain.Customer, error) {
	return c.loadCustomer(ctx, customerID, false)
}

// RefreshCustomer bypasses the freshness window and reloads the customer.
func (c *Client) RefreshCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	return c.loadCustomer(ctx, customerID, true)
}

func (c *Client) loadCustomer(ctx context.Context, customerID string, force bool) (domain.Customer, error) {
	s, err := c.session()
	if err != nil {
		return domain.Customer{}, err
	}
	var cust domain.Customer
	err = c.cache.GetOrLoad(ctx, cache.KindCustomer, customerID, &cust, force, func(ctx context.Context) (any, error) {
		ctx, cancel := s.callContext(ctx)
		defer cancel()
		var loaded domain.Customer
		loadErr := s.retry.Do(ctx, "GetCustomer", func(ctx context.Context) error {
			var callErr error
			loaded, callErr = s.adapter.GetCustomer(ctx, customerID)
			return callErr
		})
		return loaded, loadErr
	})
	return cust, err
}

// SubscribeOptions tune a Subscribe call.
type SubscribeOptions struct {
	TrialDays int
	Quantity  int64
}

// Subscribe creates a subscription for the customer on the given price.
// The idempotency key is derived once for the logical request, so retries
// after transient failures cannot create duplicates.
func (c *Client) Subscribe(ctx context.Context, customerID, priceID string, opts SubscribeOptions) (domain.Subscription, error) {
	if customerID == "" || priceID == "" {
		return domain.Subscription{}, payerr.New(payerr.ErrValidationFailure, c.processor(), "customer id and price id are required")
	}
	s, err := c.session()
	if err != nil {
		return domain.Subscription{}, err
	}
	params := adapter.SubscriptionParams{
		CustomerID:     customerID,
		PriceID:        priceID,
		Quantity:       opts.Quantity,
		TrialDays:      opts.TrialDays,
		IdempotencyKey: retry.NewIdempotencyKey(),
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	var sub domain.Subscription
	err = s.retry.Do(ctx, "CreateSubscription", func(ctx context.Context) error {
		var callErr error
		sub, callErr = s.adapter.CreateSubscription(ctx, params)
		return callErr
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	c.writeThroughSubscription(s.generation, sub)
	return sub, nil
}

// ChangePlan moves a subscription to a new price.
func (c *Client) ChangePlan(ctx context.Context, subscriptionID, newPriceID string, quantity int64) (domain.Subscription, error) {
	if subscriptionID == "" || newPriceID == "" {
		return domain.Subscription{}, payerr.New(payerr.ErrValidationFailure, c.processor(), "subscription id and price id are required")
	}
	return c.mutateSubscription(ctx, "ChangePlan", func(ctx context.Context, a adapter.ProcessorAdapter) (domain.Subscription, error) {
		return a.ChangePlan(ctx, adapter.PlanChangeParams{
			SubscriptionID: subscriptionID,
			NewPriceID:     newPriceID,
			Quantity:       quantity,
		})
	})
}

// CancelSubscription cancels immediately or at period end.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (domain.Subscription, error) {
	if subscriptionID == "" {
		return domain.Subscription{}, payerr.New(payerr.ErrValidationFailure, c.processor(), "subscription id is required")
	}
	return c.mutateSubscription(ctx, "CancelSubscription", func(ctx context.Context, a adapter.ProcessorAdapter) (domain.Subscription, error) {
		return a.CancelSubscription(ctx, subscriptionID, atPeriodEnd)
	})
}

// ResumeSubscription clears a pending cancel-at-period-end.
func (c *Client) ResumeSubscription(ctx context.Context, subscriptionID string) (domain.Subscription, error) {
	if subscriptionID == "" {
		return domain.Subscription{}, payerr.New(payerr.ErrValidationFailure, c.processor(), "subscription id is required")
	}
	return c.mutateSubscription(ctx, "ResumeSubscription", func(ctx context.Context, a adapter.ProcessorAdapter) (domain.Subscription, error) {
		return a.ResumeSubscription(ctx, subscriptionID)
	})
}

func (c *Client) mutateSubscription(ctx context.Context, name string, op func(context.Context, adapter.ProcessorAdapter) (domain.Subscription, error)) (domain.Subscription, error) {
	s, err := c.session()
	if err != nil {
		return domain.Subscription{}, err
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	var sub domain.Subscription
	err = s.retry.Do(ctx, name, func(ctx context.Context) error {
		var callErr error
		sub, callErr = op(ctx, s.adapter)
		return callErr
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	c.writeThroughSubscription(s.generation, sub)
	return sub, nil
}

// writeThroughSubscription updates the per-subscription entry and drops
// every subscription list the change could have affected.
func (c *Client) writeThroughSubscription(gen uint64, sub domain.Subscription) {
	c.commit(gen, func() {
		_ = c.cache.Put(cache.KindSubscription, sub.ID, sub, c.clock.Now())
		c.cache.InvalidateKind(cache.KindSubscriptions)
	})
}

// Subscriptions returns the customer's subscriptions, cached.
func (c *Client) Subscriptions(ctx context.Context, customerID string) ([]domain.Subscription, error) {
	return c.loadSubscriptions(ctx, customerID, false)
}

// RefreshSubscriptions bypasses the freshness window.
func (c *Client) RefreshSubscriptions(ctx context.Context, customerID string) ([]domain.Subscription, error) {
	return c.loadSubscriptions(ctx, customerID, true)
}

// ActiveSubscriptionsForProduct filters the customer's subscriptions down
// to active ones on the given product.
func (c *Client) ActiveSubscriptionsForProduct(ctx context.Context, customerID, productID string) ([]domain.Subscription, error) {
	subs, err := c.loadSubscriptions(ctx, customerID, false)
	if err != nil {
		return nil, err
	}
	var out []domain.Subscription
	for _, sub := range subs {
		if sub.ProductID == productID && sub.IsActive() {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (c *Client) loadSubscriptions(ctx context.Context, customerID string, force bool) ([]domain.Subscription, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	var subs []domain.Subscription
	err = c.cache.GetOrLoad(ctx, cache.KindSubscriptions, customerID, &subs, force, func(ctx context.Context) (any, error) {
		ctx, cancel := s.callContext(ctx)
		defer cancel()
		var loaded []domain.Subscription
		loadErr := s.retry.Do(ctx, "ListSubscriptions", func(ctx context.Context) error {
			var callErr error
			loaded, callErr = s.adapter.ListSubscriptions(ctx, customerID)
			return callErr
		})
		return loaded, loadErr
	})
	return subs, err
}

// MakePayment creates a one-off charge against an opaque payment token.
func (c *Client) MakePayment(ctx context.Context, customerID string, amount int64, currency, token, description string) (domain.Charge, error) {
	if amount <= 0 {
		return domain.Charge{}, payerr.New(payerr.ErrValidationFailure, c.processor(), "amount must be positive")
	}
	if currency == "" {
		return domain.Charge{}, payerr.New(payerr.ErrValidationFailure, c.processor(), "currency is required")
	}
	s, err := c.session()
	if err != nil {
		return domain.Charge{}, err
	}
	params := adapter.ChargeParams{
		CustomerID:     customerID,
		Amount:         amount,
		Currency:       currency,
		Token:          token,
		Description:    description,
		IdempotencyKey: retry.NewIdempotencyKey(),
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	var charge domain.Charge
	err = s.retry.Do(ctx, "CreateCharge", func(ctx context.Context) error {
		var callErr error
		charge, callErr = s.adapter.CreateCharge(ctx, params)
		return callErr
	})
	if err != nil {
		return domain.Charge{}, err
	}
	c.commit(s.generation, func() {
		c.cache.InvalidateKind(cache.KindCharges)
	})
	return charge, nil
}

// ListCharges returns the customer's charges, cached.
func (c *Client) ListCharges(ctx context.Context, customerID string) ([]domain.Charge, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	var charges []domain.Charge
	err = c.cache.GetOrLoad(ctx, cache.KindCharges, customerID, &charges, false, func(ctx context.Context) (any, error) {
		ctx, cancel := s.callContext(ctx)
		defer cancel()
		var loaded []domain.Charge
		loadErr := s.retry.Do(ctx, "ListCharges", func(ctx context.Context) error {
			var callErr error
			loaded, callErr = s.adapter.ListCharges(ctx, customerID)
			return callErr
		})
		return loaded, loadErr
	})
	return charges, err
}

// SetDefaultPaymentMethod makes the method the customer's default. At most
// one method per customer is default: the cached list is rewritten with
// every other method cleared.
func (c *Client) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (domain.PaymentMethod, error) {
	if customerID == "" || paymentMethodID == "" {
		return domain.PaymentMethod{}, payerr.New(payerr.ErrValidationFailure, c.processor(), "customer id and payment method id are required")
	}
	s, err := c.session()
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	var pm domain.PaymentMethod
	err = s.retry.Do(ctx, "SetDefaultPaymentMethod", func(ctx context.Context) error {
		var callErr error
		pm, callErr = s.adapter.SetDefaultPaymentMethod(ctx, customerID, paymentMethodID)
		return callErr
	})
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	c.commit(s.generation, func() {
		var cached []domain.PaymentMethod
		if ok, _ := c.cache.GetAny(cache.KindPaymentMethods, customerID, &cached); ok {
			found := false
			for i := range cached {
				cached[i].IsDefault = cached[i].ID == pm.ID
				if cached[i].IsDefault {
					found = true
				}
			}
			if !found {
				cached = append(cached, pm)
			}
			_ = c.cache.Put(cache.KindPaymentMethods, customerID, cached, c.clock.Now())
		} else {
			c.cache.Invalidate(cache.KindPaymentMethods, customerID)
		}
	})
	return pm, nil
}

// RemovePaymentMethod detaches the method and invalidates the cached list.
func (c *Client) RemovePaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	err = s.retry.Do(ctx, "RemovePaymentMethod", func(ctx context.Context) error {
		return s.adapter.RemovePaymentMethod(ctx, paymentMethodID)
	})
	if err != nil {
		return err
	}
	c.commit(s.generation, func() {
		c.cache.Invalidate(cache.KindPaymentMethods, customerID)
	})
	return nil
}

// ListPaymentMethods returns the customer's stored methods, cached.
func (c *Client) ListPaymentMethods(ctx context.Context, customerID string) ([]domain.PaymentMethod, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	var methods []domain.PaymentMethod
	err = c.cache.GetOrLoad(ctx, cache.KindPaymentMethods, customerID, &methods, false, func(ctx context.Context) (any, error) {
		ctx, cancel := s.callContext(ctx)
		defer cancel()
		var loaded []domain.PaymentMethod
		loadErr := s.retry.Do(ctx, "ListPaymentMethods", func(ctx context.Context) error {
			var callErr error
			loaded, callErr = s.adapter.ListPaymentMethods(ctx, customerID)
			return callErr
		})
		return loaded, loadErr
	})
	return methods, err
}

// DefaultPaymentMethod returns the customer's default method, or
// PaymentMethodFailure when none is set.
func (c *Client) DefaultPaymentMethod(ctx context.Context, customerID string) (domain.PaymentMethod, error) {
	methods, err := c.ListPaymentMethods(ctx, customerID)
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	for _, pm := range methods {
		if pm.IsDefault {
			return pm, nil
		}
	}
	return domain.PaymentMethod{}, payerr.New(payerr.ErrPaymentMethodFailure, c.processor(), "no default payment method")
}

// HandleWebhook runs one inbound delivery through the reconciliation
// engine against the live adapter.
func (c *Client) HandleWebhook(ctx context.Context, signature string, rawPayload []byte) (domain.WebhookEvent, error) {
	s, err := c.session()
	if err != nil {
		return domain.WebhookEvent{}, err
	}
	return s.engine.Process(ctx, s.adapter, signature, rawPayload)
}

// FailedPaymentCount reports consecutive payment failures recorded for the
// subscription by the webhook engine.
func (c *Client) FailedPaymentCount(subscriptionID string) (int, error) {
	c.mu.RLock()
	engine := c.engine
	c.mu.RUnlock()
	return engine.FailedPaymentCount(subscriptionID)
}

// FailureThreshold is the count at which collaborators typically suspend
// access; the client itself never suspends anything.
func (c *Client) FailureThreshold() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engine.Threshold()
}

// Subscription returns the cached per-subscription record maintained by
// write-through and webhook application.
func (c *Client) Subscription(subscriptionID string) (domain.Subscription, bool) {
	var sub domain.Subscription
	ok, err := c.cache.GetAny(cache.KindSubscription, subscriptionID, &sub)
	if err != nil || !ok {
		return domain.Subscription{}, false
	}
	return sub, true
}

// ClearCache drops every cached entity.
func (c *Client) ClearCache() { c.cache.Flush() }

// Reinitialize swaps the active processor. The whole cache and the
// payment-failure counters are flushed so nothing from the previous
// processor remains observable, and the generation bump discards results
// of calls still in flight against the old adapter.
func (c *Client) Reinitialize(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return payerr.New(payerr.ErrInvalidConfiguration, string(cfg.Processor), err.Error())
	}
	newAdapter, err := registry.Build(cfg, c.clock)
	if err != nil {
		return err
	}
	// Validated with the new configuration's own retry policy; the
	// controller is installed on success.
	ctrl := retry.New(cfg.MaxRetryAttempts, cfg.RetryBaseDelay, c.logger)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}
	vctx, cancel := context.WithTimeout(ctx, timeout)
	err = ctrl.Do(vctx, "ValidateConfiguration", func(ctx context.Context) error {
		return newAdapter.ValidateConfiguration(ctx)
	})
	cancel()
	if err != nil {
		return err
	}
	engine := webhook.NewEngine(c.store, c.cache, cfg.FailedPaymentThreshold, c.clock, c.logger)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.reg.Replace(cfg, c.clock); err != nil {
		return err
	}
	c.cfg = cfg
	c.generation++
	c.cache.Flush()
	if err := engine.ResetFailureCounters(); err != nil {
		c.logger.Warn("failure counters not fully cleared", "err", err)
	}
	c.engine = engine
	c.retry = ctrl
	c.initialized = true
	c.logger.Info("payment client reinitialized", "processor", cfg.Processor)
	return nil
}

// Timeout reports the per-call timeout in force.
func (c *Client) Timeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cfg.Timeout <= 0 {
		return config.DefaultTimeout
	}
	return c.cfg.Timeout
}
