// Package webhook is the reconciliation engine: it verifies, deduplicates,
// classifies and applies inbound processor events to cached state. Webhook
// delivery is at-least-once by design, so a duplicate event id is a no-op
// success, never an error.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/paybridge/paybridge/adapter"
	"github.com/paybridge/paybridge/cache"
	"github.com/paybridge/paybridge/domain"
	"github.com/paybridge/paybridge/payerr"
	"github.com/paybridge/paybridge/storage"
)

// idempotencyKeyPrefix is the durable record key space; the value is the
// processing timestamp.
const idempotencyKeyPrefix = "webhook:"

const failureCountPrefix = "payment_failures:"

// DefaultFailureThreshold is the consecutive payment-failure count at which
// callers typically suspend access. The engine only counts; suspension is
// the caller's decision.
const DefaultFailureThreshold = 3

// Engine applies verified events to the cache. The durable idempotency
// store is authoritative; the in-process seen set only short-circuits
// low-latency redeliveries.
type Engine struct {
	store     storage.Storage
	cache     *cache.Cache
	clock     domain.Clock
	logger    *slog.Logger
	threshold int

	mu       sync.Mutex
	inflight map[string]*entryLock
	seen     map[string]struct{}
}

type entryLock struct {
	sync.Mutex
	refs int
}

// NewEngine builds an engine over the given store and cache.
func NewEngine(store storage.Storage, c *cache.Cache, threshold int, clock domain.Clock, logger *slog.Logger) *Engine {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     store,
		cache:     c,
		clock:     clock,
		logger:    logger,
		threshold: threshold,
		inflight:  make(map[string]*entryLock),
		seen:      make(map[string]struct{}),
	}
}

// Threshold reports the consecutive-failure count at which collaborators
// should consider a subscription delinquent.
func (e *Engine) Threshold() int { return e.threshold }

// Process runs the full pipeline for one delivery. The returned event is
// the verified, classified event; a duplicate delivery returns the event
// with no state change. An unverified payload never reaches classification.
func (e *Engine) Process(ctx context.Context, a adapter.ProcessorAdapter, signature string, rawPayload []byte) (domain.WebhookEvent, error) {
	event, err := a.HandleWebhook(ctx, signature, rawPayload)
	if err != nil {
		return domain.WebhookEvent{}, err
	}
	if !event.Verified {
		return domain.WebhookEvent{}, payerr.New(payerr.ErrWebhookVerificationFailure, string(event.Processor), "adapter returned unverified event")
	}
	if event.ID == "" {
		return domain.WebhookEvent{}, payerr.New(payerr.ErrWebhookVerificationFailure, string(event.Processor), "event has no id")
	}

	// Duplicate deliveries of the same id racing each other must
	// serialize so the durable check-and-set is race free. Distinct ids
	// proceed fully in parallel.
	lock := e.acquire(event.ID)
	defer e.release(event.ID, lock)

	seen, err := e.alreadyProcessed(event.ID)
	if err != nil {
		return domain.WebhookEvent{}, err
	}
	if seen {
		e.logger.Debug("duplicate webhook delivery", "event_id", event.ID)
		return event, nil
	}

	eventType := Classify(event.Processor, event.Type)
	if eventType == Unrecognized {
		// Forward compatibility: unknown event catalogs are logged and
		// dropped, and the id is recorded so redeliveries stay quiet.
		e.logger.Info("dropping unrecognized webhook event", "event_id", event.ID, "type", event.Type)
		return event, e.recordProcessed(event.ID)
	}

	if err := e.apply(eventType, event); err != nil {
		return domain.WebhookEvent{}, err
	}
	// Recorded only after successful application: a crash in between
	// reprocesses safely on redelivery.
	return event, e.recordProcessed(event.ID)
}

func (e *Engine) acquire(id string) *entryLock {
	e.mu.Lock()
	l, ok := e.inflight[id]
	if !ok {
		l = &entryLock{}
		e.inflight[id] = l
	}
	l.refs++
	e.mu.Unlock()
	l.Lock()
	return l
}

func (e *Engine) release(id string, l *entryLock) {
	l.Unlock()
	e.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(e.inflight, id)
	}
	e.mu.Unlock()
}

func (e *Engine) alreadyProcessed(id string) (bool, error) {
	e.mu.Lock()
	_, fast := e.seen[id]
	e.mu.Unlock()
	if fast {
		return true, nil
	}
	ok, err := e.store.ContainsKey(idempotencyKeyPrefix + id)
	if err != nil {
		return false, fmt.Errorf("idempotency lookup: %w", err)
	}
	return ok, nil
}

func (e *Engine) recordProcessed(id string) error {
	if err := e.store.SetString(idempotencyKeyPrefix+id, strconv.FormatInt(e.clock.Now().UnixNano(), 10)); err != nil {
		return fmt.Errorf("idempotency record: %w", err)
	}
	e.mu.Lock()
	e.seen[id] = struct{}{}
	e.mu.Unlock()
	return nil
}

func (e *Engine) apply(eventType EventType, event domain.WebhookEvent) error {
	var payload domain.EventPayload
	if len(event.Data) > 0 {
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			e.logger.Warn("webhook payload does not decode, skipping apply", "event_id", event.ID, "err", err)
			return nil
		}
	}

	switch eventType {
	case SubscriptionCreated, SubscriptionUpdated, SubscriptionRenewed, SubscriptionCanceled:
		if eventType == SubscriptionRenewed {
			// A renewal is a successful cycle charge: the failure streak
			// ends and the charge list is stale.
			if id := subscriptionIDOf(payload); id != "" {
				if err := e.store.Remove(failureCountPrefix + id); err != nil {
					return fmt.Errorf("failure counter reset: %w", err)
				}
			}
			e.cache.InvalidateKind(cache.KindCharges)
		}
		return e.applySubscription(eventType, event, payload)
	case PaymentSucceeded:
		if id := subscriptionIDOf(payload); id != "" {
			if err := e.store.Remove(failureCountPrefix + id); err != nil {
				return fmt.Errorf("failure counter reset: %w", err)
			}
		}
		e.cache.InvalidateKind(cache.KindCharges)
		return nil
	case PaymentFailed:
		id := subscriptionIDOf(payload)
		if id == "" {
			e.logger.Warn("payment failure without subscription id", "event_id", event.ID)
			return nil
		}
		count, err := e.store.GetInt(failureCountPrefix + id)
		if err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
			return fmt.Errorf("failure counter read: %w", err)
		}
		count++
		if err := e.store.SetInt(failureCountPrefix+id, count); err != nil {
			return fmt.Errorf("failure counter write: %w", err)
		}
		if count >= int64(e.threshold) {
			e.logger.Warn("subscription past failure threshold", "subscription_id", id, "failures", count)
		}
		e.cache.InvalidateKind(cache.KindCharges)
		return nil
	case PaymentMethodUpdated:
		e.cache.InvalidateKind(cache.KindPaymentMethods)
		return nil
	default:
		return nil
	}
}

// applySubscription merges the event's patch into the cached subscription.
// Fields absent from the event are preserved from the cached copy, and the
// write is stamped with the event time so it cannot overwrite newer state.
func (e *Engine) applySubscription(eventType EventType, event domain.WebhookEvent, payload domain.EventPayload) error {
	patch := payload.Subscription
	if patch == nil {
		patch = &domain.SubscriptionPatch{ID: payload.SubscriptionID}
	}
	if patch.ID == "" {
		e.logger.Warn("subscription event without id", "event_id", event.ID, "type", event.Type)
		return nil
	}
	if eventType == SubscriptionCanceled && patch.Status == nil {
		status := domain.StatusCanceled
		patch.Status = &status
	}

	var sub domain.Subscription
	if _, err := e.cache.GetAny(cache.KindSubscription, patch.ID, &sub); err != nil {
		return err
	}
	patch.ApplyTo(&sub)
	if sub.Processor == "" {
		sub.Processor = event.Processor
	}

	sourceTime := event.CreatedAt
	if sourceTime.IsZero() {
		sourceTime = e.clock.Now()
	}
	if err := e.cache.Put(cache.KindSubscription, sub.ID, sub, sourceTime); err != nil {
		return err
	}
	// Any list the subscription belongs to may now be stale.
	e.cache.InvalidateKind(cache.KindSubscriptions)
	return nil
}

func subscriptionIDOf(payload domain.EventPayload) string {
	if payload.SubscriptionID != "" {
		return payload.SubscriptionID
	}
	if payload.Subscription != nil {
		return payload.Subscription.ID
	}
	return ""
}

// ResetFailureCounters removes every recorded failure streak. Run on a
// processor swap: counts earned against the previous processor must not
// survive reconfiguration.
func (e *Engine) ResetFailureCounters() error {
	keys, err := e.store.Keys(failureCountPrefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := e.store.Remove(k); err != nil {
			return err
		}
	}
	return nil
}

// FailedPaymentCount reports the consecutive payment failures recorded for
// a subscription.
func (e *Engine) FailedPaymentCount(subscriptionID string) (int, error) {
	count, err := e.store.GetInt(failureCountPrefix + subscriptionID)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(count), nil
}
