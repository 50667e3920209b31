// Package registry constructs the adapter matching a configuration. The
// switch over processor kinds is closed: adding a processor means adding a
// case here, which the compiler and the contract test surface immediately.
package registry

import (
	"fmt"
	"sync"

	"github.com/paybridge/paybridge/adapter"
	"github.com/paybridge/paybridge/adapter/braintree"
	"github.com/paybridge/paybridge/adapter/globalpay"
	"github.com/paybridge/paybridge/adapter/lemonsqueezy"
	"github.com/paybridge/paybridge/adapter/paddle"
	"github.com/paybridge/paybridge/adapter/stripeproc"
	"github.com/paybridge/paybridge/adapter/testproc"
	"github.com/paybridge/paybridge/config"
	"github.com/paybridge/paybridge/domain"
	"github.com/paybridge/paybridge/payerr"
)

// Build instantiates the adapter for cfg. Each call constructs a fresh
// adapter; callers that need instance caching use a Registry.
func Build(cfg config.Config, clock domain.Clock) (adapter.ProcessorAdapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, payerr.New(payerr.ErrInvalidConfiguration, string(cfg.Processor), err.Error())
	}
	creds := cfg.Credentials
	switch cfg.Processor {
	case config.ProcessorStripe:
		return stripeproc.New(creds.APIKey, creds.WebhookSecret, cfg.Timeout), nil
	case config.ProcessorPaddle:
		return paddle.New(creds.APIKey, creds.WebhookSecret, baseURLFor(creds), cfg.Timeout, clock), nil
	case config.ProcessorBraintree:
		return braintree.New(creds.PublicKey, creds.APIKey, creds.MerchantID, creds.Environment, baseURLFor(creds), cfg.Timeout, clock), nil
	case config.ProcessorLemonSqueezy:
		return lemonsqueezy.New(creds.APIKey, creds.WebhookSecret, creds.StoreID, baseURLFor(creds), cfg.Timeout), nil
	case config.ProcessorGlobalPay:
		return globalpay.New(creds.APIKey, creds.WebhookSecret, baseURLFor(creds), cfg.Timeout), nil
	case config.ProcessorTest:
		return testproc.New(creds.WebhookSecret, clock), nil
	default:
		return nil, payerr.New(payerr.ErrInvalidConfiguration, string(cfg.Processor), fmt.Sprintf("unknown processor kind %q", cfg.Processor))
	}
}

// baseURLFor lets tests and sandbox environments point an adapter at an
// alternate endpoint through the Environment credential field. Values that
// are not URLs select the adapter's default.
func baseURLFor(creds config.Credentials) string {
	if len(creds.Environment) > 4 && creds.Environment[:4] == "http" {
		return creds.Environment
	}
	return ""
}

// Registry holds the one live adapter per process and swaps it atomically
// on reconfiguration.
type Registry struct {
	mu      sync.RWMutex
	cfg     config.Config
	current adapter.ProcessorAdapter
}

// New builds the registry and its initial adapter.
func New(cfg config.Config, clock domain.Clock) (*Registry, error) {
	a, err := Build(cfg, clock)
	if err != nil {
		return nil, err
	}
	return &Registry{cfg: cfg, current: a}, nil
}

// Adapter returns the live adapter instance.
func (r *Registry) Adapter() adapter.ProcessorAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Config returns the configuration the live adapter was built from.
func (r *Registry) Config() config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Replace constructs the adapter for cfg and swaps it in. The old adapter
// is not torn down; operations already issued against it complete and their
// results are discarded by the caller's cache generation check.
func (r *Registry) Replace(cfg config.Config, clock domain.Clock) (adapter.ProcessorAdapter, error) {
	a, err := Build(cfg, clock)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.cfg = cfg
	r.current = a
	r.mu.Unlock()
	return a, nil
}
