// Package config loads and validates the engine configuration. The active
// processor is a configuration choice; consuming code never imports a
// processor-specific package directly.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// ProcessorKind discriminates which adapter the registry constructs.
type ProcessorKind string

const (
	ProcessorStripe       ProcessorKind = "stripe"
	ProcessorPaddle       ProcessorKind = "paddle"
	ProcessorBraintree    ProcessorKind = "braintree"
	ProcessorLemonSqueezy ProcessorKind = "lemonsqueezy"
	ProcessorGlobalPay    ProcessorKind = "globalpay"
	ProcessorTest         ProcessorKind = "test"
)

// Credentials bundles the secrets a processor adapter needs. Which fields
// are required depends on the processor kind; Validate enforces that.
type Credentials struct {
	APIKey        string `json:"apiKey"`
	PublicKey     string `json:"publicKey,omitempty"`
	WebhookSecret string `json:"webhookSecret,omitempty"`
	MerchantID    string `json:"merchantId,omitempty"`
	StoreID       string `json:"storeId,omitempty"`
	Environment   string `json:"environment,omitempty"`
}

// Config holds the engine configuration.
type Config struct {
	Processor              ProcessorKind `validate:"required,oneof=stripe paddle braintree lemonsqueezy globalpay test"`
	Credentials            Credentials
	Timeout                time.Duration `validate:"min=0"`
	CacheTTL               time.Duration `validate:"min=0"`
	MaxRetryAttempts       int           `validate:"min=1,max=10"`
	RetryBaseDelay         time.Duration `validate:"min=0"`
	FailedPaymentThreshold int           `validate:"min=1"`
	LoggingEnabled         bool
}

const (
	DefaultTimeout                = 30 * time.Second
	DefaultCacheTTL               = 5 * time.Minute
	DefaultMaxRetryAttempts       = 3
	DefaultRetryBaseDelay         = 500 * time.Millisecond
	DefaultFailedPaymentThreshold = 3
)

var validate = validator.New()

// Default returns a Config for the given processor with the default
// operational knobs set.
func Default(kind ProcessorKind, creds Credentials) Config {
	return Config{
		Processor:              kind,
		Credentials:            creds,
		Timeout:                DefaultTimeout,
		CacheTTL:               DefaultCacheTTL,
		MaxRetryAttempts:       DefaultMaxRetryAttempts,
		RetryBaseDelay:         DefaultRetryBaseDelay,
		FailedPaymentThreshold: DefaultFailedPaymentThreshold,
		LoggingEnabled:         true,
	}
}

// Load builds a Config from environment variables, consulting a .env file
// found in the working directory or any parent.
func Load() (Config, error) {
	loadDotEnv()

	kind := ProcessorKind(os.Getenv("PAYMENT_PROCESSOR"))
	if kind == "" {
		return Config{}, fmt.Errorf("missing required environment variable: PAYMENT_PROCESSOR")
	}
	cfg := Default(kind, Credentials{
		APIKey:        os.Getenv("PAYMENT_API_KEY"),
		PublicKey:     os.Getenv("PAYMENT_PUBLIC_KEY"),
		WebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		MerchantID:    os.Getenv("PAYMENT_MERCHANT_ID"),
		StoreID:       os.Getenv("PAYMENT_STORE_ID"),
		Environment:   os.Getenv("PAYMENT_ENVIRONMENT"),
	})

	if v := os.Getenv("PAYMENT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PAYMENT_TIMEOUT: %w", err)
		}
		cfg.Timeout = d
	}
	if v := os.Getenv("PAYMENT_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PAYMENT_CACHE_TTL: %w", err)
		}
		cfg.CacheTTL = d
	}
	if v := os.Getenv("PAYMENT_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PAYMENT_MAX_RETRIES: %w", err)
		}
		cfg.MaxRetryAttempts = n
	}
	if v := os.Getenv("PAYMENT_LOGGING"); v != "" {
		cfg.LoggingEnabled = v == "true" || v == "1"
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnv walks up from the working directory looking for a .env file,
// loading the first one found.
func loadDotEnv() {
	currentDir, _ := os.Getwd()
	for currentDir != "/" && currentDir != "" {
		envPath := filepath.Join(currentDir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(currentDir)
		if parent == currentDir {
			return
		}
		currentDir = parent
	}
}

// Validate checks structural constraints plus the per-processor credential
// requirements. It is a local check only; ValidateConfiguration on the
// adapter performs the round-trip credential check.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	switch c.Processor {
	case ProcessorTest:
		// The synthetic processor needs no credentials.
	case ProcessorBraintree:
		if c.Credentials.APIKey == "" || c.Credentials.MerchantID == "" {
			return fmt.Errorf("invalid configuration: braintree requires api key and merchant id")
		}
	case ProcessorLemonSqueezy:
		if c.Credentials.APIKey == "" || c.Credentials.StoreID == "" {
			return fmt.Errorf("invalid configuration: lemonsqueezy requires api key and store id")
		}
	default:
		if c.Credentials.APIKey == "" {
			return fmt.Errorf("invalid configuration: %s requires an api key", c.Processor)
		}
	}
	return nil
}
