package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/paybridge/paybridge/config"
	"github.com/paybridge/paybridge/domain"
	"github.com/paybridge/paybridge/payerr"
)

func Test_Build_EveryProcessorKind(t *testing.T) {
	clock := domain.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	cases := []struct {
		kind  config.ProcessorKind
		creds config.Credentials
		want  domain.Processor
	}{
		{config.ProcessorStripe, config.Credentials{APIKey: "sk_test"}, domain.ProcessorStripe},
		{config.ProcessorPaddle, config.Credentials{APIKey: "pdl"}, domain.ProcessorPaddle},
		{config.ProcessorBraintree, config.Credentials{APIKey: "bt", MerchantID: "m"}, domain.ProcessorBraintree},
		{config.ProcessorLemonSqueezy, config.Credentials{APIKey: "ls", StoreID: "42"}, domain.ProcessorLemonSqueezy},
		{config.ProcessorGlobalPay, config.Credentials{APIKey: "gp"}, domain.ProcessorGlobalPay},
		{config.ProcessorTest, config.Credentials{}, domain.ProcessorTest},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			a, err := Build(config.Default(tc.kind, tc.creds), clock)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			assert.Equal(t, tc.want, a.Kind())
		})
	}
}

func Test_Build_RejectsUnknownKind(t *testing.T) {
	_, err := Build(config.Default("square", config.Credentials{APIKey: "k"}), nil)
	assert.True(t, errors.Is(err, payerr.ErrInvalidConfiguration))
}

func Test_Build_RejectsIncompleteCredentials(t *testing.T) {
	_, err := Build(config.Default(config.ProcessorStripe, config.Credentials{}), nil)
	assert.True(t, errors.Is(err, payerr.ErrInvalidConfiguration))
}

func Test_Registry_Replace(t *testing.T) {
	reg, err := New(config.Default(config.ProcessorTest, config.Credentials{}), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	old := reg.Adapter()
	assert.Equal(t, domain.ProcessorTest, old.Kind())

	next := config.Default(config.ProcessorGlobalPay, config.Credentials{APIKey: "gp"})
	replaced, err := reg.Replace(next, nil)
	assert.NoError(t, err)
	assert.Equal(t, domain.ProcessorGlobalPay, replaced.Kind())
	assert.Same(t, replaced, reg.Adapter())
	assert.Equal(t, next.Processor, reg.Config().Processor)
}

func Test_Registry_ReplaceKeepsOldOnFailure(t *testing.T) {
	reg, _ := New(config.Default(config.ProcessorTest, config.Credentials{}), nil)
	old := reg.Adapter()

	_, err := reg.Replace(config.Default(config.ProcessorStripe, config.Credentials{}), nil)
	assert.Error(t, err)
	assert.Same(t, old, reg.Adapter())
}
