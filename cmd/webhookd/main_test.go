package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

var signatureHeaders = []string{
	"Stripe-Signature",
	"Paddle-Signature",
	"Bt-Signature",
	"X-Signature",
	"X-GP-Signature",
}

func Test_FirstHeader_FindsEachProcessorHeader(t *testing.T) {
	for _, name := range signatureHeaders {
		r := httptest.NewRequest(http.MethodPost, "/webhook", nil)
		r.Header.Set(name, "sig-value")
		assert.Equal(t, "sig-value", firstHeader(r, signatureHeaders...), "header %s", name)
	}
}

func Test_FirstHeader_EmptyWhenAbsent(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	assert.Equal(t, "", firstHeader(r, signatureHeaders...))
}
