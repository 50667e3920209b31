package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/paybridge/paybridge/payerr"
)

func newServer(status int, body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
}

func Test_DoJSON_SendsHeadersAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "testproc", map[string]string{"Authorization": "Bearer key"}, time.Second)
	var out struct {
		OK bool `json:"ok"`
	}
	err := c.DoJSON(context.Background(), http.MethodPost, "/x", map[string]any{"a": 1}, &out)
	assert.NoError(t, err)
	assert.True(t, out.OK)
}

func Test_DoJSON_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, payerr.ErrAuthenticationFailure},
		{http.StatusForbidden, payerr.ErrAuthenticationFailure},
		{http.StatusPaymentRequired, payerr.ErrProcessorDeclined},
		{http.StatusBadRequest, payerr.ErrValidationFailure},
		{http.StatusUnprocessableEntity, payerr.ErrValidationFailure},
		{http.StatusTooManyRequests, payerr.ErrNetworkFailure},
		{http.StatusInternalServerError, payerr.ErrNetworkFailure},
		{http.StatusBadGateway, payerr.ErrNetworkFailure},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := newServer(tc.status, `{"error":{"message":"nope"}}`)
			defer srv.Close()
			c := New(srv.URL, "testproc", nil, time.Second)
			err := c.DoJSON(context.Background(), http.MethodGet, "/x", nil, nil)
			assert.True(t, errors.Is(err, tc.want), "status %d should map to %v, got %v", tc.status, tc.want, err)
		})
	}
}

func Test_DoJSON_NotFoundIsRefinable(t *testing.T) {
	srv := newServer(http.StatusNotFound, `{"error":{"message":"missing"}}`)
	defer srv.Close()

	c := New(srv.URL, "testproc", nil, time.Second)
	err := c.DoJSON(context.Background(), http.MethodGet, "/x", nil, nil)
	assert.True(t, errors.Is(err, ErrNotFound))

	refined := AsNotFound(err, payerr.ErrCustomerNotFound, "testproc")
	assert.True(t, errors.Is(refined, payerr.ErrCustomerNotFound))
}

func Test_AsNotFound_PassesOtherErrorsThrough(t *testing.T) {
	orig := payerr.New(payerr.ErrNetworkFailure, "testproc", "down")
	assert.Equal(t, error(orig), AsNotFound(orig, payerr.ErrCustomerNotFound, "testproc"))
	assert.NoError(t, AsNotFound(nil, payerr.ErrCustomerNotFound, "testproc"))
}

func Test_DoJSON_DeclineCarriesCode(t *testing.T) {
	srv := newServer(http.StatusPaymentRequired, `{"error":{"code":"card_declined","message":"declined"}}`)
	defer srv.Close()

	c := New(srv.URL, "testproc", nil, time.Second)
	err := c.DoJSON(context.Background(), http.MethodPost, "/charges", map[string]any{}, nil)
	assert.True(t, errors.Is(err, payerr.ErrProcessorDeclined))
	assert.Equal(t, "card_declined", payerr.Code(err))
}

func Test_DoJSON_TransportFailure(t *testing.T) {
	// A closed server rejects the connection.
	srv := newServer(http.StatusOK, "")
	srv.Close()

	c := New(srv.URL, "testproc", nil, time.Second)
	err := c.DoJSON(context.Background(), http.MethodGet, "/x", nil, nil)
	assert.True(t, errors.Is(err, payerr.ErrNetworkFailure))
	assert.True(t, payerr.IsRetryable(err))
}

func Test_DoJSON_MalformedSuccessBody(t *testing.T) {
	srv := newServer(http.StatusOK, `{broken`)
	defer srv.Close()

	c := New(srv.URL, "testproc", nil, time.Second)
	var out map[string]any
	err := c.DoJSON(context.Background(), http.MethodGet, "/x", nil, &out)
	assert.True(t, errors.Is(err, payerr.ErrNetworkFailure))
}
