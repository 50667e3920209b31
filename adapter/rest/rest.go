// Package rest is the shared HTTP plumbing for adapters whose back-ends
// have no Go SDK in use here. It owns request encoding, response decoding
// and the translation of transport/HTTP failures into the error taxonomy.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/paybridge/paybridge/payerr"
)

// Client issues JSON requests against one back-end.
type Client struct {
	BaseURL   string
	Processor string
	Headers   map[string]string
	HTTP      *http.Client
}

// New builds a Client with the given auth headers and timeout.
func New(baseURL, processor string, headers map[string]string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:   baseURL,
		Processor: processor,
		Headers:   headers,
		HTTP:      &http.Client{Timeout: timeout},
	}
}

// apiError is the loose error envelope most JSON APIs return under either
// an "error" object or top-level code/message fields.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e apiError) code() string {
	if e.Error.Code != "" {
		return e.Error.Code
	}
	return e.Code
}

func (e apiError) message() string {
	if e.Error.Message != "" {
		return e.Error.Message
	}
	return e.Message
}

// DoJSON sends body (when non-nil) as JSON and decodes the response into
// out (when non-nil). Non-2xx statuses and transport failures come back as
// taxonomy errors; a 404 is reported as ErrNotFound for the adapter to
// refine into the entity-specific kind.
func (c *Client) DoJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return payerr.New(payerr.ErrValidationFailure, c.Processor, err.Error())
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return payerr.New(payerr.ErrValidationFailure, c.Processor, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		// Timeouts and connection failures are transient by policy.
		return payerr.New(payerr.ErrNetworkFailure, c.Processor, err.Error())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return payerr.New(payerr.ErrNetworkFailure, c.Processor, err.Error())
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return payerr.New(payerr.ErrNetworkFailure, c.Processor, fmt.Sprintf("malformed response: %v", err))
		}
		return nil
	}

	var ae apiError
	_ = json.Unmarshal(data, &ae)
	msg := ae.message()
	if msg == "" {
		msg = fmt.Sprintf("http %d", resp.StatusCode)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return payerr.New(payerr.ErrAuthenticationFailure, c.Processor, msg)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case resp.StatusCode == http.StatusPaymentRequired:
		return payerr.Declined(c.Processor, ae.code(), msg)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return payerr.New(payerr.ErrValidationFailure, c.Processor, msg)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return payerr.New(payerr.ErrNetworkFailure, c.Processor, msg)
	default:
		return payerr.Declined(c.Processor, ae.code(), msg)
	}
}

// ErrNotFound marks a 404 whose entity kind only the calling adapter knows.
var ErrNotFound = errors.New("not found")

// AsNotFound converts err into kind when it is a 404, otherwise returns err
// unchanged.
func AsNotFound(err error, kind error, processor string) error {
	if errors.Is(err, ErrNotFound) {
		return payerr.New(kind, processor, err.Error())
	}
	return err
}
