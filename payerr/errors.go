// Package payerr defines the closed error vocabulary shared by every
// processor adapter. Adapters translate their native errors into exactly
// one of these kinds; nothing processor-specific crosses the adapter
// boundary except the optional decline code carried by Error.
package payerr

import "errors"

// Canonical error kinds. These enable caller branching and HTTP mapping
// without relying on SDK-specific error types outside the adapters.
var (
	// ErrAuthenticationFailure indicates the processor rejected our credentials.
	ErrAuthenticationFailure = errors.New("authentication failure")
	// ErrInvalidConfiguration indicates the supplied configuration cannot be used.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrValidationFailure indicates caller input failed validation before any network call.
	ErrValidationFailure = errors.New("validation failure")
	// ErrNetworkFailure indicates a transient network or availability problem.
	ErrNetworkFailure = errors.New("network failure")
	// ErrProcessorDeclined indicates a business-level rejection by the back-end.
	ErrProcessorDeclined = errors.New("processor declined")
	// ErrCustomerNotFound indicates the referenced customer does not exist at the processor.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrSubscriptionNotFound indicates the referenced subscription does not exist at the processor.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrPaymentMethodFailure indicates a payment method could not be attached, charged or removed.
	ErrPaymentMethodFailure = errors.New("payment method failure")
	// ErrWebhookVerificationFailure indicates a webhook signature did not verify.
	ErrWebhookVerificationFailure = errors.New("webhook verification failure")
	// ErrUnsupportedOperation indicates the active processor does not support the operation.
	ErrUnsupportedOperation = errors.New("unsupported operation")
	// ErrRetriesExhausted indicates the retry budget was spent on transient failures.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// Error is the concrete error value adapters return. Kind is always one of
// the sentinels above; Code carries the back-end decline code, when there is
// one, for UI mapping.
type Error struct {
	Kind      error
	Processor string
	Code      string
	Message   string
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Code != "" {
		msg += " (code " + e.Code + ")"
	}
	return msg
}

// Unwrap exposes the kind sentinel so errors.Is works against the taxonomy.
func (e *Error) Unwrap() error { return e.Kind }

// New builds an Error of the given kind.
func New(kind error, processor, message string) *Error {
	return &Error{Kind: kind, Processor: processor, Message: message}
}

// Declined builds a ProcessorDeclined error carrying the back-end code.
func Declined(processor, code, message string) *Error {
	return &Error{Kind: ErrProcessorDeclined, Processor: processor, Code: code, Message: message}
}

// KindOf returns the taxonomy sentinel err maps to, or nil if err is not
// from the taxonomy.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrAuthenticationFailure, ErrInvalidConfiguration, ErrValidationFailure,
		ErrNetworkFailure, ErrProcessorDeclined, ErrCustomerNotFound,
		ErrSubscriptionNotFound, ErrPaymentMethodFailure, ErrWebhookVerificationFailure,
		ErrUnsupportedOperation, ErrRetriesExhausted,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// IsRetryable reports whether err is a transient failure the retry
// controller may try again. Only NetworkFailure qualifies; declines,
// validation and authentication failures propagate on first attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetworkFailure)
}

// Code extracts the back-end decline code from err, if it carries one.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
