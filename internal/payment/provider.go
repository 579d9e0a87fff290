// Package payment abstracts the external payment providers behind a single
// capability interface so the settlement core stays provider-agnostic.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// EventKind is the closed set of notification kinds the settlement state
// machine dispatches on. Anything a provider sends that does not map onto one
// of these is dropped at translation time.
type EventKind string

const (
	EventSucceeded EventKind = "payment_succeeded"
	EventFailed    EventKind = "payment_failed"
	EventCanceled  EventKind = "payment_canceled"
)

// Event is a signature-verified provider notification, normalized.
type Event struct {
	ID         string
	Kind       EventKind
	Provider   string
	ExternalID string
	TxnID      string
	Amount     decimal.Decimal
}

type InitiateRequest struct {
	OrderID  int64
	Amount   decimal.Decimal
	Currency string
	Metadata map[string]string
}

// InitiateResult carries the client-side continuation: a client secret for
// redirect-free flows or a redirect URL for redirect-based ones.
type InitiateResult struct {
	ExternalPaymentID string
	ClientSecret      string
	RedirectURL       string
}

type VerifyResult struct {
	Verified bool
	Status   string
	TxnID    string
	Amount   decimal.Decimal
}

type RefundResult struct {
	RefundID string
}

// Provider is implemented once per external payment provider. None of its
// methods touch local state; they are remote calls plus response translation.
type Provider interface {
	Name() string

	// Initiate opens a payment with the provider for the given amount.
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)

	// Verify is a side-effect-free remote poll of the payment's status.
	Verify(ctx context.Context, externalPaymentID string) (*VerifyResult, error)

	// Refund returns money for a captured payment. A nil amount means a full
	// refund of the original charge.
	Refund(ctx context.Context, externalTxnID string, amount *decimal.Decimal) (*RefundResult, error)
}

// WebhookVerifier is the optional capability for providers that sign their
// asynchronous notifications. ConstructEvent must verify the signature against
// the raw payload before any parsing happens.
type WebhookVerifier interface {
	ConstructEvent(payload []byte, sigHeader string) (*Event, error)
}

// ErrInvalidSignature rejects a webhook whose payload does not match its
// claimed signature. Nothing downstream of signature verification runs.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// DeclineError is a business-level decline from the provider, distinct from
// transport failures: the provider answered, and the answer was no.
type DeclineError struct {
	Provider string
	Reason   string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("%s declined payment: %s", e.Provider, e.Reason)
}

// TransportError covers unreachable APIs, timeouts and auth/token failures.
// Retry is the caller's concern; the settlement core never retries these.
type TransportError struct {
	Provider string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
