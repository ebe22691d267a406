// ABOUTME: Payment sub-flow state machine: select, confirm, process, succeed.
// ABOUTME: Failed attempts return to selection; success feeds a completion callback.

package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jiffylabs/quotechat/internal/backend"
)

// Status is the flow's current phase.
type Status int

const (
	StatusSelecting Status = iota
	StatusConfirming
	StatusProcessing
	StatusSucceeded
)

func (s Status) String() string {
	switch s {
	case StatusSelecting:
		return "selecting"
	case StatusConfirming:
		return "confirming"
	case StatusProcessing:
		return "processing"
	case StatusSucceeded:
		return "succeeded"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

var (
	// ErrInvalidTransition is returned when an operation is called outside
	// the phase it belongs to.
	ErrInvalidTransition = errors.New("invalid payment flow transition")

	// ErrUnknownMethod is returned by Select for a method id outside the
	// catalogue.
	ErrUnknownMethod = errors.New("unknown payment method")

	// ErrNoMethodSelected is returned by Proceed before any Select.
	ErrNoMethodSelected = errors.New("no payment method selected")

	// ErrPaymentDeclined is returned when the backend reports a failed
	// payment. The flow is back in selecting when this is returned.
	ErrPaymentDeclined = errors.New("payment declined")
)

// Method is one offered payment method.
type Method struct {
	ID    string
	Label string
}

// Methods is the fixed method catalogue, in display order.
var Methods = []Method{
	{ID: "paynow", Label: "PayNow"},
	{ID: "card", Label: "Credit / Debit Card"},
	{ID: "grabpay", Label: "GrabPay"},
	{ID: "paylah", Label: "DBS PayLah!"},
	{ID: "nets", Label: "NETS"},
}

// MethodByID returns the catalogue entry for id.
func MethodByID(id string) (Method, bool) {
	for _, m := range Methods {
		if m.ID == id {
			return m, true
		}
	}
	return Method{}, false
}

// Processor settles a payment with the backend. *backend.Client satisfies it.
type Processor interface {
	ProcessPayment(ctx context.Context, sessionID, method string, amount float64) (*backend.PaymentResult, error)
}

// CompleteFunc receives the successful payment result after the success
// screen has been shown.
type CompleteFunc func(result *backend.PaymentResult)

// Delays are the flow's presentation delays. Zero values skip the wait, which
// tests rely on.
type Delays struct {
	// Settlement is how long the processing state is held before the
	// backend call, so the transition is perceptible.
	Settlement time.Duration
	// Completion is how long the success state is shown before the
	// completion callback fires.
	Completion time.Duration
}

// Flow is one payment attempt sequence for one session. Not safe for
// concurrent use; the orchestrator drives it from a single goroutine.
type Flow struct {
	processor  Processor
	sessionID  string
	amount     float64
	delays     Delays
	onComplete CompleteFunc
	logger     *slog.Logger

	status Status
	method Method
	result *backend.PaymentResult
}

// NewFlow starts a flow in the selecting state for the session's premium
// amount. onComplete may be nil.
func NewFlow(processor Processor, sessionID string, amount float64, delays Delays, onComplete CompleteFunc) *Flow {
	return &Flow{
		processor:  processor,
		sessionID:  sessionID,
		amount:     amount,
		delays:     delays,
		onComplete: onComplete,
		logger:     slog.Default().With("component", "payment"),
		status:     StatusSelecting,
	}
}

// Status returns the flow's current phase.
func (f *Flow) Status() Status { return f.status }

// Amount returns the premium being settled.
func (f *Flow) Amount() float64 { return f.amount }

// Method returns the selected method; zero value before any Select.
func (f *Flow) Method() Method { return f.method }

// Result returns the backend's payment result once the flow has succeeded.
func (f *Flow) Result() *backend.PaymentResult { return f.result }

// Select records the chosen method. Allowed only while selecting; selecting
// again simply replaces the choice.
func (f *Flow) Select(methodID string) error {
	if f.status != StatusSelecting {
		return fmt.Errorf("%w: select in %s", ErrInvalidTransition, f.status)
	}
	m, ok := MethodByID(methodID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMethod, methodID)
	}
	f.method = m
	return nil
}

// Proceed moves from selecting to the confirmation step.
func (f *Flow) Proceed() error {
	if f.status != StatusSelecting {
		return fmt.Errorf("%w: proceed in %s", ErrInvalidTransition, f.status)
	}
	if f.method.ID == "" {
		return ErrNoMethodSelected
	}
	f.status = StatusConfirming
	return nil
}

// Back returns from confirmation to method selection. The selected method is
// kept so the user can just proceed again.
func (f *Flow) Back() error {
	if f.status != StatusConfirming {
		return fmt.Errorf("%w: back in %s", ErrInvalidTransition, f.status)
	}
	f.status = StatusSelecting
	return nil
}

// Cancel abandons the attempt and discards the method choice. Allowed while
// selecting or confirming; a later attempt starts clean.
func (f *Flow) Cancel() error {
	switch f.status {
	case StatusSelecting, StatusConfirming:
		f.status = StatusSelecting
		f.method = Method{}
		return nil
	default:
		return fmt.Errorf("%w: cancel in %s", ErrInvalidTransition, f.status)
	}
}

// Confirm runs the payment: backend call, then the settlement hold, then the
// succeeded state. After the completion hold the completion callback fires
// with the result. Any failure puts the flow back in selecting immediately so
// the attempt can be retried without waiting out the hold.
func (f *Flow) Confirm(ctx context.Context) (*backend.PaymentResult, error) {
	if f.status != StatusConfirming {
		return nil, fmt.Errorf("%w: confirm in %s", ErrInvalidTransition, f.status)
	}
	if err := ctx.Err(); err != nil {
		f.status = StatusSelecting
		return nil, err
	}
	f.status = StatusProcessing
	f.logger.Info("processing payment",
		"session_id", f.sessionID, "method", f.method.ID, "amount", f.amount)

	result, err := f.processor.ProcessPayment(ctx, f.sessionID, f.method.ID, f.amount)
	if err != nil {
		f.status = StatusSelecting
		return nil, fmt.Errorf("processing payment: %w", err)
	}
	if !result.Success {
		f.status = StatusSelecting
		f.logger.Warn("payment declined", "session_id", f.sessionID, "message", result.Message)
		if result.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrPaymentDeclined, result.Message)
		}
		return nil, ErrPaymentDeclined
	}

	// Payment is settled at this point; the holds only pace the reveal.
	// Cancellation cuts them short without undoing the outcome.
	sleepHold(ctx, f.delays.Settlement)
	f.status = StatusSucceeded
	f.result = result
	f.logger.Info("payment succeeded",
		"session_id", f.sessionID,
		"payment_reference", result.PaymentReference,
		"policy_number", result.PolicyNumber)

	sleepHold(ctx, f.delays.Completion)
	if f.onComplete != nil {
		f.onComplete(result)
	}
	return result, nil
}

// sleepHold waits for d or until ctx is done. Zero and negative durations
// return immediately.
func sleepHold(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
