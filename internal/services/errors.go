package services

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Business errors surfaced by the fare engine. Handlers map these to HTTP
// status codes; nothing below is swallowed silently.
var (
	ErrCardNotFound      = errors.New("card not found")
	ErrCardNotActive     = errors.New("card not active")
	ErrNoOpenTrip        = errors.New("no open trip session")
	ErrTripAlreadyOpen   = errors.New("trip session already open")
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

// UpstreamError wraps a failure talking to the payment gateway. No local
// state has been mutated when it is returned, so the operation is safe
// to retry.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("payment gateway %s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// PaymentRejectedError means the gateway answered but the transaction
// failed validation (wrong status, currency mismatch, missing card
// metadata). Terminal: the reference is never credited and not retried.
type PaymentRejectedError struct {
	Reference string
	Reason    string
}

func (e *PaymentRejectedError) Error() string {
	return fmt.Sprintf("payment %s rejected: %s", e.Reference, e.Reason)
}

// isUniqueViolation reports whether err is a postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
