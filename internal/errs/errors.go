package errs

import "errors"

// Common sentinel errors for cross-layer signaling.
var (
	ErrNotFound = errors.New("not_found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid")
	// ErrUnprocessable is used for semantic validation failures (HTTP 422)
	ErrUnprocessable = errors.New("unprocessable")
)

// Transfer engine errors. Only ErrVersionConflict is internal; the rest reach callers.
var (
	// ErrInvalidTransfer marks a malformed request (non-positive amount, same account, ...).
	ErrInvalidTransfer = errors.New("invalid_transfer")
	// ErrAccountNotFound wraps ErrNotFound so generic not-found handling still applies.
	ErrAccountNotFound = notFound("account_not_found")
	// ErrInsufficientFunds is returned by stores refusing a write that would go negative.
	ErrInsufficientFunds = errors.New("insufficient_funds")
	// ErrVersionConflict signals a failed compare-and-swap; consumed by the retry loop.
	ErrVersionConflict = errors.New("version_conflict")
	// ErrDuplicateKey signals a ledger append for an idempotency key that already exists.
	ErrDuplicateKey = errors.New("duplicate_key")
	// ErrConcurrencyExhausted means the retry or time budget ran out; safe to resubmit.
	ErrConcurrencyExhausted = errors.New("concurrency_exhausted")
	// ErrStorage wraps backend failures (I/O, aborted transactions).
	ErrStorage = errors.New("storage_failure")
)

type kindErr struct {
	msg    string
	parent error
}

func notFound(msg string) error { return &kindErr{msg: msg, parent: ErrNotFound} }

func (e *kindErr) Error() string { return e.msg }
func (e *kindErr) Unwrap() error { return e.parent }
