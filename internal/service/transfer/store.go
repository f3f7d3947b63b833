// Package transfer implements the transfer engine: idempotent, atomic balance
// movements between accounts under concurrent load.
package transfer

import (
	"context"

	"github.com/google/uuid"
	"github.com/tinoosan/transfer/internal/ledger"
)

// AccountRepository is the durable view over account balances.
type AccountRepository interface {
	// GetAccount returns errs.ErrAccountNotFound for unknown ids.
	GetAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error)
	// CompareAndSwap sets the balance and bumps the version only when the stored
	// version equals expectedVersion. It returns the new version, errs.ErrVersionConflict
	// on a mismatch, and errs.ErrInsufficientFunds for a negative newBalance.
	CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion, newBalance int64) (int64, error)
}

// LedgerStore is the append-only record of terminal outcomes, unique by idempotency key.
type LedgerStore interface {
	// FindByIdempotencyKey returns errs.ErrNotFound when no entry exists.
	FindByIdempotencyKey(ctx context.Context, key string) (ledger.Entry, error)
	// AppendEntry returns errs.ErrDuplicateKey when the key is already recorded.
	AppendEntry(ctx context.Context, e ledger.Entry) error
}

// Tx is one storage transaction. Everything done through it commits or rolls back
// together.
type Tx interface {
	AccountRepository
	LedgerStore
	// LockAccount holds the account's critical section until Commit or Rollback.
	// Callers locking more than one account must use ledger.OrderAccounts.
	LockAccount(ctx context.Context, id uuid.UUID) error
	Commit(ctx context.Context) error
	// Rollback is a no-op on a finished transaction.
	Rollback(ctx context.Context) error
}

// Store is the storage backend consumed by the engine.
type Store interface {
	GetAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error)
	FindByIdempotencyKey(ctx context.Context, key string) (ledger.Entry, error)
	BeginTx(ctx context.Context) (Tx, error)
}

// Service is the engine surface used by the HTTP layer.
type Service interface {
	Execute(ctx context.Context, t ledger.Transfer) (ledger.Result, error)
	Deposit(ctx context.Context, d ledger.Deposit) (ledger.Result, error)
	Lookup(ctx context.Context, key string) (ledger.Result, error)
}

// Recorder receives engine outcomes; internal/metrics provides the Prometheus one.
type Recorder interface {
	ObserveOutcome(kind ledger.EntryKind, outcome string, attempts int, seconds float64)
	ObserveConflict(kind ledger.EntryKind)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOutcome(ledger.EntryKind, string, int, float64) {}
func (nopRecorder) ObserveConflict(ledger.EntryKind)                     {}
