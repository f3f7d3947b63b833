package ledger

import (
	"bytes"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
	"github.com/tinoosan/transfer/internal/meta"
)

// Outcome is the terminal state of a transfer or deposit.
type Outcome string

const (
	// OutcomeCommitted means both balance mutations and the ledger entry were committed.
	OutcomeCommitted Outcome = "committed"
	// OutcomeRejected means a business rule refused the request; the refusal is recorded.
	OutcomeRejected Outcome = "rejected"
)

// Reason explains a rejected outcome.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonInsufficientFunds Reason = "insufficient_funds"
)

// EntryKind distinguishes the operation that produced a ledger entry.
type EntryKind string

const (
	// EntryKindTransfer moves funds between two accounts.
	EntryKindTransfer EntryKind = "transfer"
	// EntryKindDeposit credits one account from outside the system; the source is uuid.Nil.
	EntryKindDeposit EntryKind = "deposit"
)

// Account holds a balance in minor units of a single currency.
type Account struct {
	ID       uuid.UUID
	Name     string
	Currency string
	// Balance is in minor units and is never negative in any committed state.
	Balance int64
	// Version increments on every successful balance mutation.
	Version   int64
	CreatedAt time.Time
}

// Amount returns the balance as a money.Amount in the account currency.
func (a Account) Amount() (money.Amount, error) {
	return money.NewAmountFromMinorUnits(a.Currency, a.Balance)
}

// Transfer is a request to move Amount from the source to the destination account.
type Transfer struct {
	IdempotencyKey       string
	SourceAccountID      uuid.UUID
	DestinationAccountID uuid.UUID
	Amount               int64
	Metadata             meta.Metadata
}

// Deposit is a request to credit an account from outside the system.
type Deposit struct {
	IdempotencyKey string
	AccountID      uuid.UUID
	Amount         int64
	Metadata       meta.Metadata
}

// Entry is an immutable ledger record. Exactly one exists per idempotency key.
type Entry struct {
	ID                   uuid.UUID
	Kind                 EntryKind
	IdempotencyKey       string
	SourceAccountID      uuid.UUID
	DestinationAccountID uuid.UUID
	Amount               int64
	Currency             string
	// Resulting versions and balances after the entry was applied. For rejected
	// entries they are the values of both accounts at one moment while the request
	// was refused.
	SourceVersion      int64
	DestinationVersion int64
	SourceBalance      int64
	DestinationBalance int64
	Outcome            Outcome
	Reason             Reason
	Metadata           meta.Metadata
	CreatedAt          time.Time
}

// Touches reports whether the entry moved or refused funds on the given account.
func (e Entry) Touches(accountID uuid.UUID) bool {
	return e.SourceAccountID == accountID || e.DestinationAccountID == accountID
}

// Result is what the engine hands back to callers.
type Result struct {
	Entry              Entry
	Outcome            Outcome
	Reason             Reason
	SourceBalance      int64
	DestinationBalance int64
	// Replayed is true when the result came from an existing ledger entry.
	Replayed bool
}

// ResultFromEntry rebuilds the caller-facing result from a recorded entry.
func ResultFromEntry(e Entry, replayed bool) Result {
	return Result{
		Entry:              e,
		Outcome:            e.Outcome,
		Reason:             e.Reason,
		SourceBalance:      e.SourceBalance,
		DestinationBalance: e.DestinationBalance,
		Replayed:           replayed,
	}
}

// CompareIDs is the canonical total order over account identifiers.
func CompareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

// OrderAccounts returns the two ids in canonical order. Locks, reads and writes
// spanning two accounts must follow this order so that concurrent transfers on the
// same pair can never wait on each other in a cycle.
func OrderAccounts(a, b uuid.UUID) (first, second uuid.UUID) {
	if CompareIDs(a, b) <= 0 {
		return a, b
	}
	return b, a
}
