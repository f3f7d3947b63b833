package httpapi

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/transfer/internal/ledger"
)

type postAccountRequest struct {
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

type accountResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Currency     string    `json:"currency"`
	BalanceMinor int64     `json:"balance_minor"`
	Balance      string    `json:"balance,omitempty"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
}

type postTransferRequest struct {
	IdempotencyKey       string            `json:"idempotency_key,omitempty"`
	SourceAccountID      uuid.UUID         `json:"source_account_id"`
	DestinationAccountID uuid.UUID         `json:"destination_account_id"`
	AmountMinor          int64             `json:"amount_minor"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

type postDepositRequest struct {
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	AmountMinor    int64             `json:"amount_minor"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// transferResponse describes one recorded ledger entry, transfer or deposit.
type transferResponse struct {
	ID                      uuid.UUID         `json:"id"`
	Kind                    ledger.EntryKind  `json:"kind"`
	IdempotencyKey          string            `json:"idempotency_key"`
	SourceAccountID         *uuid.UUID        `json:"source_account_id,omitempty"`
	DestinationAccountID    uuid.UUID         `json:"destination_account_id"`
	AmountMinor             int64             `json:"amount_minor"`
	Amount                  string            `json:"amount,omitempty"`
	Currency                string            `json:"currency"`
	Outcome                 ledger.Outcome    `json:"outcome"`
	Reason                  ledger.Reason     `json:"reason,omitempty"`
	SourceBalanceMinor      *int64            `json:"source_balance_minor,omitempty"`
	DestinationBalanceMinor int64             `json:"destination_balance_minor"`
	Replayed                bool              `json:"replayed"`
	Metadata                map[string]string `json:"metadata,omitempty"`
	CreatedAt               time.Time         `json:"created_at"`
}

type ledgerItem struct {
	EntryID        uuid.UUID        `json:"entry_id"`
	Kind           ledger.EntryKind `json:"kind"`
	IdempotencyKey string           `json:"idempotency_key"`
	// Direction is "debit" when funds left the account and "credit" when they arrived.
	Direction         string         `json:"direction"`
	CounterpartyID    *uuid.UUID     `json:"counterparty_account_id,omitempty"`
	AmountMinor       int64          `json:"amount_minor"`
	Outcome           ledger.Outcome `json:"outcome"`
	Reason            ledger.Reason  `json:"reason,omitempty"`
	BalanceAfterMinor int64          `json:"balance_after_minor"`
	CreatedAt         time.Time      `json:"created_at"`
}

type ledgerResponse struct {
	AccountID  uuid.UUID    `json:"account_id"`
	Currency   string       `json:"currency"`
	Items      []ledgerItem `json:"items"`
	NextCursor *string      `json:"next_cursor,omitempty"`
}

// formatMinor renders units as a display amount. On failure it logs and returns
// "", which drops the field from the response; the minor-unit value is always sent.
func formatMinor(currency string, units int64) string {
	amt, err := money.NewAmountFromMinorUnits(currency, units)
	if err != nil {
		slog.Warn("cannot format amount", "currency", currency, "units", units, "err", err)
		return ""
	}
	return amt.String()
}

func toAccountResponse(a ledger.Account) accountResponse {
	return accountResponse{
		ID:           a.ID,
		Name:         a.Name,
		Currency:     a.Currency,
		BalanceMinor: a.Balance,
		Balance:      formatMinor(a.Currency, a.Balance),
		Version:      a.Version,
		CreatedAt:    a.CreatedAt,
	}
}

func toTransferResponse(res ledger.Result) transferResponse {
	e := res.Entry
	out := transferResponse{
		ID:                      e.ID,
		Kind:                    e.Kind,
		IdempotencyKey:          e.IdempotencyKey,
		DestinationAccountID:    e.DestinationAccountID,
		AmountMinor:             e.Amount,
		Amount:                  formatMinor(e.Currency, e.Amount),
		Currency:                e.Currency,
		Outcome:                 res.Outcome,
		Reason:                  res.Reason,
		DestinationBalanceMinor: res.DestinationBalance,
		Replayed:                res.Replayed,
		CreatedAt:               e.CreatedAt,
	}
	if e.SourceAccountID != uuid.Nil {
		src, bal := e.SourceAccountID, res.SourceBalance
		out.SourceAccountID = &src
		out.SourceBalanceMinor = &bal
	}
	if len(e.Metadata) > 0 {
		out.Metadata = e.Metadata
	}
	return out
}

// toLedgerItem views e from the side of accountID.
func toLedgerItem(accountID uuid.UUID, e ledger.Entry) ledgerItem {
	it := ledgerItem{
		EntryID:        e.ID,
		Kind:           e.Kind,
		IdempotencyKey: e.IdempotencyKey,
		AmountMinor:    e.Amount,
		Outcome:        e.Outcome,
		Reason:         e.Reason,
		CreatedAt:      e.CreatedAt,
	}
	if e.SourceAccountID == accountID {
		it.Direction = "debit"
		it.BalanceAfterMinor = e.SourceBalance
		dst := e.DestinationAccountID
		it.CounterpartyID = &dst
		return it
	}
	it.Direction = "credit"
	it.BalanceAfterMinor = e.DestinationBalance
	if e.SourceAccountID != uuid.Nil {
		src := e.SourceAccountID
		it.CounterpartyID = &src
	}
	return it
}
