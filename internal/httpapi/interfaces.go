package httpapi

import (
	"context"

	"github.com/google/uuid"
	"github.com/tinoosan/transfer/internal/ledger"
)

// EntryReader abstracts ledger read operations for the audit endpoint.
type EntryReader interface {
	// ListEntries returns entries touching the account, oldest first.
	ListEntries(ctx context.Context, accountID uuid.UUID) ([]ledger.Entry, error)
}

// ReadyChecker is optionally implemented by stores to indicate readiness.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}
