package transfer

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tinoosan/transfer/internal/errs"
	"github.com/tinoosan/transfer/internal/ledger"
)

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: idempotency key required", errs.ErrInvalidTransfer)
	}
	if len(key) > MaxKeyLen {
		return fmt.Errorf("%w: idempotency key longer than %d", errs.ErrInvalidTransfer, MaxKeyLen)
	}
	if !utf8.ValidString(key) {
		return fmt.Errorf("%w: idempotency key is not valid UTF-8", errs.ErrInvalidTransfer)
	}
	if strings.IndexFunc(key, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: idempotency key contains control characters", errs.ErrInvalidTransfer)
	}
	return nil
}

func validateTransfer(t ledger.Transfer) error {
	if t.SourceAccountID == uuid.Nil || t.DestinationAccountID == uuid.Nil {
		return fmt.Errorf("%w: source and destination accounts required", errs.ErrInvalidTransfer)
	}
	if t.Amount <= 0 {
		return fmt.Errorf("%w: amount must be > 0", errs.ErrInvalidTransfer)
	}
	if t.SourceAccountID == t.DestinationAccountID {
		return fmt.Errorf("%w: source and destination must differ", errs.ErrInvalidTransfer)
	}
	if err := t.Metadata.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidTransfer, err)
	}
	return nil
}

func validateDeposit(d ledger.Deposit) error {
	if d.AccountID == uuid.Nil {
		return fmt.Errorf("%w: account required", errs.ErrInvalidTransfer)
	}
	if d.Amount <= 0 {
		return fmt.Errorf("%w: amount must be > 0", errs.ErrInvalidTransfer)
	}
	if err := d.Metadata.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidTransfer, err)
	}
	return nil
}
