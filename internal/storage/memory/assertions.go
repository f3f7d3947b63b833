package memory

import (
	"github.com/tinoosan/transfer/internal/service/account"
	"github.com/tinoosan/transfer/internal/service/transfer"
)

// Compile-time interface assertions documenting which interfaces Store satisfies.
var (
	_ transfer.Store             = (*Store)(nil)
	_ transfer.Tx                = (*Tx)(nil)
	_ transfer.AccountRepository = (*Tx)(nil)
	_ transfer.LedgerStore       = (*Tx)(nil)
	_ account.Repo               = (*Store)(nil)
	_ account.Writer             = (*Store)(nil)
)
