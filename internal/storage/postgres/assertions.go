package postgres

import (
	"github.com/tinoosan/transfer/internal/service/account"
	"github.com/tinoosan/transfer/internal/service/transfer"
)

var (
	_ transfer.Store = (*Store)(nil)
	_ transfer.Tx    = (*Tx)(nil)
	_ account.Repo   = (*Store)(nil)
	_ account.Writer = (*Store)(nil)
)
