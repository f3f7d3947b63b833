package httpapi

import (
	"github.com/tinoosan/transfer/internal/storage/memory"
	"github.com/tinoosan/transfer/internal/storage/postgres"
)

var (
	_ EntryReader  = (*memory.Store)(nil)
	_ EntryReader  = (*postgres.Store)(nil)
	_ ReadyChecker = (*memory.Store)(nil)
	_ ReadyChecker = (*postgres.Store)(nil)
)
