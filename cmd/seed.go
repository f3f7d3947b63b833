package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/transfer/internal/ledger"
	"github.com/tinoosan/transfer/internal/meta"
	"github.com/tinoosan/transfer/internal/service/account"
	"github.com/tinoosan/transfer/internal/service/transfer"
)

// devFunding is the opening balance, in minor units, of the first dev account.
const devFunding int64 = 100000

// seedDev opens Alice and Bob and funds Alice through the engine, so the
// opening balance is an ordinary deposit in her ledger.
func seedDev(ctx context.Context, w account.Writer, engine transfer.Service, funding int64) ([]ledger.Account, error) {
	now := time.Now().UTC()
	accs := make([]ledger.Account, 0, 2)
	for _, name := range []string{"Alice", "Bob"} {
		a, err := w.CreateAccount(ctx, ledger.Account{ID: uuid.New(), Name: name, Currency: "GBP", CreatedAt: now})
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
		accs = append(accs, a)
	}
	if funding <= 0 {
		return accs, nil
	}
	res, err := engine.Deposit(ctx, ledger.Deposit{
		IdempotencyKey: "seed-" + accs[0].ID.String(),
		AccountID:      accs[0].ID,
		Amount:         funding,
		Metadata:       meta.New(map[string]string{"source": "dev_seed"}),
	})
	if err != nil {
		return nil, fmt.Errorf("fund %s: %w", accs[0].Name, err)
	}
	accs[0].Balance = res.DestinationBalance
	accs[0].Version = res.Entry.DestinationVersion
	return accs, nil
}

func backendName(inMemory bool) string {
	if inMemory {
		return "memory"
	}
	return "postgres"
}

// logDevSeed emits structured logs with useful IDs
func logDevSeed(l *slog.Logger, backend string, accs []ledger.Account) {
	ids := map[string]string{}
	for _, a := range accs {
		ids[a.Name] = a.ID.String()
	}
	l.Info("DEV seed ("+backend+")", "accounts", ids)
}

// printDevSeedBanner prints a simple banner to stdout for easy copy/paste of IDs
func printDevSeedBanner(accs []ledger.Account) {
	fmt.Println("==================== DEV SEED ====================")
	for _, a := range accs {
		fmt.Printf("%-6s %s  %s %d\n", a.Name, a.ID.String(), a.Currency, a.Balance)
	}
	fmt.Println("==================================================")
}
