package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/transfer/internal/errs"
	"github.com/tinoosan/transfer/internal/ledger"
)

// LockingMode selects how the engine serializes writers on the same account.
type LockingMode string

const (
	// LockingPessimistic takes row locks in canonical order before the CAS.
	LockingPessimistic LockingMode = "pessimistic"
	// LockingOptimistic relies on CAS plus bounded retry only.
	LockingOptimistic LockingMode = "optimistic"
)

// ParseLockingMode accepts "pessimistic" and "optimistic"; empty means pessimistic.
func ParseLockingMode(s string) (LockingMode, error) {
	switch LockingMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", LockingPessimistic:
		return LockingPessimistic, nil
	case LockingOptimistic:
		return LockingOptimistic, nil
	}
	return "", fmt.Errorf("unknown locking mode %q", s)
}

// MaxKeyLen bounds idempotency keys.
const MaxKeyLen = 128

// Options tunes the engine. Zero values fall back to the defaults below.
type Options struct {
	Locking     LockingMode
	MaxAttempts int
	RetryBase   time.Duration
	RetryMax    time.Duration
	// Timeout is the per-call budget applied as a context deadline. Zero disables it.
	Timeout  time.Duration
	Logger   *slog.Logger
	Recorder Recorder
	Now      func() time.Time
}

const (
	DefaultMaxAttempts = 10
	DefaultRetryBase   = 2 * time.Millisecond
	DefaultRetryMax    = 100 * time.Millisecond
)

// Engine executes transfers and deposits. It keeps no mutable state of its own;
// all coordination happens in the Store.
type Engine struct {
	store Store
	opts  Options
	log   *slog.Logger
	rec   Recorder
}

var _ Service = (*Engine)(nil)

func New(store Store, opts Options) *Engine {
	if opts.Locking == "" {
		opts.Locking = LockingPessimistic
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = DefaultRetryBase
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = DefaultRetryMax
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	rec := opts.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Engine{store: store, opts: opts, log: log.With("component", "transfer"), rec: rec}
}

// Execute moves t.Amount from the source to the destination account exactly once
// per idempotency key. A known key returns the recorded result with Replayed set.
func (e *Engine) Execute(ctx context.Context, t ledger.Transfer) (ledger.Result, error) {
	start := time.Now()
	res, attempts, err := e.execute(ctx, t)
	e.observe(ledger.EntryKindTransfer, res, attempts, err, start)
	return res, err
}

// Deposit credits one account from outside the system under the same idempotency
// and retry protocol as Execute.
func (e *Engine) Deposit(ctx context.Context, d ledger.Deposit) (ledger.Result, error) {
	start := time.Now()
	res, attempts, err := e.deposit(ctx, d)
	e.observe(ledger.EntryKindDeposit, res, attempts, err, start)
	return res, err
}

// Lookup returns the recorded outcome for key or errs.ErrNotFound.
func (e *Engine) Lookup(ctx context.Context, key string) (ledger.Result, error) {
	if err := validateKey(key); err != nil {
		return ledger.Result{}, err
	}
	entry, err := e.store.FindByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return ledger.Result{}, err
		}
		return ledger.Result{}, e.classify(err)
	}
	return ledger.ResultFromEntry(entry, true), nil
}

func (e *Engine) execute(ctx context.Context, t ledger.Transfer) (ledger.Result, int, error) {
	if err := validateKey(t.IdempotencyKey); err != nil {
		return ledger.Result{}, 0, err
	}
	if res, ok, err := e.replay(ctx, t.IdempotencyKey); err != nil || ok {
		return res, 0, err
	}
	if err := validateTransfer(t); err != nil {
		return ledger.Result{}, 0, err
	}
	src, err := e.store.GetAccount(ctx, t.SourceAccountID)
	if err != nil {
		return ledger.Result{}, 0, fmt.Errorf("source account %s: %w", t.SourceAccountID, e.classify(err))
	}
	dst, err := e.store.GetAccount(ctx, t.DestinationAccountID)
	if err != nil {
		return ledger.Result{}, 0, fmt.Errorf("destination account %s: %w", t.DestinationAccountID, e.classify(err))
	}
	if src.Currency != dst.Currency {
		return ledger.Result{}, 0, fmt.Errorf("%w: currency mismatch %s -> %s", errs.ErrInvalidTransfer, src.Currency, dst.Currency)
	}

	ctx, cancel := e.withBudget(ctx)
	defer cancel()
	return e.run(ctx, ledger.EntryKindTransfer, t.IdempotencyKey, func(ctx context.Context, tx Tx) (ledger.Entry, error) {
		return e.transferUnit(ctx, tx, t)
	})
}

func (e *Engine) deposit(ctx context.Context, d ledger.Deposit) (ledger.Result, int, error) {
	if err := validateKey(d.IdempotencyKey); err != nil {
		return ledger.Result{}, 0, err
	}
	if res, ok, err := e.replay(ctx, d.IdempotencyKey); err != nil || ok {
		return res, 0, err
	}
	if err := validateDeposit(d); err != nil {
		return ledger.Result{}, 0, err
	}
	if _, err := e.store.GetAccount(ctx, d.AccountID); err != nil {
		return ledger.Result{}, 0, fmt.Errorf("account %s: %w", d.AccountID, e.classify(err))
	}

	ctx, cancel := e.withBudget(ctx)
	defer cancel()
	return e.run(ctx, ledger.EntryKindDeposit, d.IdempotencyKey, func(ctx context.Context, tx Tx) (ledger.Entry, error) {
		return e.depositUnit(ctx, tx, d)
	})
}

// transferUnit is one attempt at a transfer inside tx. Both accounts are locked,
// read and written in canonical order.
func (e *Engine) transferUnit(ctx context.Context, tx Tx, t ledger.Transfer) (ledger.Entry, error) {
	first, second := ledger.OrderAccounts(t.SourceAccountID, t.DestinationAccountID)
	if e.opts.Locking == LockingPessimistic {
		for _, id := range []uuid.UUID{first, second} {
			if err := tx.LockAccount(ctx, id); err != nil {
				return ledger.Entry{}, e.classify(err)
			}
		}
	}
	a1, err := tx.GetAccount(ctx, first)
	if err != nil {
		return ledger.Entry{}, e.classify(err)
	}
	a2, err := tx.GetAccount(ctx, second)
	if err != nil {
		return ledger.Entry{}, e.classify(err)
	}
	src, dst := a1, a2
	if first != t.SourceAccountID {
		src, dst = a2, a1
	}

	entry := ledger.Entry{
		ID:                   uuid.New(),
		Kind:                 ledger.EntryKindTransfer,
		IdempotencyKey:       t.IdempotencyKey,
		SourceAccountID:      src.ID,
		DestinationAccountID: dst.ID,
		Amount:               t.Amount,
		Currency:             src.Currency,
		Metadata:             t.Metadata.Clone(),
		CreatedAt:            e.opts.Now(),
	}

	if src.Balance < t.Amount {
		if e.opts.Locking == LockingOptimistic {
			// Without locks the two reads may straddle a commit. Versions only grow, so
			// an unchanged first account means both snapshots held while the second
			// was read.
			again, err := tx.GetAccount(ctx, first)
			if err != nil {
				return ledger.Entry{}, e.classify(err)
			}
			if again.Version != a1.Version {
				return ledger.Entry{}, errs.ErrVersionConflict
			}
		}
		entry.Outcome = ledger.OutcomeRejected
		entry.Reason = ledger.ReasonInsufficientFunds
		entry.SourceVersion, entry.SourceBalance = src.Version, src.Balance
		entry.DestinationVersion, entry.DestinationBalance = dst.Version, dst.Balance
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return ledger.Entry{}, e.classify(err)
		}
		return entry, nil
	}
	if dst.Balance > math.MaxInt64-t.Amount {
		return ledger.Entry{}, fmt.Errorf("%w: destination balance would overflow", errs.ErrInvalidTransfer)
	}

	next := map[uuid.UUID]int64{
		src.ID: src.Balance - t.Amount,
		dst.ID: dst.Balance + t.Amount,
	}
	versions := make(map[uuid.UUID]int64, 2)
	for _, acc := range []ledger.Account{a1, a2} {
		v, err := tx.CompareAndSwap(ctx, acc.ID, acc.Version, next[acc.ID])
		if err != nil {
			return ledger.Entry{}, e.classify(err)
		}
		versions[acc.ID] = v
	}

	entry.Outcome = ledger.OutcomeCommitted
	entry.SourceVersion, entry.SourceBalance = versions[src.ID], next[src.ID]
	entry.DestinationVersion, entry.DestinationBalance = versions[dst.ID], next[dst.ID]
	if err := tx.AppendEntry(ctx, entry); err != nil {
		return ledger.Entry{}, e.classify(err)
	}
	return entry, nil
}

func (e *Engine) depositUnit(ctx context.Context, tx Tx, d ledger.Deposit) (ledger.Entry, error) {
	if e.opts.Locking == LockingPessimistic {
		if err := tx.LockAccount(ctx, d.AccountID); err != nil {
			return ledger.Entry{}, e.classify(err)
		}
	}
	acc, err := tx.GetAccount(ctx, d.AccountID)
	if err != nil {
		return ledger.Entry{}, e.classify(err)
	}
	if acc.Balance > math.MaxInt64-d.Amount {
		return ledger.Entry{}, fmt.Errorf("%w: balance would overflow", errs.ErrInvalidTransfer)
	}
	balance := acc.Balance + d.Amount
	version, err := tx.CompareAndSwap(ctx, acc.ID, acc.Version, balance)
	if err != nil {
		return ledger.Entry{}, e.classify(err)
	}
	entry := ledger.Entry{
		ID:                   uuid.New(),
		Kind:                 ledger.EntryKindDeposit,
		IdempotencyKey:       d.IdempotencyKey,
		DestinationAccountID: acc.ID,
		Amount:               d.Amount,
		Currency:             acc.Currency,
		DestinationVersion:   version,
		DestinationBalance:   balance,
		Outcome:              ledger.OutcomeCommitted,
		Metadata:             d.Metadata.Clone(),
		CreatedAt:            e.opts.Now(),
	}
	if err := tx.AppendEntry(ctx, entry); err != nil {
		return ledger.Entry{}, e.classify(err)
	}
	return entry, nil
}

type unitFunc func(ctx context.Context, tx Tx) (ledger.Entry, error)

// run drives unit through the retry protocol and returns the result plus the
// number of attempts made.
func (e *Engine) run(ctx context.Context, kind ledger.EntryKind, key string, unit unitFunc) (ledger.Result, int, error) {
	var lastErr error
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		entry, err := e.attempt(ctx, unit)
		switch {
		case err == nil:
			return ledger.ResultFromEntry(entry, false), attempt, nil

		case errors.Is(err, errs.ErrDuplicateKey):
			// Another request with the same key committed first; its outcome wins.
			res, ok, rerr := e.replay(ctx, key)
			if rerr != nil {
				return ledger.Result{}, attempt, rerr
			}
			if ok {
				return res, attempt, nil
			}
			return ledger.Result{}, attempt, fmt.Errorf("%w: duplicate key %q without a recorded entry", errs.ErrStorage, key)

		case errors.Is(err, errs.ErrVersionConflict), errors.Is(err, errs.ErrInsufficientFunds):
			// A stale read; the next attempt re-reads and decides again.
			lastErr = err
			e.rec.ObserveConflict(kind)
			e.log.Debug("retrying after conflict", "kind", kind, "key", key, "attempt", attempt, "err", err)
			if attempt == e.opts.MaxAttempts {
				break
			}
			if werr := sleep(ctx, backoffDelay(e.opts.RetryBase, e.opts.RetryMax, attempt)); werr != nil {
				return ledger.Result{}, attempt, e.exhausted(kind, key, attempt, werr)
			}

		case isContextErr(err):
			return ledger.Result{}, attempt, e.exhausted(kind, key, attempt, err)

		default:
			if errors.Is(err, errs.ErrStorage) {
				e.log.Error("storage failure", "kind", kind, "key", key, "attempt", attempt, "err", err)
			}
			return ledger.Result{}, attempt, err
		}
	}
	return ledger.Result{}, e.opts.MaxAttempts, e.exhausted(kind, key, e.opts.MaxAttempts, lastErr)
}

// attempt runs unit inside a fresh transaction and commits it.
func (e *Engine) attempt(ctx context.Context, unit unitFunc) (ledger.Entry, error) {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return ledger.Entry{}, e.classify(err)
	}
	entry, err := unit(ctx, tx)
	if err != nil {
		e.rollback(ctx, tx)
		return ledger.Entry{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		e.rollback(ctx, tx)
		return ledger.Entry{}, e.classify(err)
	}
	return entry, nil
}

func (e *Engine) rollback(ctx context.Context, tx Tx) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
		e.log.Warn("rollback failed", "err", err)
	}
}

func (e *Engine) replay(ctx context.Context, key string) (ledger.Result, bool, error) {
	entry, err := e.store.FindByIdempotencyKey(ctx, key)
	if errors.Is(err, errs.ErrNotFound) {
		return ledger.Result{}, false, nil
	}
	if err != nil {
		return ledger.Result{}, false, e.classify(err)
	}
	return ledger.ResultFromEntry(entry, true), true, nil
}

func (e *Engine) withBudget(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.opts.Timeout)
}

func (e *Engine) exhausted(kind ledger.EntryKind, key string, attempts int, cause error) error {
	e.log.Warn("transfer gave up", "kind", kind, "key", key, "attempts", attempts, "cause", cause)
	if cause == nil {
		return errs.ErrConcurrencyExhausted
	}
	return fmt.Errorf("%w after %d attempts: %w", errs.ErrConcurrencyExhausted, attempts, cause)
}

// classify passes known errors through and wraps anything else as ErrStorage.
func (e *Engine) classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		errs.ErrVersionConflict,
		errs.ErrDuplicateKey,
		errs.ErrInsufficientFunds,
		errs.ErrNotFound,
		errs.ErrInvalidTransfer,
		errs.ErrStorage,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	if isContextErr(err) {
		return err
	}
	return fmt.Errorf("%w: %w", errs.ErrStorage, err)
}

func (e *Engine) observe(kind ledger.EntryKind, res ledger.Result, attempts int, err error, start time.Time) {
	e.rec.ObserveOutcome(kind, outcomeLabel(res, err), attempts, time.Since(start).Seconds())
}

func outcomeLabel(res ledger.Result, err error) string {
	switch {
	case err == nil && res.Replayed:
		return "replayed"
	case err == nil:
		return string(res.Outcome)
	case errors.Is(err, errs.ErrInvalidTransfer):
		return "invalid"
	case errors.Is(err, errs.ErrNotFound):
		return "not_found"
	case errors.Is(err, errs.ErrConcurrencyExhausted):
		return "exhausted"
	default:
		return "storage_failure"
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
