// Package memory provides an in-process transactional store used for development
// and tests. Writes are staged per transaction and validated against account
// versions at commit, so it honours the same contracts as the Postgres backend.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/tinoosan/transfer/internal/errs"
	"github.com/tinoosan/transfer/internal/ledger"
	"github.com/tinoosan/transfer/internal/service/transfer"
)

// Store is guarded by an RWMutex for committed state. Each account also owns a
// one-slot semaphore used by Tx.LockAccount.
type Store struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]ledger.Account
	locks    map[uuid.UUID]chan struct{}
	entries  map[string]ledger.Entry
	// order holds idempotency keys in commit order.
	order []string
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		accounts: make(map[uuid.UUID]ledger.Account),
		locks:    make(map[uuid.UUID]chan struct{}),
		entries:  make(map[string]ledger.Entry),
	}
}

// Seed helpers for local dev/tests.
func (s *Store) SeedAccount(a ledger.Account) {
	s.mu.Lock()
	s.accounts[a.ID] = a
	if _, ok := s.locks[a.ID]; !ok {
		s.locks[a.ID] = make(chan struct{}, 1)
	}
	s.mu.Unlock()
}

func (s *Store) Reset() {
	s.mu.Lock()
	s.accounts = map[uuid.UUID]ledger.Account{}
	s.locks = map[uuid.UUID]chan struct{}{}
	s.entries = map[string]ledger.Entry{}
	s.order = nil
	s.mu.Unlock()
}

// Ready always succeeds.
func (s *Store) Ready(context.Context) error { return nil }

// CreateAccount stores a new account. An existing id is a conflict.
func (s *Store) CreateAccount(_ context.Context, a ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; ok {
		return ledger.Account{}, errs.ErrConflict
	}
	s.accounts[a.ID] = a
	s.locks[a.ID] = make(chan struct{}, 1)
	return a, nil
}

func (s *Store) GetAccount(_ context.Context, id uuid.UUID) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return ledger.Account{}, errs.ErrAccountNotFound
	}
	return a, nil
}

// ListAccounts returns all accounts ordered by creation time, then id.
func (s *Store) ListAccounts(context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	out := make([]ledger.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b ledger.Account) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return ledger.CompareIDs(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) FindByIdempotencyKey(_ context.Context, key string) (ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return ledger.Entry{}, errs.ErrNotFound
	}
	return e, nil
}

// ListEntries returns entries touching accountID in commit order.
func (s *Store) ListEntries(_ context.Context, accountID uuid.UUID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[accountID]; !ok {
		return nil, errs.ErrAccountNotFound
	}
	out := []ledger.Entry{}
	for _, k := range s.order {
		if e := s.entries[k]; e.Touches(accountID) {
			out = append(out, e)
		}
	}
	return out, nil
}

// BeginTx starts a transaction. It never fails.
func (s *Store) BeginTx(context.Context) (transfer.Tx, error) {
	return &Tx{
		s:      s,
		writes: make(map[uuid.UUID]stagedWrite),
		held:   make(map[uuid.UUID]chan struct{}),
	}, nil
}

type stagedWrite struct {
	// base is the committed version the first CAS in this tx was checked against.
	base    int64
	version int64
	balance int64
}

// Tx stages writes until Commit. A Tx must not be shared between goroutines.
type Tx struct {
	s       *Store
	writes  map[uuid.UUID]stagedWrite
	entries []ledger.Entry
	held    map[uuid.UUID]chan struct{}
	done    bool
}

// LockAccount blocks until the account's semaphore is free or ctx is done.
// Locking an account twice in the same tx is a no-op.
func (tx *Tx) LockAccount(ctx context.Context, id uuid.UUID) error {
	if tx.done {
		return errs.ErrStorage
	}
	if _, ok := tx.held[id]; ok {
		return nil
	}
	tx.s.mu.RLock()
	ch, ok := tx.s.locks[id]
	tx.s.mu.RUnlock()
	if !ok {
		return errs.ErrAccountNotFound
	}
	select {
	case ch <- struct{}{}:
		tx.held[id] = ch
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetAccount returns the account as seen by this tx, staged writes included.
func (tx *Tx) GetAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	a, err := tx.s.GetAccount(ctx, id)
	if err != nil {
		return ledger.Account{}, err
	}
	if w, ok := tx.writes[id]; ok {
		a.Version, a.Balance = w.version, w.balance
	}
	return a, nil
}

func (tx *Tx) CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion, newBalance int64) (int64, error) {
	if tx.done {
		return 0, errs.ErrStorage
	}
	cur, err := tx.GetAccount(ctx, id)
	if err != nil {
		return 0, err
	}
	if cur.Version != expectedVersion {
		return 0, errs.ErrVersionConflict
	}
	if newBalance < 0 {
		return 0, errs.ErrInsufficientFunds
	}
	w, ok := tx.writes[id]
	if !ok {
		w.base = expectedVersion
	}
	w.version = expectedVersion + 1
	w.balance = newBalance
	tx.writes[id] = w
	return w.version, nil
}

func (tx *Tx) FindByIdempotencyKey(ctx context.Context, key string) (ledger.Entry, error) {
	for _, e := range tx.entries {
		if e.IdempotencyKey == key {
			return e, nil
		}
	}
	return tx.s.FindByIdempotencyKey(ctx, key)
}

func (tx *Tx) AppendEntry(ctx context.Context, e ledger.Entry) error {
	if tx.done {
		return errs.ErrStorage
	}
	if _, err := tx.FindByIdempotencyKey(ctx, e.IdempotencyKey); err == nil {
		return errs.ErrDuplicateKey
	}
	tx.entries = append(tx.entries, e)
	return nil
}

// Commit validates every staged write against the committed versions and the
// ledger's key uniqueness, then applies all of them or none.
func (tx *Tx) Commit(context.Context) error {
	if tx.done {
		return errs.ErrStorage
	}
	defer tx.finish()

	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range tx.writes {
		a, ok := s.accounts[id]
		if !ok {
			return errs.ErrAccountNotFound
		}
		if a.Version != w.base {
			return errs.ErrVersionConflict
		}
	}
	for _, e := range tx.entries {
		if _, ok := s.entries[e.IdempotencyKey]; ok {
			return errs.ErrDuplicateKey
		}
	}
	for id, w := range tx.writes {
		a := s.accounts[id]
		a.Version, a.Balance = w.version, w.balance
		s.accounts[id] = a
	}
	for _, e := range tx.entries {
		s.entries[e.IdempotencyKey] = e
		s.order = append(s.order, e.IdempotencyKey)
	}
	return nil
}

func (tx *Tx) Rollback(context.Context) error {
	if tx.done {
		return nil
	}
	tx.finish()
	return nil
}

func (tx *Tx) finish() {
	tx.done = true
	tx.writes = nil
	tx.entries = nil
	for id, ch := range tx.held {
		<-ch
		delete(tx.held, id)
	}
}
