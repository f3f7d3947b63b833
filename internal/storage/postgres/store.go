// Package postgres provides a pgx-backed storage implementation of the account
// repository and ledger store. Every engine attempt runs inside one database
// transaction; the schema lives in migrations/ and is applied by Migrate.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tinoosan/transfer/internal/errs"
	"github.com/tinoosan/transfer/internal/ledger"
	"github.com/tinoosan/transfer/internal/meta"
	"github.com/tinoosan/transfer/internal/service/transfer"
)

// Store holds a pgx connection pool. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Open establishes a pgx pool using the provided connection string.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ready pings the pool to verify connectivity.
func (s *Store) Ready(ctx context.Context) error { return s.pool.Ping(ctx) }

// --- Accounts ---

const accountColumns = `id, name, currency, balance, version, created_at`

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var a ledger.Account
	err := row.Scan(&a.ID, &a.Name, &a.Currency, &a.Balance, &a.Version, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, errs.ErrAccountNotFound
	}
	if err != nil {
		return ledger.Account{}, mapErr(err)
	}
	return a, nil
}

func getAccount(ctx context.Context, q querier, id uuid.UUID) (ledger.Account, error) {
	return scanAccount(q.QueryRow(ctx, `select `+accountColumns+` from accounts where id = $1`, id))
}

func insertAccount(ctx context.Context, q querier, a ledger.Account) error {
	_, err := q.Exec(ctx, `
        insert into accounts (id, name, currency, balance, version, created_at)
        values ($1, $2, $3, $4, $5, $6)
    `, a.ID, a.Name, strings.ToUpper(a.Currency), a.Balance, a.Version, a.CreatedAt)
	if err = mapErr(err); errors.Is(err, errs.ErrDuplicateKey) {
		return errs.ErrConflict
	}
	return err
}

func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	if err := insertAccount(ctx, s.pool, a); err != nil {
		return ledger.Account{}, err
	}
	return a, nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	return getAccount(ctx, s.pool, id)
}

// ListAccounts returns all accounts ordered by creation time.
func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := s.pool.Query(ctx, `select `+accountColumns+` from accounts order by created_at, id`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]ledger.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, mapErr(rows.Err())
}

// --- Ledger ---

const entryColumns = `id, kind, idempotency_key, source_account_id, destination_account_id, amount, currency,
    source_version, destination_version, source_balance, destination_balance, outcome, reason, metadata, created_at`

func scanEntry(row pgx.Row) (ledger.Entry, error) {
	var (
		e       ledger.Entry
		src     *uuid.UUID
		mdBytes []byte
	)
	err := row.Scan(&e.ID, &e.Kind, &e.IdempotencyKey, &src, &e.DestinationAccountID, &e.Amount, &e.Currency,
		&e.SourceVersion, &e.DestinationVersion, &e.SourceBalance, &e.DestinationBalance,
		&e.Outcome, &e.Reason, &mdBytes, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Entry{}, errs.ErrNotFound
	}
	if err != nil {
		return ledger.Entry{}, mapErr(err)
	}
	if src != nil {
		e.SourceAccountID = *src
	}
	e.Metadata = meta.Metadata{}
	if len(mdBytes) > 0 {
		if err := e.Metadata.UnmarshalJSON(mdBytes); err != nil {
			return ledger.Entry{}, fmt.Errorf("%w: entry %s metadata: %w", errs.ErrStorage, e.ID, err)
		}
	}
	return e, nil
}

func findByKey(ctx context.Context, q querier, key string) (ledger.Entry, error) {
	return scanEntry(q.QueryRow(ctx, `select `+entryColumns+` from ledger where idempotency_key = $1`, key))
}

// insertEntry returns errs.ErrDuplicateKey when the key already exists. The
// unique violation is caught with ON CONFLICT so the surrounding transaction
// stays usable.
func insertEntry(ctx context.Context, q querier, e ledger.Entry) error {
	md, err := e.Metadata.MarshalJSON()
	if err != nil {
		return err
	}
	var src *uuid.UUID
	if e.SourceAccountID != uuid.Nil {
		src = &e.SourceAccountID
	}
	ct, err := q.Exec(ctx, `
        insert into ledger (id, kind, idempotency_key, source_account_id, destination_account_id, amount, currency,
            source_version, destination_version, source_balance, destination_balance, outcome, reason, metadata, created_at)
        values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
        on conflict (idempotency_key) do nothing
    `, e.ID, string(e.Kind), e.IdempotencyKey, src, e.DestinationAccountID, e.Amount, e.Currency,
		e.SourceVersion, e.DestinationVersion, e.SourceBalance, e.DestinationBalance,
		string(e.Outcome), string(e.Reason), md, e.CreatedAt)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return errs.ErrDuplicateKey
	}
	return nil
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (ledger.Entry, error) {
	return findByKey(ctx, s.pool, key)
}

// ListEntries returns entries touching accountID in insertion order.
func (s *Store) ListEntries(ctx context.Context, accountID uuid.UUID) ([]ledger.Entry, error) {
	if _, err := getAccount(ctx, s.pool, accountID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
        select `+entryColumns+`
        from ledger
        where source_account_id = $1 or destination_account_id = $1
        order by seq asc
    `, accountID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]ledger.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, mapErr(rows.Err())
}

// --- Transactions ---

// BeginTx opens a read-committed transaction. Row locks and the version
// predicate on UPDATE provide the isolation the engine needs.
func (s *Store) BeginTx(ctx context.Context) (transfer.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	return &Tx{tx: tx}, nil
}

// Tx wraps a pgx.Tx.
type Tx struct{ tx pgx.Tx }

// LockAccount takes the row lock until the transaction ends.
func (t *Tx) LockAccount(ctx context.Context, id uuid.UUID) error {
	var got uuid.UUID
	err := t.tx.QueryRow(ctx, `select id from accounts where id = $1 for update`, id).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrAccountNotFound
	}
	return mapErr(err)
}

func (t *Tx) GetAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	return getAccount(ctx, t.tx, id)
}

// CompareAndSwap updates the row only while its version still matches.
func (t *Tx) CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion, newBalance int64) (int64, error) {
	if newBalance < 0 {
		return 0, errs.ErrInsufficientFunds
	}
	var version int64
	err := t.tx.QueryRow(ctx, `
        update accounts
        set balance = $1, version = version + 1
        where id = $2 and version = $3
        returning version
    `, newBalance, id, expectedVersion).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, mapErr(err)
	}
	// No row matched: either the account is gone or the version moved on.
	if _, err := getAccount(ctx, t.tx, id); err != nil {
		return 0, err
	}
	return 0, errs.ErrVersionConflict
}

func (t *Tx) FindByIdempotencyKey(ctx context.Context, key string) (ledger.Entry, error) {
	return findByKey(ctx, t.tx, key)
}

func (t *Tx) AppendEntry(ctx context.Context, e ledger.Entry) error {
	return insertEntry(ctx, t.tx, e)
}

func (t *Tx) Commit(ctx context.Context) error { return mapErr(t.tx.Commit(ctx)) }

// Rollback ignores pgx.ErrTxClosed so it is safe after Commit.
func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return mapErr(err)
}

// mapErr translates Postgres SQLSTATEs into the errs taxonomy.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", errs.ErrDuplicateKey, pgErr.ConstraintName)
		case "23514": // check_violation
			return fmt.Errorf("%w: %s", errs.ErrInsufficientFunds, pgErr.ConstraintName)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", errs.ErrVersionConflict, pgErr.Message)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", errs.ErrStorage, err)
}
