// Package account implements account opening and lookup. Balances are never
// written here; every mutation goes through the transfer engine.
package account

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tinoosan/transfer/internal/dictionary"
	"github.com/tinoosan/transfer/internal/errs"
	"github.com/tinoosan/transfer/internal/ledger"
)

// MaxNameLen bounds account display names.
const MaxNameLen = 128

type Repo interface {
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error)
}

type Writer interface {
	CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error)
}

type Service interface {
	ValidateCreate(a ledger.Account) error
	Create(ctx context.Context, a ledger.Account) (ledger.Account, error)
	Get(ctx context.Context, id uuid.UUID) (ledger.Account, error)
	List(ctx context.Context) ([]ledger.Account, error)
}

type service struct {
	repo   Repo
	writer Writer
	now    func() time.Time
}

func New(repo Repo, writer Writer) Service {
	return &service{repo: repo, writer: writer, now: func() time.Time { return time.Now().UTC() }}
}

func (s *service) ValidateCreate(a ledger.Account) error {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", errs.ErrInvalid)
	}
	if utf8.RuneCountInString(name) > MaxNameLen {
		return fmt.Errorf("%w: name longer than %d", errs.ErrInvalid, MaxNameLen)
	}
	if a.Currency == "" {
		return fmt.Errorf("%w: currency is required", errs.ErrInvalid)
	}
	if _, ok := dictionary.Normalize(a.Currency); !ok {
		return fmt.Errorf("%w: unsupported currency %q", errs.ErrInvalid, a.Currency)
	}
	if a.Balance != 0 || a.Version != 0 {
		return fmt.Errorf("%w: new accounts start with zero balance and version", errs.ErrInvalid)
	}
	return nil
}

// Create opens an account with a fresh id, zero balance and version 0.
func (s *service) Create(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	if err := s.ValidateCreate(a); err != nil {
		return ledger.Account{}, err
	}
	currency, _ := dictionary.Normalize(a.Currency)
	return s.writer.CreateAccount(ctx, ledger.Account{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(a.Name),
		Currency:  currency,
		CreatedAt: s.now(),
	})
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	if id == uuid.Nil {
		return ledger.Account{}, errs.ErrInvalid
	}
	return s.repo.GetAccount(ctx, id)
}

func (s *service) List(ctx context.Context) ([]ledger.Account, error) {
	return s.repo.ListAccounts(ctx)
}
