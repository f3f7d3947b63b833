package httpapi

import (
	"context"
	"net/http"
	"strings"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tinoosan/transfer/internal/ledger"
	"github.com/tinoosan/transfer/internal/meta"
)

type ctxKey string

const (
	ctxKeyAccountID    ctxKey = "accountID"
	ctxKeyPostAccount  ctxKey = "validatedPostAccount"
	ctxKeyPostTransfer ctxKey = "validatedPostTransfer"
	ctxKeyPostDeposit  ctxKey = "validatedPostDeposit"
)

// idempotencyHeader may carry the key instead of the request body.
const idempotencyHeader = "Idempotency-Key"

// accountIDParam parses the {id} path parameter and stores it in the context.
func (s *Server) accountIDParam() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := uuid.Parse(chi.URLParam(r, "id"))
			if err != nil {
				badRequest(w, "invalid account id")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyAccountID, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func accountIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxKeyAccountID).(uuid.UUID)
	return id, ok
}

// validatePostAccount parses and validates POST /accounts body.
func (s *Server) validatePostAccount() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !requireJSON(w, r) {
				return
			}
			var req postAccountRequest
			if err := decodeJSON(r, &req); err != nil {
				badRequest(w, "invalid JSON: "+err.Error())
				return
			}
			in := ledger.Account{Name: req.Name, Currency: req.Currency}
			if err := s.accountSvc.ValidateCreate(in); err != nil {
				s.writeServiceErr(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPostAccount, in)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validatePostTransfer decodes a transfer request. With fromPath set, the source
// account comes from the {id} path parameter and the body may omit it.
// Business validation stays in the engine so replays are never re-validated.
func (s *Server) validatePostTransfer(fromPath bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !requireJSON(w, r) {
				return
			}
			var req postTransferRequest
			if err := decodeJSON(r, &req); err != nil {
				badRequest(w, "invalid JSON: "+err.Error())
				return
			}
			if fromPath {
				id, _ := accountIDFrom(r.Context())
				if req.SourceAccountID != uuid.Nil && req.SourceAccountID != id {
					badRequest(w, "source_account_id does not match the path")
					return
				}
				req.SourceAccountID = id
			}
			key, ok := idempotencyKey(w, r, req.IdempotencyKey)
			if !ok {
				return
			}
			t := ledger.Transfer{
				IdempotencyKey:       key,
				SourceAccountID:      req.SourceAccountID,
				DestinationAccountID: req.DestinationAccountID,
				Amount:               req.AmountMinor,
				Metadata:             meta.New(req.Metadata),
			}
			ctx := context.WithValue(r.Context(), ctxKeyPostTransfer, t)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validatePostDeposit decodes POST /accounts/{id}/deposits.
func (s *Server) validatePostDeposit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !requireJSON(w, r) {
				return
			}
			var req postDepositRequest
			if err := decodeJSON(r, &req); err != nil {
				badRequest(w, "invalid JSON: "+err.Error())
				return
			}
			key, ok := idempotencyKey(w, r, req.IdempotencyKey)
			if !ok {
				return
			}
			id, _ := accountIDFrom(r.Context())
			d := ledger.Deposit{
				IdempotencyKey: key,
				AccountID:      id,
				Amount:         req.AmountMinor,
				Metadata:       meta.New(req.Metadata),
			}
			ctx := context.WithValue(r.Context(), ctxKeyPostDeposit, d)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// idempotencyKey reconciles the body key with the Idempotency-Key header.
// Either may be used; when both are present they must agree.
func idempotencyKey(w http.ResponseWriter, r *http.Request, fromBody string) (string, bool) {
	fromBody = strings.TrimSpace(fromBody)
	fromHeader := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	switch {
	case fromBody != "" && fromHeader != "" && fromBody != fromHeader:
		badRequest(w, "idempotency_key and Idempotency-Key header differ")
		return "", false
	case fromBody == "" && fromHeader == "":
		badRequest(w, "idempotency key is required")
		return "", false
	case fromBody != "":
		return fromBody, true
	}
	return fromHeader, true
}
