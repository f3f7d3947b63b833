// Account handlers: open, list, fetch and audit trail.

package httpapi

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/tinoosan/transfer/internal/ledger"
)

const (
	defaultLedgerLimit = 50
	maxLedgerLimit     = 200
)

func (s *Server) postAccount(w http.ResponseWriter, r *http.Request) {
	in, ok := r.Context().Value(ctxKeyPostAccount).(ledger.Account)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "validated request missing", "internal")
		return
	}
	acc, err := s.accountSvc.Create(r.Context(), in)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	s.log.Info("account opened", "account_id", acc.ID, "currency", acc.Currency)
	toJSON(w, http.StatusCreated, toAccountResponse(acc))
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	accs, err := s.accountSvc.List(r.Context())
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	out := make([]accountResponse, 0, len(accs))
	for _, a := range accs {
		out = append(out, toAccountResponse(a))
	}
	toJSON(w, http.StatusOK, out)
}

// getAccount handles GET /v1/accounts/{id}
func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	id, _ := accountIDFrom(r.Context())
	acc, err := s.accountSvc.Get(r.Context(), id)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toAccountResponse(acc))
}

// getAccountLedger handles GET /v1/accounts/{id}/ledger?limit=&cursor=
// The cursor is the opaque id of the last entry on the previous page.
func (s *Server) getAccountLedger(w http.ResponseWriter, r *http.Request) {
	id, _ := accountIDFrom(r.Context())
	acc, err := s.accountSvc.Get(r.Context(), id)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	lim := defaultLedgerLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxLedgerLimit {
			badRequest(w, "invalid limit")
			return
		}
		lim = n
	}
	entries, err := s.entryReader.ListEntries(r.Context(), id)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}

	start := 0
	if c := r.URL.Query().Get("cursor"); c != "" {
		after, err := decodeCursor(c)
		if err != nil {
			badRequest(w, "invalid cursor")
			return
		}
		start = len(entries)
		for i, e := range entries {
			if e.ID == after {
				start = i + 1
				break
			}
		}
	}
	end := min(start+lim, len(entries))

	resp := ledgerResponse{AccountID: id, Currency: acc.Currency, Items: make([]ledgerItem, 0, end-start)}
	for _, e := range entries[start:end] {
		resp.Items = append(resp.Items, toLedgerItem(id, e))
	}
	if end < len(entries) {
		c := encodeCursor(entries[end-1].ID)
		resp.NextCursor = &c
	}
	toJSON(w, http.StatusOK, resp)
}

func encodeCursor(id uuid.UUID) string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

func decodeCursor(c string) (uuid.UUID, error) {
	b, err := base64.RawURLEncoding.DecodeString(c)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.FromBytes(b)
}
