package httpapi

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"github.com/tinoosan/transfer/internal/ledger"
)

// postTransfer handles POST /v1/transfers and POST /v1/accounts/{id}/transfers.
// A new commit is 201, a replay 200 and a refusal for insufficient funds 422;
// every one of them carries the recorded transfer.
func (s *Server) postTransfer(w http.ResponseWriter, r *http.Request) {
	t, ok := r.Context().Value(ctxKeyPostTransfer).(ledger.Transfer)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "validated request missing", "internal")
		return
	}
	res, err := s.transferSvc.Execute(r.Context(), t)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	toJSON(w, resultStatus(res), toTransferResponse(res))
}

// postDeposit handles POST /v1/accounts/{id}/deposits.
func (s *Server) postDeposit(w http.ResponseWriter, r *http.Request) {
	d, ok := r.Context().Value(ctxKeyPostDeposit).(ledger.Deposit)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "validated request missing", "internal")
		return
	}
	res, err := s.transferSvc.Deposit(r.Context(), d)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	toJSON(w, resultStatus(res), toTransferResponse(res))
}

// getTransfer handles GET /v1/transfers/{key}.
func (s *Server) getTransfer(w http.ResponseWriter, r *http.Request) {
	res, err := s.transferSvc.Lookup(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toTransferResponse(res))
}

func resultStatus(res ledger.Result) int {
	switch {
	case res.Outcome == ledger.OutcomeRejected:
		return http.StatusUnprocessableEntity
	case res.Replayed:
		return http.StatusOK
	default:
		return http.StatusCreated
	}
}
