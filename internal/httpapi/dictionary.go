package httpapi

import (
	"net/http"

	"github.com/tinoosan/transfer/internal/dictionary"
)

// GET /v1/dictionary/currencies
func (s *Server) getCurrencies(w http.ResponseWriter, r *http.Request) {
	out := struct {
		Items []dictionary.CurrencyDef `json:"items"`
	}{Items: dictionary.Currencies()}
	toJSON(w, http.StatusOK, out)
}
