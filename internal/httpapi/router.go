// Package httpapi wires the HTTP surface of the transfer service.
// It keeps handlers thin, delegating business rules to the service layer.
package httpapi

import (
	"log/slog"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tinoosan/transfer/internal/metrics"
	"github.com/tinoosan/transfer/internal/service/account"
	"github.com/tinoosan/transfer/internal/service/transfer"
)

// Server wires handlers and middleware using Chi.
type Server struct {
	accountSvc  account.Service
	transferSvc transfer.Service
	entryReader EntryReader
	metrics     *metrics.Collector
	log         *slog.Logger
	rt          *chi.Mux
}

// New constructs the HTTP server with routes and middleware. collector may be nil,
// in which case /metrics is not served.
func New(accounts account.Service, transfers transfer.Service, entries EntryReader, collector *metrics.Collector, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))
	if collector != nil {
		r.Use(collector.Middleware)
	}

	s := &Server{
		accountSvc:  accounts,
		transferSvc: transfers,
		entryReader: entries,
		metrics:     collector,
		rt:          r,
		log:         logger,
	}
	s.routes()
	return s
}

// Handler exposes the configured http.Handler.
func (s *Server) Handler() http.Handler { return s.rt }

// routes declares the public HTTP API endpoints and attaches any per-route middleware.
func (s *Server) routes() {
	// Accounts
	s.rt.With(s.validatePostAccount()).Post("/v1/accounts", s.postAccount)
	s.rt.Get("/v1/accounts", s.listAccounts)
	s.rt.With(s.accountIDParam()).Get("/v1/accounts/{id}", s.getAccount)
	s.rt.With(s.accountIDParam()).Get("/v1/accounts/{id}/ledger", s.getAccountLedger)
	s.rt.With(s.accountIDParam(), s.validatePostDeposit()).Post("/v1/accounts/{id}/deposits", s.postDeposit)
	// Transfers
	s.rt.With(s.validatePostTransfer(false)).Post("/v1/transfers", s.postTransfer)
	s.rt.With(s.accountIDParam(), s.validatePostTransfer(true)).Post("/v1/accounts/{id}/transfers", s.postTransfer)
	s.rt.Get("/v1/transfers/{key}", s.getTransfer)
	// Dictionary
	s.rt.Get("/v1/dictionary/currencies", s.getCurrencies)
	// Ops (unversioned)
	s.rt.Get("/healthz", s.healthz)
	s.rt.Get("/readyz", s.readyz)
	if s.metrics != nil {
		s.rt.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
}
