package httpapi

import (
	"context"
	"net/http"
	"time"
)

const readyTimeout = 800 * time.Millisecond

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// If the underlying store implements ReadyChecker, call it with a short timeout
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if rc, ok := s.entryReader.(ReadyChecker); ok {
		if err := rc.Ready(ctx); err != nil {
			s.log.Warn("readiness check failed", "err", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}
