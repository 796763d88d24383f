// Package httpapi is the HTTP surface in front of the dispatcher:
// /holdings/{user}, /summary/{user}, /metrics, /graphql (spec.md §6).
// Internals of this boundary are explicitly out of scope for the
// aggregation engine itself (spec.md §1) but still need an idiomatic
// home, grounded on github.com/gorilla/mux route registration as seen
// across the retrieved pack's HTTP services.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/geth/log"

	"github.com/luxfi/aggregator/internal/dispatch"
	"github.com/luxfi/aggregator/internal/domain"
	"github.com/luxfi/aggregator/internal/engineerr"
	"github.com/luxfi/aggregator/internal/graphqlapi"
)

// Server wraps the mux.Router and its dispatcher dependency.
type Server struct {
	router *mux.Router
	disp   *dispatch.Dispatcher
}

// New builds the router and registers every route.
func New(disp *dispatch.Dispatcher) *Server {
	s := &Server{router: mux.NewRouter(), disp: disp}

	s.router.HandleFunc("/holdings/{user}", s.handleHoldings).Methods(http.MethodGet)
	s.router.HandleFunc("/summary/{user}", s.handleSummary).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/pools", s.handlePools).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(disp.Metrics.Gatherer(), promhttp.HandlerOpts{}))
	s.router.HandleFunc("/graphql", graphqlapi.Handler(disp)).Methods(http.MethodPost)
	s.router.NotFoundHandler = http.HandlerFunc(notFound)

	s.router.Use(loggingMiddleware)

	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	user, err := parseUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	holdings, err := s.disp.GetHoldings(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, holdings)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	user, err := parseUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	totals, err := s.disp.GetSummary(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": s.disp.HealthCheck()})
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.disp.PoolsGraphQL())
}

func parseUser(r *http.Request) (domain.UserID, error) {
	raw := mux.Vars(r)["user"]
	return domain.ParseUserID(raw)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if kind, ok := engineerr.KindOf(err); ok {
		switch kind {
		case engineerr.KindInsufficient:
			status = http.StatusPaymentRequired
		case engineerr.KindUnauthorized, engineerr.KindDenied:
			status = http.StatusForbidden
		case engineerr.KindCooldown, engineerr.KindRateLimit, engineerr.KindInProgress:
			status = http.StatusTooManyRequests
		case engineerr.KindInvalidConfig, engineerr.KindDecimalParse:
			status = http.StatusBadRequest
		case engineerr.KindNotFound:
			status = http.StatusNotFound
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debug("http request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
