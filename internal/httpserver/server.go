package httpserver

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bulkmsg/internal/observability"
)

type Server struct {
	Mux *mux.Router
}

// New returns a router with /metrics already mounted.
func New() *Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return &Server{Mux: r}
}

// Handler wraps the router with request metrics and access logging.
func (s *Server) Handler() http.Handler {
	s.Mux.Use(Metrics(observability.APIRequests))
	return Logging(s.Mux)
}
