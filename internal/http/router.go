// Package http serves the exporter's HTTP surface: /metrics, /health and /status.
package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// NewRouter wires the exposition routes and middleware. metrics serves /metrics.
func NewRouter(h *Handler, metrics http.Handler, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.Handle("/metrics", metrics).Methods(http.MethodGet)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", h.GetStatus).Methods(http.MethodGet)
	router.NotFoundHandler = http.HandlerFunc(h.NotFound)
	return router
}
