package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// NewRouter wires the handlers under /health and /api
func NewRouter(h *Handlers) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.Health).Methods("GET")

	apiRouter := router.PathPrefix("/api").Subrouter()

	// Records
	apiRouter.HandleFunc("/records", h.ListRecords).Methods("GET")
	apiRouter.HandleFunc("/records/lookup", h.GetRecord).Methods("GET")
	apiRouter.HandleFunc("/summary", h.GetSummary).Methods("GET")

	// Runs
	apiRouter.HandleFunc("/runs", h.StartRun).Methods("POST")
	apiRouter.HandleFunc("/runs/{id}", h.GetRun).Methods("GET")
	apiRouter.HandleFunc("/runs/{id}/cancel", h.CancelRun).Methods("POST")

	// WebSocket for attempt events
	apiRouter.HandleFunc("/events/stream", h.StreamEvents).Methods("GET")

	// Diagnostics
	apiRouter.HandleFunc("/snapshots/{filename}", h.ServeSnapshot).Methods("GET")

	return router
}

// WithCORS allows browser dashboards on other origins to call the API
func WithCORS(next http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(next)
}
