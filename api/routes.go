package api

import (
	"github.com/gorilla/mux"

	"github.com/garnizeh/taskgate/internal/config"
	"github.com/garnizeh/taskgate/internal/lifecycle"
	"github.com/garnizeh/taskgate/internal/metrics"
	"github.com/garnizeh/taskgate/internal/rules"
)

// Services are the engine components the HTTP layer exposes.
type Services struct {
	DB      Pinger
	Machine *lifecycle.Machine
	Rules   *rules.Store
	Metrics *metrics.Aggregator
}

func SetupRoutes(cfg *config.Config, version, buildTime string, s Services) *mux.Router {
	r := mux.NewRouter()

	// Middleware chain
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(CORSMiddleware)
	r.Use(RecoveryMiddleware)

	// Create handlers
	systemHandler := &SystemHandler{DB: s.DB}
	rulesHandler := NewRulesHandler(s.Rules)
	tasksHandler := NewTasksHandler(s.Machine)
	metricsHandler := NewMetricsHandler(s.Metrics)

	// Open endpoints
	r.HandleFunc("/version", systemHandler.VersionHandler(version, buildTime)).Methods("GET")
	r.HandleFunc("/health", systemHandler.HealthHandler).Methods("GET")

	// API v1 Protected routes
	apiV1 := r.PathPrefix("/v1").Subrouter()
	apiV1.Use(JWTAuthMiddlewareWithSecret(cfg.JWTSecret))

	// Rules
	apiV1.HandleFunc("/rules/{categoryId}", rulesHandler.GetRules).Methods("GET")
	apiV1.HandleFunc("/rules/{categoryId}", rulesHandler.PutRule).Methods("PUT")

	// Tasks
	apiV1.HandleFunc("/tasks", tasksHandler.CreateTask).Methods("POST")
	apiV1.HandleFunc("/tasks/{id:[0-9]+}", tasksHandler.GetTask).Methods("GET")
	apiV1.HandleFunc("/tasks/{id:[0-9]+}/claim", tasksHandler.Claim).Methods("POST")
	apiV1.HandleFunc("/tasks/{id:[0-9]+}/release", tasksHandler.Release).Methods("POST")
	apiV1.HandleFunc("/tasks/{id:[0-9]+}/submit", tasksHandler.Submit).Methods("POST")
	apiV1.HandleFunc("/tasks/{id:[0-9]+}/approve", tasksHandler.Approve).Methods("PATCH")
	apiV1.HandleFunc("/tasks/{id:[0-9]+}/reject", tasksHandler.Reject).Methods("PATCH")
	apiV1.HandleFunc("/tasks/{id:[0-9]+}/flag", tasksHandler.Flag).Methods("PATCH")
	apiV1.HandleFunc("/tasks/{id:[0-9]+}/reopen", tasksHandler.Reopen).Methods("POST")

	// Actions
	apiV1.HandleFunc("/actions/{id:[0-9]+}/approve", tasksHandler.ApproveAction).Methods("PATCH")
	apiV1.HandleFunc("/actions/{id:[0-9]+}/reject", tasksHandler.RejectAction).Methods("PATCH")

	// Admission preview
	apiV1.HandleFunc("/admission", tasksHandler.CheckAdmission).Methods("GET")

	// Metrics and flags
	apiV1.HandleFunc("/metrics/users/{id:[0-9]+}", metricsHandler.UserMetrics).Methods("GET")
	apiV1.HandleFunc("/flags", metricsHandler.ListFlags).Methods("GET")
	apiV1.HandleFunc("/flags/{id:[0-9]+}/resolve", metricsHandler.ResolveFlag).Methods("POST")

	return r
}
