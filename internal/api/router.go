package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(apiHandler.log))
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Get("/health", apiHandler.HealthHandler)

	// Patient routes
	r.Get("/conversations/{patientID}", apiHandler.ListConversationsHandler)
	r.Get("/conversation/{conversationID}", apiHandler.GetConversationHandler)
	r.Post("/conversations", apiHandler.CreateConversationHandler)
	r.Post("/conversations/{conversationID}/queries", apiHandler.AppendQueryHandler)

	// Clinician routes
	r.Get("/pending-reviews", apiHandler.PendingReviewsHandler)
	r.Get("/pending-conversations", apiHandler.PendingConversationsHandler)
	r.Put("/responses/edit/{responseID}", apiHandler.EditResponseHandler)
	r.Put("/responses/verify/{responseID}", apiHandler.VerifyResponseHandler)

	// Admin repair jobs
	r.Patch("/fix-empty-responses", apiHandler.FixEmptyResponsesHandler)
	r.Post("/fix-missing-responses", apiHandler.FixMissingResponsesHandler)

	return r
}
