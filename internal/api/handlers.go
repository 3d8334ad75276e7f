package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/kiraleos/patient-portal/internal/core"
	"github.com/kiraleos/patient-portal/internal/store"
)

type APIHandler struct {
	workflow *core.WorkflowService
	repair   *core.RepairService
	log      zerolog.Logger
}

func NewAPIHandler(ws *core.WorkflowService, rs *core.RepairService, log zerolog.Logger) *APIHandler {
	return &APIHandler{
		workflow: ws,
		repair:   rs,
		log:      log.With().Str("component", "api").Logger(),
	}
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Patient routes

type listResponse[T any] struct {
	Success bool   `json:"success"`
	Data    []T    `json:"data"`
	Message string `json:"message,omitempty"`
}

func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	patientID, ok := pathID(r, "patientID")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid patient_id")
		return
	}

	conversations, err := h.workflow.ListConversations(r.Context(), patientID)
	if err != nil {
		writeServiceError(w, h.log, "list conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[store.ConversationSummary]{Success: true, Data: conversations})
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := pathID(r, "conversationID")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid conversation_id")
		return
	}

	thread, err := h.workflow.GetConversationDetail(r.Context(), conversationID)
	if err != nil {
		writeServiceError(w, h.log, "get conversation", err)
		return
	}

	resp := listResponse[store.ThreadEntry]{Success: true, Data: thread}
	if len(thread) == 0 {
		resp.Message = "No queries found for this conversation"
	}
	writeJSON(w, http.StatusOK, resp)
}

type CreateConversationRequest struct {
	PatientID *int64  `json:"patient_id"`
	Question  *string `json:"question"`
	ImageURL  *string `json:"image_url,omitempty"`
}

type CreateConversationResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ConversationID int64  `json:"conversation_id"`
	QueryID        int64  `json:"query_id"`
}

func (h *APIHandler) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.PatientID == nil || req.Question == nil {
		writeError(w, http.StatusBadRequest, "Patient ID and question are required")
		return
	}

	convID, queryID, err := h.workflow.CreateConversation(r.Context(), *req.PatientID, *req.Question, req.ImageURL)
	if err != nil {
		writeServiceError(w, h.log, "create conversation", err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateConversationResponse{
		Success:        true,
		Message:        "Conversation and query added successfully",
		ConversationID: convID,
		QueryID:        queryID,
	})
}

type AppendQueryRequest struct {
	Question *string `json:"question"`
	ImageURL *string `json:"image_url,omitempty"`
}

type AppendQueryResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	QueryID int64  `json:"query_id"`
}

func (h *APIHandler) AppendQueryHandler(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := pathID(r, "conversationID")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid conversation_id")
		return
	}

	var req AppendQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Question == nil {
		writeError(w, http.StatusBadRequest, "Question is required")
		return
	}

	queryID, err := h.workflow.AppendQuery(r.Context(), conversationID, *req.Question, req.ImageURL)
	if err != nil {
		writeServiceError(w, h.log, "append query", err)
		return
	}

	writeJSON(w, http.StatusCreated, AppendQueryResponse{
		Success: true,
		Message: "Query added successfully",
		QueryID: queryID,
	})
}

// Clinician routes

func (h *APIHandler) PendingReviewsHandler(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.workflow.ListPendingReviews(r.Context())
	if err != nil {
		writeServiceError(w, h.log, "list pending reviews", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[store.PendingReview]{Success: true, Data: reviews})
}

func (h *APIHandler) PendingConversationsHandler(w http.ResponseWriter, r *http.Request) {
	pending, err := h.workflow.ListPendingConversations(r.Context())
	if err != nil {
		writeServiceError(w, h.log, "list pending conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[store.PendingConversation]{Success: true, Data: pending})
}

type EditResponseRequest struct {
	ClinicianResponse *string `json:"clinician_response"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (h *APIHandler) EditResponseHandler(w http.ResponseWriter, r *http.Request) {
	responseID, ok := pathID(r, "responseID")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid response_id")
		return
	}

	var req EditResponseRequest
	if r.Body != http.NoBody {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}

	if err := h.workflow.EditResponse(r.Context(), responseID, req.ClinicianResponse); err != nil {
		writeServiceError(w, h.log, "edit response", err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Response updated successfully"})
}

func (h *APIHandler) VerifyResponseHandler(w http.ResponseWriter, r *http.Request) {
	responseID, ok := pathID(r, "responseID")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid response_id")
		return
	}

	if err := h.workflow.VerifyResponse(r.Context(), responseID); err != nil {
		writeServiceError(w, h.log, "verify response", err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Response verified successfully"})
}

// Admin routes

type RepairResponse struct {
	Success    bool                 `json:"success"`
	Message    string               `json:"message"`
	RunID      string               `json:"run_id"`
	Processed  int                  `json:"processed"`
	TotalFound int                  `json:"total_found"`
	Failures   []core.RepairFailure `json:"failures,omitempty"`
}

func (h *APIHandler) FixEmptyResponsesHandler(w http.ResponseWriter, r *http.Request) {
	h.runRepair(w, r, "fix empty responses", h.repair.RepairEmptyResponses,
		"No queries found with empty responses", "Updated %d responses successfully")
}

func (h *APIHandler) FixMissingResponsesHandler(w http.ResponseWriter, r *http.Request) {
	h.runRepair(w, r, "fix missing responses", h.repair.RepairMissingResponses,
		"No queries found without responses", "Processed %d queries successfully")
}

func (h *APIHandler) runRepair(w http.ResponseWriter, r *http.Request, op string,
	job func(context.Context) (*core.RepairReport, error), noneMsg, doneFmt string) {
	// A batch can run far longer than the server's write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.log.Debug().Err(err).Str("op", op).Msg("could not clear write deadline")
	}

	// A repair run finishes even if the admin client goes away.
	report, err := job(context.WithoutCancel(r.Context()))
	if err != nil {
		writeServiceError(w, h.log, op, err)
		return
	}

	msg := noneMsg
	if report.TotalFound > 0 {
		msg = fmt.Sprintf(doneFmt, report.Processed)
	}
	writeJSON(w, http.StatusOK, RepairResponse{
		Success:    true,
		Message:    msg,
		RunID:      report.RunID,
		Processed:  report.Processed,
		TotalFound: report.TotalFound,
		Failures:   report.Failures,
	})
}
