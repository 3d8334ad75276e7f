package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kiraleos/patient-portal/internal/store"
)

type WorkflowService struct {
	dbStore    *store.SQLiteStore
	history    *HistoryAssembler
	dispatcher *Dispatcher
	log        zerolog.Logger
}

func NewWorkflowService(db *store.SQLiteStore, history *HistoryAssembler, dispatcher *Dispatcher, log zerolog.Logger) *WorkflowService {
	return &WorkflowService{
		dbStore:    db,
		history:    history,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "workflow").Logger(),
	}
}

// CreateConversation stores a new conversation with its first query and
// drafts the first response. When the draft fails the conversation and query
// remain and the error wraps ErrAIUnavailable.
func (s *WorkflowService) CreateConversation(ctx context.Context, patientID int64, question string, imageURL *string) (int64, int64, error) {
	if patientID <= 0 || strings.TrimSpace(question) == "" {
		return 0, 0, validationError("Patient ID and question are required")
	}

	convID, queryID, err := s.dbStore.CreateConversationWithQuery(ctx, patientID, question, normalizeURL(imageURL))
	if err != nil {
		return 0, 0, storageError("create conversation", err)
	}
	s.log.Info().Int64("conversation_id", convID).Int64("query_id", queryID).Int64("patient_id", patientID).Msg("conversation created")

	if _, err := s.GenerateAndStoreResponse(ctx, queryID, question, derefURL(imageURL), ""); err != nil {
		return convID, queryID, err
	}
	return convID, queryID, nil
}

// AppendQuery adds a query to an existing conversation and drafts its
// response using the prior history of the conversation.
func (s *WorkflowService) AppendQuery(ctx context.Context, conversationID int64, question string, imageURL *string) (int64, error) {
	if strings.TrimSpace(question) == "" {
		return 0, validationError("Question is required")
	}

	queryID, err := s.dbStore.AppendQuery(ctx, conversationID, question, normalizeURL(imageURL))
	if err != nil {
		return 0, storageError(fmt.Sprintf("append query to conversation %d", conversationID), err)
	}
	s.log.Info().Int64("conversation_id", conversationID).Int64("query_id", queryID).Msg("query appended")

	history := s.history.Build(ctx, conversationID, queryID)
	if _, err := s.GenerateAndStoreResponse(ctx, queryID, question, derefURL(imageURL), history); err != nil {
		return queryID, err
	}
	return queryID, nil
}

// GenerateAndStoreResponse drafts an answer and stores it as unreviewed. No
// row is written when the dispatcher fails.
func (s *WorkflowService) GenerateAndStoreResponse(ctx context.Context, queryID int64, question, imageURL, history string) (int64, error) {
	text, err := s.dispatcher.Dispatch(ctx, question, imageURL, history)
	if err != nil {
		s.log.Warn().Err(err).Int64("query_id", queryID).Msg("query left without a response")
		return 0, err
	}

	responseID, err := s.dbStore.InsertResponse(ctx, queryID, text)
	if err != nil {
		return 0, storageError(fmt.Sprintf("store response for query %d", queryID), err)
	}
	s.log.Info().Int64("query_id", queryID).Int64("response_id", responseID).Msg("AI response stored")
	return responseID, nil
}

func (s *WorkflowService) ListConversations(ctx context.Context, patientID int64) ([]store.ConversationSummary, error) {
	list, err := s.dbStore.ListConversations(ctx, patientID)
	if err != nil {
		return nil, storageError("list conversations", err)
	}
	return list, nil
}

func (s *WorkflowService) GetConversationDetail(ctx context.Context, conversationID int64) ([]store.ThreadEntry, error) {
	thread, err := s.dbStore.GetConversationDetail(ctx, conversationID)
	if err != nil {
		return nil, storageError("get conversation", err)
	}
	return thread, nil
}

func (s *WorkflowService) ListPendingReviews(ctx context.Context) ([]store.PendingReview, error) {
	reviews, err := s.dbStore.ListPendingReviews(ctx)
	if err != nil {
		return nil, storageError("list pending reviews", err)
	}
	return reviews, nil
}

func (s *WorkflowService) ListPendingConversations(ctx context.Context) ([]store.PendingConversation, error) {
	pending, err := s.dbStore.ListPendingConversations(ctx)
	if err != nil {
		return nil, storageError("list pending conversations", err)
	}
	return pending, nil
}

// EditResponse records the clinician's text and marks the response reviewed.
// A nil text is a validation error; an empty one is accepted as given.
func (s *WorkflowService) EditResponse(ctx context.Context, responseID int64, clinicianResponse *string) error {
	if clinicianResponse == nil {
		return validationError("clinician_response is required")
	}
	if err := s.dbStore.EditResponse(ctx, responseID, *clinicianResponse); err != nil {
		return storageError(fmt.Sprintf("edit response %d", responseID), err)
	}
	s.log.Info().Int64("response_id", responseID).Msg("response edited")
	return nil
}

// VerifyResponse accepts the AI draft as-is. Calling it again only re-stamps
// reviewed_at.
func (s *WorkflowService) VerifyResponse(ctx context.Context, responseID int64) error {
	if err := s.dbStore.VerifyResponse(ctx, responseID); err != nil {
		return storageError(fmt.Sprintf("verify response %d", responseID), err)
	}
	s.log.Info().Int64("response_id", responseID).Msg("response verified")
	return nil
}

func normalizeURL(imageURL *string) *string {
	if imageURL == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*imageURL)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func derefURL(imageURL *string) string {
	if u := normalizeURL(imageURL); u != nil {
		return *u
	}
	return ""
}
