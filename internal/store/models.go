package store

import "time"

const (
	StatusUnreviewed = "unreviewed"
	StatusReviewed   = "reviewed"
)

type Conversation struct {
	ID        int64     `json:"id"`
	PatientID int64     `json:"patient_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Query struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	PatientID      int64     `json:"patient_id"`
	Question       string    `json:"question"`
	ImageURL       *string   `json:"image_url"` // Nullable
	CreatedAt      time.Time `json:"created_at"`
}

type Response struct {
	ID                int64      `json:"id"`
	QueryID           int64      `json:"query_id"`
	AIResponse        *string    `json:"ai_response"`
	ClinicianResponse *string    `json:"clinician_response"`
	Status            string     `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	ReviewedAt        *time.Time `json:"reviewed_at"` // Set iff status is reviewed
}

// EffectiveAnswer is the clinician override when present, else the AI draft.
func (r *Response) EffectiveAnswer() *string {
	return EffectiveAnswer(r.ClinicianResponse, r.AIResponse)
}

func EffectiveAnswer(clinician, ai *string) *string {
	if clinician != nil {
		return clinician
	}
	return ai
}

// ConversationSummary is one row of a patient's conversation list. First*
// fields are nil when the conversation has no queries yet.
type ConversationSummary struct {
	ConversationID        int64      `json:"conversation_id"`
	ConversationCreatedAt time.Time  `json:"conversation_created_at"`
	FirstQueryID          *int64     `json:"first_query_id"`
	FirstQueryQuestion    *string    `json:"first_query_question"`
	FirstQueryCreatedAt   *time.Time `json:"first_query_created_at"`
}

// ThreadEntry is a query left-joined to its response.
type ThreadEntry struct {
	QueryID           int64      `json:"query_id"`
	Question          string     `json:"question"`
	ImageURL          *string    `json:"image_url"`
	QueryCreatedAt    time.Time  `json:"query_created_at"`
	ResponseID        *int64     `json:"response_id"`
	Response          *string    `json:"response"` // Effective answer
	AIResponse        *string    `json:"ai_response"`
	ClinicianResponse *string    `json:"clinician_response"`
	Status            *string    `json:"status"`
	ResponseCreatedAt *time.Time `json:"response_created_at"`
	ReviewedAt        *time.Time `json:"reviewed_at"`
}

type PendingReview struct {
	ResponseID     int64     `json:"response_id"`
	QueryID        int64     `json:"query_id"`
	ConversationID int64     `json:"conversation_id"`
	PatientID      int64     `json:"patient_id"`
	PatientName    *string   `json:"patient_name"`
	Question       string    `json:"question"`
	AIResponse     *string   `json:"ai_response"`
	CreatedAt      time.Time `json:"created_at"`
}

type PendingConversation struct {
	ConversationID          int64     `json:"conversation_id"`
	ConversationCreatedAt   time.Time `json:"conversation_created_at"`
	EarliestUnreviewedQuery time.Time `json:"earliest_unreviewed_query"`
}

// HistoryEntry is a prior question with its effective answer.
type HistoryEntry struct {
	QueryID  int64
	Question string
	Answer   *string
}

// RepairCandidate is a query selected by one of the repair scans. ResponseID
// is set only for responses that exist but carry no AI text.
type RepairCandidate struct {
	QueryID        int64
	ConversationID int64
	Question       string
	ImageURL       *string
	ResponseID     *int64
}
