package core

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kiraleos/patient-portal/internal/store"
)

type historySource interface {
	HistoryEntries(ctx context.Context, conversationID, beforeQueryID int64) ([]store.HistoryEntry, error)
}

// HistoryAssembler renders prior Q/A pairs of a conversation as provider
// context.
type HistoryAssembler struct {
	source historySource
	log    zerolog.Logger
}

func NewHistoryAssembler(source historySource, log zerolog.Logger) *HistoryAssembler {
	return &HistoryAssembler{
		source: source,
		log:    log.With().Str("component", "history").Logger(),
	}
}

// Build returns every query of the conversation older than beforeQueryID
// (all of them when it is zero) with its effective answer. Retrieval errors
// yield an empty history rather than failing the caller.
func (h *HistoryAssembler) Build(ctx context.Context, conversationID, beforeQueryID int64) string {
	entries, err := h.source.HistoryEntries(ctx, conversationID, beforeQueryID)
	if err != nil {
		h.log.Warn().Err(err).Int64("conversation_id", conversationID).Msg("error fetching conversation history, continuing without it")
		return ""
	}
	return FormatHistory(entries)
}

func FormatHistory(entries []store.HistoryEntry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString("Patient: ")
		b.WriteString(e.Question)
		b.WriteString("\nResponse: ")
		if e.Answer != nil {
			b.WriteString(*e.Answer)
		}
		b.WriteString("\n")
	}
	return b.String()
}
