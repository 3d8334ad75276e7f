package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kiraleos/patient-portal/internal/store"
)

type RepairFailure struct {
	QueryID int64  `json:"query_id"`
	Error   string `json:"error"`
}

type RepairReport struct {
	RunID      string          `json:"run_id"`
	TotalFound int             `json:"total_found"`
	Processed  int             `json:"processed"`
	Failures   []RepairFailure `json:"failures,omitempty"`
}

// RepairService backfills queries that never got a usable AI draft. Items
// are processed one at a time and each fix is committed before the next
// item starts, so an interrupted run can simply be re-run.
type RepairService struct {
	dbStore    *store.SQLiteStore
	history    *HistoryAssembler
	dispatcher *Dispatcher
	log        zerolog.Logger
}

func NewRepairService(db *store.SQLiteStore, history *HistoryAssembler, dispatcher *Dispatcher, log zerolog.Logger) *RepairService {
	return &RepairService{
		dbStore:    db,
		history:    history,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "repair").Logger(),
	}
}

// RepairMissingResponses inserts a response for every query that has none.
func (s *RepairService) RepairMissingResponses(ctx context.Context) (*RepairReport, error) {
	candidates, err := s.dbStore.QueriesMissingResponse(ctx)
	if err != nil {
		return nil, storageError("scan queries without responses", err)
	}
	return s.run(ctx, "missing", candidates, func(c store.RepairCandidate, text string) error {
		_, err := s.dbStore.InsertResponse(ctx, c.QueryID, text)
		return err
	}), nil
}

// RepairEmptyResponses regenerates the AI draft of responses stored with a
// NULL or empty ai_response, updating the existing row.
func (s *RepairService) RepairEmptyResponses(ctx context.Context) (*RepairReport, error) {
	candidates, err := s.dbStore.ResponsesWithEmptyAI(ctx)
	if err != nil {
		return nil, storageError("scan empty responses", err)
	}
	return s.run(ctx, "empty", candidates, func(c store.RepairCandidate, text string) error {
		if c.ResponseID == nil {
			return fmt.Errorf("candidate has no response row")
		}
		return s.dbStore.UpdateAIResponse(ctx, *c.ResponseID, text)
	}), nil
}

func (s *RepairService) run(ctx context.Context, kind string, candidates []store.RepairCandidate, save func(store.RepairCandidate, string) error) *RepairReport {
	report := &RepairReport{
		RunID:      uuid.NewString(),
		TotalFound: len(candidates),
	}
	log := s.log.With().Str("run_id", report.RunID).Str("kind", kind).Logger()
	log.Info().Int("found", len(candidates)).Msg("repair run started")

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			report.Failures = append(report.Failures, RepairFailure{QueryID: c.QueryID, Error: err.Error()})
			continue
		}

		history := s.history.Build(ctx, c.ConversationID, c.QueryID)
		imageURL := ""
		if c.ImageURL != nil {
			imageURL = *c.ImageURL
		}

		text, err := s.dispatcher.Dispatch(ctx, c.Question, imageURL, history)
		if err != nil {
			report.Failures = append(report.Failures, RepairFailure{QueryID: c.QueryID, Error: err.Error()})
			continue
		}
		if err := save(c, text); err != nil {
			log.Warn().Err(err).Int64("query_id", c.QueryID).Msg("failed to save repaired response")
			report.Failures = append(report.Failures, RepairFailure{QueryID: c.QueryID, Error: err.Error()})
			continue
		}
		report.Processed++
		log.Debug().Int64("query_id", c.QueryID).Msg("query repaired")
	}

	log.Info().Int("processed", report.Processed).Int("failed", len(report.Failures)).Msg("repair run finished")
	return report
}
