package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiraleos/patient-portal/internal/core"
	"github.com/kiraleos/patient-portal/internal/store"
)

type stubProvider struct {
	answer string
	err    error
	delay  time.Duration
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Produce(ctx context.Context, _ core.Prompt) (string, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return p.answer, p.err
}

type testServer struct {
	handler http.Handler
	store   *store.SQLiteStore
	ai      *stubProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "portal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := zerolog.New(io.Discard)
	ai := &stubProvider{answer: "Drink water and rest."}
	dispatcher := core.NewDispatcher(ai, ai, core.DispatcherOptions{
		SystemPrompt: "You are a clinician.",
		Timeout:      time.Second,
		RetryDelay:   time.Millisecond,
	}, log)
	history := core.NewHistoryAssembler(db, log)
	handler := NewAPIHandler(
		core.NewWorkflowService(db, history, dispatcher, log),
		core.NewRepairService(db, history, dispatcher, log),
		log,
	)
	return &testServer{handler: NewRouter(handler), store: db, ai: ai}
}

func (s *testServer) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func (s *testServer) createConversation(t *testing.T, patientID int, question string) (int64, int64) {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"patient_id": patientID, "question": question})
	code, out := s.do(t, http.MethodPost, "/conversations", string(body))
	require.Equal(t, http.StatusCreated, code, out)
	return int64(out["conversation_id"].(float64)), int64(out["query_id"].(float64))
}

func TestHealthHandler(t *testing.T) {
	srv := newTestServer(t)
	code, out := srv.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", out["status"])
}

func TestCreateConversationHandler(t *testing.T) {
	srv := newTestServer(t)

	convID, queryID := srv.createConversation(t, 7, "I have a rash")
	assert.NotZero(t, convID)
	assert.NotZero(t, queryID)

	code, out := srv.do(t, http.MethodGet, "/conversations/7", "")
	require.Equal(t, http.StatusOK, code)
	data := out["data"].([]any)
	require.Len(t, data, 1)
	row := data[0].(map[string]any)
	assert.Equal(t, float64(convID), row["conversation_id"])
	assert.Equal(t, "I have a rash", row["first_query_question"])
}

func TestCreateConversationHandler_BadRequests(t *testing.T) {
	srv := newTestServer(t)

	cases := map[string]string{
		"malformed":        `{"patient_id":`,
		"missing patient":  `{"question":"hi"}`,
		"missing question": `{"patient_id":1}`,
		"blank question":   `{"patient_id":1,"question":"   "}`,
		"zero patient":     `{"patient_id":0,"question":"hi"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			code, out := srv.do(t, http.MethodPost, "/conversations", body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, false, out["success"])
			assert.NotEmpty(t, out["error"])
		})
	}

	_, out := srv.do(t, http.MethodGet, "/conversations/1", "")
	assert.Empty(t, out["data"])
}

func TestCreateConversationHandler_AIFailure(t *testing.T) {
	srv := newTestServer(t)
	srv.ai.err = errors.New("upstream down")

	code, out := srv.do(t, http.MethodPost, "/conversations", `{"patient_id":3,"question":"help"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "failed to get AI response", out["error"])

	// The query survives for the repair job.
	missing, err := srv.store.QueriesMissingResponse(context.Background())
	require.NoError(t, err)
	assert.Len(t, missing, 1)
}

func TestGetConversationHandler(t *testing.T) {
	srv := newTestServer(t)
	convID, _ := srv.createConversation(t, 1, "first")

	code, out := srv.do(t, http.MethodPost, "/conversations/"+itoa(convID)+"/queries", `{"question":"second"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.NotZero(t, out["query_id"])

	code, out = srv.do(t, http.MethodGet, "/conversation/"+itoa(convID), "")
	require.Equal(t, http.StatusOK, code)
	data := out["data"].([]any)
	require.Len(t, data, 2)
	assert.Equal(t, "first", data[0].(map[string]any)["question"])
	assert.Equal(t, "second", data[1].(map[string]any)["question"])
	assert.Equal(t, "Drink water and rest.", data[1].(map[string]any)["response"])
	assert.Equal(t, store.StatusUnreviewed, data[1].(map[string]any)["status"])

	code, out = srv.do(t, http.MethodGet, "/conversation/999", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, out["data"])
	assert.NotEmpty(t, out["message"])

	code, _ = srv.do(t, http.MethodGet, "/conversation/abc", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAppendQueryHandler_Errors(t *testing.T) {
	srv := newTestServer(t)

	code, _ := srv.do(t, http.MethodPost, "/conversations/42/queries", `{"question":"hello"}`)
	assert.Equal(t, http.StatusNotFound, code)

	convID, _ := srv.createConversation(t, 1, "first")
	code, _ = srv.do(t, http.MethodPost, "/conversations/"+itoa(convID)+"/queries", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = srv.do(t, http.MethodPost, "/conversations/"+itoa(convID)+"/queries", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestReviewFlow(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	convA, qA := srv.createConversation(t, 1, "older")
	convB, qB := srv.createConversation(t, 2, "newer")

	code, out := srv.do(t, http.MethodGet, "/pending-conversations", "")
	require.Equal(t, http.StatusOK, code)
	pending := out["data"].([]any)
	require.Len(t, pending, 2)
	assert.Equal(t, float64(convA), pending[0].(map[string]any)["conversation_id"])

	code, out = srv.do(t, http.MethodGet, "/pending-reviews", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["data"], 2)

	rA, err := srv.store.GetResponseByQueryID(ctx, qA)
	require.NoError(t, err)
	rB, err := srv.store.GetResponseByQueryID(ctx, qB)
	require.NoError(t, err)

	code, _ = srv.do(t, http.MethodPut, "/responses/edit/"+itoa(rA.ID), `{"clinician_response":"See a dermatologist."}`)
	require.Equal(t, http.StatusOK, code)
	code, _ = srv.do(t, http.MethodPut, "/responses/verify/"+itoa(rB.ID), "")
	require.Equal(t, http.StatusOK, code)

	_, out = srv.do(t, http.MethodGet, "/pending-conversations", "")
	assert.Empty(t, out["data"])

	_, out = srv.do(t, http.MethodGet, "/conversation/"+itoa(convA), "")
	row := out["data"].([]any)[0].(map[string]any)
	assert.Equal(t, "See a dermatologist.", row["response"])
	assert.Equal(t, store.StatusReviewed, row["status"])

	_, out = srv.do(t, http.MethodGet, "/conversation/"+itoa(convB), "")
	row = out["data"].([]any)[0].(map[string]any)
	assert.Equal(t, "Drink water and rest.", row["response"])
	assert.Equal(t, store.StatusReviewed, row["status"])
}

func TestEditVerifyHandler_Errors(t *testing.T) {
	srv := newTestServer(t)
	_, q := srv.createConversation(t, 1, "q")
	r, err := srv.store.GetResponseByQueryID(context.Background(), q)
	require.NoError(t, err)

	code, _ := srv.do(t, http.MethodPut, "/responses/edit/"+itoa(r.ID), `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = srv.do(t, http.MethodPut, "/responses/edit/"+itoa(r.ID), "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = srv.do(t, http.MethodPut, "/responses/edit/9999", `{"clinician_response":"x"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = srv.do(t, http.MethodPut, "/responses/verify/9999", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = srv.do(t, http.MethodPut, "/responses/verify/zero", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRepairHandlers(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	code, out := srv.do(t, http.MethodPost, "/fix-missing-responses", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), out["total_found"])
	assert.Equal(t, "No queries found without responses", out["message"])

	srv.ai.err = errors.New("upstream down")
	code, _ = srv.do(t, http.MethodPost, "/conversations", `{"patient_id":1,"question":"first"}`)
	require.Equal(t, http.StatusInternalServerError, code)

	srv.ai.err = nil
	code, out = srv.do(t, http.MethodPost, "/fix-missing-responses", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), out["total_found"])
	assert.Equal(t, float64(1), out["processed"])
	assert.NotEmpty(t, out["run_id"])
	assert.Nil(t, out["failures"])

	convID, _ := srv.createConversation(t, 2, "second")
	q, err := srv.store.AppendQuery(ctx, convID, "legacy", nil)
	require.NoError(t, err)
	_, err = srv.store.InsertResponse(ctx, q, "")
	require.NoError(t, err)

	code, out = srv.do(t, http.MethodPatch, "/fix-empty-responses", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), out["total_found"])
	assert.Equal(t, "Updated 1 responses successfully", out["message"])

	r, err := srv.store.GetResponseByQueryID(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, "Drink water and rest.", *r.AIResponse)
}

func TestRepairHandler_OutlivesWriteTimeout(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, _, err := ts.store.CreateConversationWithQuery(ctx, int64(i+1), "backlog", nil)
		require.NoError(t, err)
	}
	ts.ai.delay = 100 * time.Millisecond

	srv := httptest.NewUnstartedServer(ts.handler)
	srv.Config.WriteTimeout = 150 * time.Millisecond
	srv.Start()
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/fix-missing-responses", "application/json", http.NoBody)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out RepairResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 4, out.TotalFound)
	assert.Equal(t, 4, out.Processed)
}

func TestUnknownRouteAndTrailingSlash(t *testing.T) {
	srv := newTestServer(t)

	code, _ := srv.do(t, http.MethodGet, "/health/", "")
	assert.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
