package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", withDefaultParams(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// One connection serializes every statement and transaction, which is
	// what keeps edit and verify on the same response mutually exclusive.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func withDefaultParams(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=1&_busy_timeout=5000"
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY,
        name TEXT
    );

    CREATE TABLE IF NOT EXISTS conversations (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        patient_id INTEGER NOT NULL,
        created_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS queries (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        conversation_id INTEGER NOT NULL,
        patient_id INTEGER NOT NULL,
        question TEXT NOT NULL,
        image_url TEXT,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id)
    );

    CREATE TABLE IF NOT EXISTS responses (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        query_id INTEGER NOT NULL UNIQUE,
        ai_response TEXT,
        clinician_response TEXT,
        status TEXT NOT NULL DEFAULT 'unreviewed' CHECK (status IN ('unreviewed', 'reviewed')),
        created_at DATETIME NOT NULL,
        reviewed_at DATETIME,
        FOREIGN KEY (query_id) REFERENCES queries (id)
    );

    CREATE INDEX IF NOT EXISTS idx_conversations_patient ON conversations (patient_id, created_at);
    CREATE INDEX IF NOT EXISTS idx_queries_conversation ON queries (conversation_id, created_at, id);
    CREATE INDEX IF NOT EXISTS idx_responses_status ON responses (status, created_at);
    `
	_, err := s.db.Exec(schema)
	return err
}

// Conversation and query methods

// CreateConversationWithQuery inserts a conversation and its first query in
// one transaction and returns both ids.
func (s *SQLiteStore) CreateConversationWithQuery(ctx context.Context, patientID int64, question string, imageURL *string) (int64, int64, error) {
	type ids struct{ conversation, query int64 }

	res, err := WithTx(ctx, s.db, func(tx *sql.Tx) (ids, error) {
		now := s.now()
		convRes, err := tx.ExecContext(ctx, "INSERT INTO conversations (patient_id, created_at) VALUES (?, ?)", patientID, now)
		if err != nil {
			return ids{}, fmt.Errorf("failed to insert conversation: %w", err)
		}
		convID, err := convRes.LastInsertId()
		if err != nil {
			return ids{}, fmt.Errorf("failed to read conversation id: %w", err)
		}

		queryID, err := insertQuery(ctx, tx, convID, patientID, question, imageURL, now)
		if err != nil {
			return ids{}, err
		}
		return ids{conversation: convID, query: queryID}, nil
	})
	if err != nil {
		return 0, 0, err
	}
	return res.conversation, res.query, nil
}

// AppendQuery adds a query to an existing conversation, copying the owning
// patient from the conversation. Returns ErrNotFound if the conversation
// does not exist.
func (s *SQLiteStore) AppendQuery(ctx context.Context, conversationID int64, question string, imageURL *string) (int64, error) {
	return WithTx(ctx, s.db, func(tx *sql.Tx) (int64, error) {
		conv, err := getConversation(ctx, tx, conversationID)
		if err != nil {
			return 0, err
		}
		return insertQuery(ctx, tx, conv.ID, conv.PatientID, question, imageURL, s.now())
	})
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID int64) (*Conversation, error) {
	return getConversation(ctx, s.db, conversationID)
}

func getConversation(ctx context.Context, q rowQuerier, conversationID int64) (*Conversation, error) {
	var c Conversation
	var created sqliteTime
	err := q.QueryRowContext(ctx, "SELECT id, patient_id, created_at FROM conversations WHERE id = ?", conversationID).
		Scan(&c.ID, &c.PatientID, &created)
	if err != nil {
		return nil, MapError(fmt.Errorf("failed to resolve conversation %d: %w", conversationID, err))
	}
	c.CreatedAt = created.Time
	return &c, nil
}

func insertQuery(ctx context.Context, tx *sql.Tx, conversationID, patientID int64, question string, imageURL *string, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO queries (conversation_id, patient_id, question, image_url, created_at) VALUES (?, ?, ?, ?, ?)",
		conversationID, patientID, question, imageURL, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert query: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read query id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetQuery(ctx context.Context, queryID int64) (*Query, error) {
	var q Query
	var imageURL sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, conversation_id, patient_id, question, image_url, created_at FROM queries WHERE id = ?", queryID).
		Scan(&q.ID, &q.ConversationID, &q.PatientID, &q.Question, &imageURL, &q.CreatedAt)
	if err != nil {
		return nil, MapError(fmt.Errorf("failed to get query %d: %w", queryID, err))
	}
	q.ImageURL = nullString(imageURL)
	return &q, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, patientID int64) ([]ConversationSummary, error) {
	query := `
        SELECT c.id, c.created_at, q.id, q.question, q.created_at
        FROM conversations c
        LEFT JOIN queries q ON q.id = (
            SELECT q2.id FROM queries q2
            WHERE q2.conversation_id = c.id
            ORDER BY q2.created_at ASC, q2.id ASC
            LIMIT 1
        )
        WHERE c.patient_id = ?
        ORDER BY c.created_at DESC, c.id DESC
    `
	rows, err := s.db.QueryContext(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	conversations := []ConversationSummary{}
	for rows.Next() {
		var c ConversationSummary
		var firstID sql.NullInt64
		var firstQuestion sql.NullString
		var firstCreated sql.NullTime
		if err := rows.Scan(&c.ConversationID, &c.ConversationCreatedAt, &firstID, &firstQuestion, &firstCreated); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		c.FirstQueryID = nullInt64(firstID)
		c.FirstQueryQuestion = nullString(firstQuestion)
		c.FirstQueryCreatedAt = nullTime(firstCreated)
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return conversations, nil
}

func (s *SQLiteStore) GetConversationDetail(ctx context.Context, conversationID int64) ([]ThreadEntry, error) {
	query := `
        SELECT q.id, q.question, q.image_url, q.created_at,
               r.id, r.ai_response, r.clinician_response, r.status, r.created_at, r.reviewed_at
        FROM queries q
        LEFT JOIN responses r ON r.query_id = q.id
        WHERE q.conversation_id = ?
        ORDER BY q.created_at ASC, q.id ASC
    `
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation thread: %w", err)
	}
	defer rows.Close()

	entries := []ThreadEntry{}
	for rows.Next() {
		var e ThreadEntry
		var imageURL, ai, clinician, status sql.NullString
		var responseID sql.NullInt64
		var responseCreated, reviewed sql.NullTime
		if err := rows.Scan(&e.QueryID, &e.Question, &imageURL, &e.QueryCreatedAt,
			&responseID, &ai, &clinician, &status, &responseCreated, &reviewed); err != nil {
			return nil, fmt.Errorf("failed to scan thread row: %w", err)
		}
		e.ImageURL = nullString(imageURL)
		e.ResponseID = nullInt64(responseID)
		e.AIResponse = nullString(ai)
		e.ClinicianResponse = nullString(clinician)
		e.Response = EffectiveAnswer(e.ClinicianResponse, e.AIResponse)
		e.Status = nullString(status)
		e.ResponseCreatedAt = nullTime(responseCreated)
		e.ReviewedAt = nullTime(reviewed)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate thread rows: %w", err)
	}
	return entries, nil
}

// HistoryEntries returns prior queries of a conversation with their
// effective answers, oldest first. beforeQueryID is an exclusive upper bound;
// zero means unbounded.
func (s *SQLiteStore) HistoryEntries(ctx context.Context, conversationID, beforeQueryID int64) ([]HistoryEntry, error) {
	query := `
        SELECT q.id, q.question, COALESCE(r.clinician_response, r.ai_response)
        FROM queries q
        LEFT JOIN responses r ON r.query_id = q.id
        WHERE q.conversation_id = ? AND (? = 0 OR q.id < ?)
        ORDER BY q.created_at ASC, q.id ASC
    `
	rows, err := s.db.QueryContext(ctx, query, conversationID, beforeQueryID, beforeQueryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var answer sql.NullString
		if err := rows.Scan(&e.QueryID, &e.Question, &answer); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Answer = nullString(answer)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history rows: %w", err)
	}
	return entries, nil
}

// Response methods

func (s *SQLiteStore) InsertResponse(ctx context.Context, queryID int64, aiResponse string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO responses (query_id, ai_response, clinician_response, status, created_at) VALUES (?, ?, NULL, ?, ?)",
		queryID, aiResponse, StatusUnreviewed, s.now())
	if err != nil {
		return 0, MapError(fmt.Errorf("failed to insert response for query %d: %w", queryID, err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read response id: %w", err)
	}
	return id, nil
}

// UpdateAIResponse replaces the AI draft of an existing response in place.
func (s *SQLiteStore) UpdateAIResponse(ctx context.Context, responseID int64, aiResponse string) error {
	return s.execOne(ctx, "UPDATE responses SET ai_response = ? WHERE id = ?", responseID, aiResponse, responseID)
}

func (s *SQLiteStore) EditResponse(ctx context.Context, responseID int64, clinicianResponse string) error {
	return s.execOne(ctx,
		"UPDATE responses SET clinician_response = ?, status = ?, reviewed_at = ? WHERE id = ?",
		responseID, clinicianResponse, StatusReviewed, s.now(), responseID)
}

// VerifyResponse marks a response reviewed without touching either text.
func (s *SQLiteStore) VerifyResponse(ctx context.Context, responseID int64) error {
	return s.execOne(ctx,
		"UPDATE responses SET status = ?, reviewed_at = ? WHERE id = ?",
		responseID, StatusReviewed, s.now(), responseID)
}

func (s *SQLiteStore) execOne(ctx context.Context, stmt string, responseID int64, args ...any) error {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("failed to update response %d: %w", responseID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("response %d: %w", responseID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetResponse(ctx context.Context, responseID int64) (*Response, error) {
	return s.getResponse(ctx, "id", responseID)
}

func (s *SQLiteStore) GetResponseByQueryID(ctx context.Context, queryID int64) (*Response, error) {
	return s.getResponse(ctx, "query_id", queryID)
}

func (s *SQLiteStore) getResponse(ctx context.Context, column string, id int64) (*Response, error) {
	var r Response
	var ai, clinician sql.NullString
	var reviewed sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT id, query_id, ai_response, clinician_response, status, created_at, reviewed_at FROM responses WHERE "+column+" = ?", id).
		Scan(&r.ID, &r.QueryID, &ai, &clinician, &r.Status, &r.CreatedAt, &reviewed)
	if err != nil {
		return nil, MapError(fmt.Errorf("failed to get response by %s %d: %w", column, id, err))
	}
	r.AIResponse = nullString(ai)
	r.ClinicianResponse = nullString(clinician)
	r.ReviewedAt = nullTime(reviewed)
	return &r, nil
}

// ListPendingReviews returns every unreviewed response, oldest first.
func (s *SQLiteStore) ListPendingReviews(ctx context.Context) ([]PendingReview, error) {
	query := `
        SELECT r.id, q.id, q.conversation_id, q.patient_id, u.name, q.question, r.ai_response, r.created_at
        FROM responses r
        JOIN queries q ON q.id = r.query_id
        LEFT JOIN users u ON u.id = q.patient_id
        WHERE r.status = ?
        ORDER BY r.created_at ASC, r.id ASC
    `
	rows, err := s.db.QueryContext(ctx, query, StatusUnreviewed)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending reviews: %w", err)
	}
	defer rows.Close()

	reviews := []PendingReview{}
	for rows.Next() {
		var p PendingReview
		var name, ai sql.NullString
		if err := rows.Scan(&p.ResponseID, &p.QueryID, &p.ConversationID, &p.PatientID, &name, &p.Question, &ai, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending review row: %w", err)
		}
		p.PatientName = nullString(name)
		p.AIResponse = nullString(ai)
		reviews = append(reviews, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending reviews: %w", err)
	}
	return reviews, nil
}

// ListPendingConversations groups unreviewed responses by conversation and
// orders conversations by their oldest unreviewed query.
func (s *SQLiteStore) ListPendingConversations(ctx context.Context) ([]PendingConversation, error) {
	query := `
        SELECT c.id, c.created_at, MIN(q.created_at) AS earliest_unreviewed
        FROM conversations c
        JOIN queries q ON q.conversation_id = c.id
        JOIN responses r ON r.query_id = q.id
        WHERE r.status = ?
        GROUP BY c.id, c.created_at
        ORDER BY earliest_unreviewed ASC, c.id ASC
    `
	rows, err := s.db.QueryContext(ctx, query, StatusUnreviewed)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending conversations: %w", err)
	}
	defer rows.Close()

	pending := []PendingConversation{}
	for rows.Next() {
		var p PendingConversation
		var created, earliest sqliteTime
		if err := rows.Scan(&p.ConversationID, &created, &earliest); err != nil {
			return nil, fmt.Errorf("failed to scan pending conversation row: %w", err)
		}
		p.ConversationCreatedAt = created.Time
		p.EarliestUnreviewedQuery = earliest.Time
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending conversations: %w", err)
	}
	return pending, nil
}

// Repair scans

// QueriesMissingResponse returns queries with no response row, oldest first.
func (s *SQLiteStore) QueriesMissingResponse(ctx context.Context) ([]RepairCandidate, error) {
	return s.repairCandidates(ctx, `
        SELECT q.id, q.conversation_id, q.question, q.image_url, r.id
        FROM queries q
        LEFT JOIN responses r ON r.query_id = q.id
        WHERE r.id IS NULL
        ORDER BY q.created_at ASC, q.id ASC
    `)
}

// ResponsesWithEmptyAI returns responses whose AI draft is NULL or empty,
// ordered by their query's creation time.
func (s *SQLiteStore) ResponsesWithEmptyAI(ctx context.Context) ([]RepairCandidate, error) {
	return s.repairCandidates(ctx, `
        SELECT q.id, q.conversation_id, q.question, q.image_url, r.id
        FROM queries q
        JOIN responses r ON r.query_id = q.id
        WHERE r.ai_response IS NULL OR r.ai_response = ''
        ORDER BY q.created_at ASC, q.id ASC
    `)
}

func (s *SQLiteStore) repairCandidates(ctx context.Context, query string) ([]RepairCandidate, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query repair candidates: %w", err)
	}
	defer rows.Close()

	candidates := []RepairCandidate{}
	for rows.Next() {
		var c RepairCandidate
		var imageURL sql.NullString
		var responseID sql.NullInt64
		if err := rows.Scan(&c.QueryID, &c.ConversationID, &c.Question, &imageURL, &responseID); err != nil {
			return nil, fmt.Errorf("failed to scan repair candidate row: %w", err)
		}
		c.ImageURL = nullString(imageURL)
		c.ResponseID = nullInt64(responseID)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate repair candidates: %w", err)
	}
	return candidates, nil
}

// Users are owned by another system; this only exists so tests and local
// setups can populate display names.
func (s *SQLiteStore) UpsertUser(ctx context.Context, id int64, name string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, name) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET name = excluded.name", id, name)
	if err != nil {
		return fmt.Errorf("failed to upsert user %d: %w", id, err)
	}
	return nil
}
