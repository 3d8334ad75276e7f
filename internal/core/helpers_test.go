package core

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kiraleos/patient-portal/internal/store"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type fakeResult struct {
	text string
	err  error
}

// fakeProvider replays scripted results; once the script is exhausted it
// keeps returning the fallback.
type fakeProvider struct {
	name     string
	script   []fakeResult
	fallback fakeResult
	calls    []Prompt
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Produce(ctx context.Context, p Prompt) (string, error) {
	f.calls = append(f.calls, p)
	if len(f.script) > 0 {
		r := f.script[0]
		f.script = f.script[1:]
		return r.text, r.err
	}
	return f.fallback.text, f.fallback.err
}

func answering(name, text string) *fakeProvider {
	return &fakeProvider{name: name, fallback: fakeResult{text: text}}
}

func failing(name string) *fakeProvider {
	return &fakeProvider{name: name, fallback: fakeResult{err: errors.New("provider down")}}
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testDispatcher(text, vision ResponseProvider) *Dispatcher {
	return NewDispatcher(text, vision, DispatcherOptions{
		SystemPrompt: "You are a clinician.",
		Timeout:      time.Second,
		RetryDelay:   time.Millisecond,
	}, testLogger())
}

func openTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "portal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type testServices struct {
	store    *store.SQLiteStore
	workflow *WorkflowService
	repair   *RepairService
}

func newTestServices(t *testing.T, text, vision ResponseProvider) testServices {
	t.Helper()
	db := openTestStore(t)
	log := testLogger()
	history := NewHistoryAssembler(db, log)
	dispatcher := testDispatcher(text, vision)
	return testServices{
		store:    db,
		workflow: NewWorkflowService(db, history, dispatcher, log),
		repair:   NewRepairService(db, history, dispatcher, log),
	}
}

func strPtr(s string) *string { return &s }
