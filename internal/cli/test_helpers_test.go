package cli

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"os"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/runnerr0/procedura/internal/protocol"
	"github.com/runnerr0/procedura/internal/storage"
	"github.com/stretchr/testify/require"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// setupTestStore creates a migrated in-memory store.
func setupTestStore(t *testing.T) (*storage.SQLiteStore, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	runner := storage.NewMigrationRunner(db)
	require.NoError(t, runner.Run())

	store, err := storage.NewSQLiteStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, db
}

// testGlobals keeps commands away from the user's config and database.
func testGlobals() *GlobalFlags {
	return &GlobalFlags{DBPath: ":memory:"}
}

// fakeService answers requests from a table and replays broadcasts to
// watchers when a request type has events attached.
type fakeService struct {
	mu       sync.Mutex
	replies  map[protocol.MessageType]protocol.Response
	events   map[protocol.MessageType][]protocol.Request
	requests []protocol.Request
	watcher  func(protocol.Request)
	err      error
}

func newFakeService() *fakeService {
	return &fakeService{
		replies: map[protocol.MessageType]protocol.Response{},
		events:  map[protocol.MessageType][]protocol.Request{},
	}
}

func (f *fakeService) Send(_ context.Context, req protocol.Request) (protocol.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	resp, ok := f.replies[req.Type]
	events := f.events[req.Type]
	watcher := f.watcher
	err := f.err
	f.mu.Unlock()

	if err != nil {
		return protocol.Response{}, err
	}
	if watcher != nil {
		for _, ev := range events {
			watcher(ev)
		}
	}
	if !ok {
		return protocol.Fail(protocol.ErrUnknownType), nil
	}
	return resp, nil
}

func (f *fakeService) Watch(fn func(protocol.Request)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watcher = fn
	return func() {
		f.mu.Lock()
		f.watcher = nil
		f.mu.Unlock()
	}, nil
}

func (f *fakeService) sent() []protocol.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Request(nil), f.requests...)
}
