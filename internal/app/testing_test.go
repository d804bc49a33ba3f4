package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"smsrelay/api/internal/config"
	"smsrelay/api/internal/filter"
	"smsrelay/api/internal/live"
	"smsrelay/api/internal/session"
	"smsrelay/api/internal/store"
	"smsrelay/api/internal/throttle"
)

// fakeStore embeds dataStore so tests only stub the methods they exercise.
type fakeStore struct {
	dataStore
	pingFn              func(context.Context) error
	listConversationsFn func(context.Context, filter.Filter) ([]store.ConversationSummary, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) ListConversations(ctx context.Context, flt filter.Filter) ([]store.ConversationSummary, error) {
	if f.listConversationsFn != nil {
		return f.listConversationsFn(ctx, flt)
	}
	return nil, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []live.Event
}

func (p *recordingPublisher) Publish(ev live.Event) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return 1
}

func (p *recordingPublisher) types() []live.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]live.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type nopLive struct{}

func (nopLive) ServeWS(w http.ResponseWriter, _ *http.Request, _ filter.Filter) {
	w.WriteHeader(http.StatusNoContent)
}

func testConfig() config.Config {
	return config.Config{
		DefaultDeviceID:       "air780e_01",
		DefaultViewerPassword: "admin",
		SecretPepper:          "test-pepper",
		BcryptCost:            bcrypt.MinCost,
		DeviceTimezone:        "UTC",
		CORSOrigin:            "*",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testStack struct {
	service   *Service
	handler   http.Handler
	publisher *recordingPublisher
}

// newTestStack wires the service to a migrated SQLite store in a temp dir.
func newTestStack(t *testing.T, limiter throttle.Limiter) *testStack {
	t.Helper()
	return newTestStackWithConfig(t, testConfig(), limiter)
}

func newTestStackWithConfig(t *testing.T, cfg config.Config, limiter throttle.Limiter) *testStack {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, store.DialectSQLite, filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(ctx, db, store.DialectSQLite); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	publisher := &recordingPublisher{}
	svc, err := NewService(cfg, store.NewSQLStore(db, store.DialectSQLite), session.NewRegistry(session.Options{}), publisher, limiter, discardLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return &testStack{
		service:   svc,
		handler:   NewHTTPServer(svc, nopLive{}, "*").Handler(),
		publisher: publisher,
	}
}

func newFakeStoreServer(t *testing.T, fs *fakeStore) (*Service, http.Handler) {
	t.Helper()
	svc, err := NewService(testConfig(), fs, session.NewRegistry(session.Options{}), nil, nil, discardLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, NewHTTPServer(svc, nopLive{}, "*").Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, payload
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d body=%s", want, rr.Code, rr.Body.String())
	}
}

func expectErrorCode(t *testing.T, rr *httptest.ResponseRecorder, payload map[string]any, status int, code string) {
	t.Helper()
	expectStatus(t, rr, status)
	if payload["success"] != false {
		t.Fatalf("expected success=false, got %v", payload["success"])
	}
	if payload["code"] != code {
		t.Fatalf("expected code %s, got %v", code, payload["code"])
	}
}

func login(t *testing.T, handler http.Handler, password string) string {
	t.Helper()
	rr, payload := doJSON(t, handler, http.MethodPost, "/api/auth/login", "", `{"password":"`+password+`"}`)
	expectStatus(t, rr, http.StatusOK)
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatalf("expected token in %v", payload)
	}
	return token
}

func adminToken(t *testing.T, handler http.Handler) string {
	t.Helper()
	rr, _ := doJSON(t, handler, http.MethodPost, "/api/admin/init", "", `{"username":"root","password":"s3cret"}`)
	expectStatus(t, rr, http.StatusOK)
	rr, payload := doJSON(t, handler, http.MethodPost, "/api/admin/login", "", `{"username":"root","password":"s3cret"}`)
	expectStatus(t, rr, http.StatusOK)
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatalf("expected admin token in %v", payload)
	}
	return token
}

func dataList(t *testing.T, payload map[string]any) []map[string]any {
	t.Helper()
	raw, ok := payload["data"].([]any)
	if !ok {
		if payload["data"] == nil {
			return nil
		}
		t.Fatalf("expected data array, got %T", payload["data"])
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		out = append(out, item.(map[string]any))
	}
	return out
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
