package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"smsrelay/api/internal/authpw"
	"smsrelay/api/internal/filter"
	"smsrelay/api/internal/outbox"
	"smsrelay/api/internal/phone"
	"smsrelay/api/internal/session"
	"smsrelay/api/internal/store"
)

func TestParseDeviceTime(t *testing.T) {
	shanghai := time.FixedZone("CST", 8*60*60)
	cases := []struct {
		raw  string
		want time.Time
		ok   bool
	}{
		{raw: "2024-05-01T10:00:00Z", want: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), ok: true},
		{raw: "2024-05-01T18:00:00+08:00", want: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), ok: true},
		{raw: "2024-05-01 18:00:00", want: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), ok: true},
		{raw: "2024/05/01 18:00:00", want: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), ok: true},
		{raw: "2024/5/1 18:00:00", want: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), ok: true},
		{raw: " ", ok: false},
		{raw: "24-05-01", ok: false},
	}
	for _, tc := range cases {
		got, ok := parseDeviceTime(tc.raw, shanghai)
		if ok != tc.ok {
			t.Fatalf("parseDeviceTime(%q) ok = %v, want %v", tc.raw, ok, tc.ok)
		}
		if ok && !got.Equal(tc.want) {
			t.Fatalf("parseDeviceTime(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestNormalizePage(t *testing.T) {
	limit, offset, err := normalizePage(0, 0)
	if err != nil || limit != defaultPageLimit || offset != 0 {
		t.Fatalf("expected default page, got %d %d %v", limit, offset, err)
	}
	limit, _, err = normalizePage(5000, 10)
	if err != nil || limit != maxPageLimit {
		t.Fatalf("expected capped limit, got %d %v", limit, err)
	}
	if _, _, err := normalizePage(10, -1); err == nil {
		t.Fatal("expected negative offset rejected")
	}
}

func TestTranslateMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{err: phone.ErrInvalidRecipient, status: http.StatusBadRequest, code: "INVALID_RECIPIENT"},
		{err: outbox.ErrInvalidStatus, status: http.StatusBadRequest, code: "INVALID_STATUS"},
		{err: fmt.Errorf("report: %w", outbox.ErrAlreadyTerminal), status: http.StatusConflict, code: "ALREADY_TERMINAL"},
		{err: session.ErrUnauthenticated, status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{err: authpw.ErrInvalidCredentials, status: http.StatusUnauthorized, code: "INVALID_CREDENTIALS"},
		{err: authpw.ErrAlreadyInitialized, status: http.StatusBadRequest, code: "ALREADY_INITIALIZED"},
		{err: store.ErrConflict, status: http.StatusBadRequest, code: "CONFLICT"},
		{err: store.ErrNotFound, status: http.StatusNotFound, code: "NOT_FOUND"},
		{err: &authpw.ValidationError{Message: "too short"}, status: http.StatusBadRequest, code: "INVALID_ARGUMENT"},
		{err: tooManyAttempts(), status: http.StatusTooManyRequests, code: "TOO_MANY_ATTEMPTS"},
		{err: errors.New("boom"), status: http.StatusInternalServerError, code: "SERVER_ERROR"},
	}
	for _, tc := range cases {
		status, code, _, _ := mapError(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("mapError(%v) = %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
}

func TestEnqueueAllowsViewerSession(t *testing.T) {
	stack := newTestStack(t, nil)
	_, err := stack.service.Enqueue(context.Background(), session.Session{}, SendInput{Recipient: "10086", Content: "Hi"})
	if err != nil {
		t.Fatalf("expected resolved viewer sessions to send, got %v", err)
	}
}

func TestStatusBroadcastCarriesMirrorAndSubject(t *testing.T) {
	stack := newTestStack(t, nil)
	ctx := context.Background()
	sess := session.Session{Filter: filter.All()}

	entry, err := stack.service.Enqueue(ctx, sess, SendInput{Recipient: "13800138000", Content: "code 42", DeviceID: "deviceA"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := stack.service.ReportStatus(ctx, ReportInput{ID: entry.ID, Status: "failed"}); err != nil {
		t.Fatalf("ReportStatus() error = %v", err)
	}

	stack.publisher.mu.Lock()
	defer stack.publisher.mu.Unlock()
	if len(stack.publisher.events) != 2 {
		t.Fatalf("expected two events, got %d", len(stack.publisher.events))
	}
	status := stack.publisher.events[1]
	update, ok := status.Data.(StatusUpdate)
	if !ok {
		t.Fatalf("expected StatusUpdate payload, got %T", status.Data)
	}
	if update.ID != entry.ID || update.MessageID == 0 || update.Status != outbox.StatusFailed {
		t.Fatalf("unexpected status update: %+v", update)
	}
	if update.SentAt == nil {
		t.Fatal("expected report time on the finished entry")
	}
	if status.Subject == nil || status.Subject.Content != "code 42" || status.Subject.Counterpart != "+8613800138000" {
		t.Fatalf("expected subject for filtering, got %+v", status.Subject)
	}
}

func TestNewServiceRejectsUnknownTimezone(t *testing.T) {
	cfg := testConfig()
	cfg.DeviceTimezone = "Mars/Olympus"
	if _, err := NewService(cfg, &fakeStore{}, session.NewRegistry(session.Options{}), nil, nil, discardLogger()); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}
