package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"safety-cloud/internal/audit"
	"safety-cloud/internal/auth"
	notifapp "safety-cloud/internal/notifications/application"
	notifications "safety-cloud/internal/notifications/domain"
)

var testNow = time.Date(2024, 12, 3, 14, 2, 5, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return testNow }

type memoryStore struct {
	records []notifications.Notification
}

func (m *memoryStore) MarkAllRead(_ context.Context, recipientID int64, at time.Time) (int64, error) {
	var count int64
	for i := range m.records {
		if m.records[i].RecipientID == recipientID && m.records[i].ReadAt == nil {
			readAt := at
			m.records[i].ReadAt = &readAt
			count++
		}
	}
	return count, nil
}

func (m *memoryStore) ListByRecipient(_ context.Context, recipientID int64, offset, limit int) ([]notifications.Notification, error) {
	var out []notifications.Notification
	for _, record := range m.records {
		if record.RecipientID == recipientID {
			out = append(out, record)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	if end := offset + limit; end < len(out) {
		return out[offset:end], nil
	}
	return out[offset:], nil
}

func (m *memoryStore) CountByRecipient(_ context.Context, recipientID int64) (int64, error) {
	var count int64
	for _, record := range m.records {
		if record.RecipientID == recipientID {
			count++
		}
	}
	return count, nil
}

type recordingAudit struct {
	entries []audit.Entry
}

func (a *recordingAudit) Log(_ context.Context, entry audit.Entry) error {
	a.entries = append(a.entries, entry)
	return nil
}

type memoryRecipients map[int64]string

func (m memoryRecipients) UpdateDeviceToken(_ context.Context, recipientID int64, token string) (bool, error) {
	if _, ok := m[recipientID]; !ok {
		return false, nil
	}
	m[recipientID] = token
	return true, nil
}

func newTestHandler(t *testing.T) (*Handler, *memoryStore, memoryRecipients) {
	t.Helper()
	store := &memoryStore{}
	for i := int64(1); i <= 3; i++ {
		store.records = append(store.records, notifications.Notification{
			DeliveryRecord: notifications.DeliveryRecord{ID: i, RecipientID: 7, IncidentID: 100 + i, ContentKey: "FALL", Sent: true, CreatedAt: testNow},
			Content:        notifications.Content{Key: "FALL", Title: "Accident alert", Body: "A fall accident has occurred."},
		})
	}
	recipients := memoryRecipients{7: ""}
	ledger, err := notifapp.NewLedger(store, recipients, notifapp.WithLedgerClock(fixedClock{}))
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	handler, err := NewHandler(ledger, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler, store, recipients
}

func asRecipient(req *http.Request, id int64) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), id, auth.RoleViewer))
}

func TestRequiresRecipient(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/notification", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestListNotifications(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	req := asRecipient(httptest.NewRequest(http.MethodGet, "/notification?pageNum=1&pageSize=2", nil), 7)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var page notifapp.Page
	if err := json.Unmarshal(resp.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Notifications) != 2 || !page.HasNext {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Notifications[0].Content.Title != "Accident alert" {
		t.Fatalf("expected joined content, got %+v", page.Notifications[0])
	}

	req = asRecipient(httptest.NewRequest(http.MethodGet, "/notification?pageSize=x", nil), 7)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	handler, store, _ := newTestHandler(t)

	read := func() int64 {
		req := asRecipient(httptest.NewRequest(http.MethodPost, "/notification/read", nil), 7)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.Code)
		}
		var body readResponse
		if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return body.Count
	}
	if count := read(); count != 3 {
		t.Fatalf("expected 3 rows marked, got %d", count)
	}
	if count := read(); count != 0 {
		t.Fatalf("expected 0 rows on second call, got %d", count)
	}
	if !store.records[0].ReadAt.Equal(testNow) {
		t.Fatalf("unexpected read instant %v", store.records[0].ReadAt)
	}
}

func TestRegisterDeviceToken(t *testing.T) {
	handler, _, recipients := newTestHandler(t)
	auditLog := &recordingAudit{}
	WithAuditLogger(auditLog)(handler)

	req := asRecipient(httptest.NewRequest(http.MethodPost, "/notification", strings.NewReader(`{"deviceToken":"tok-1"}`)), 7)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNoContent || recipients[7] != "tok-1" {
		t.Fatalf("expected token stored, got %d %q", resp.Code, recipients[7])
	}

	req = asRecipient(httptest.NewRequest(http.MethodPost, "/notification", strings.NewReader(`{"deviceToken":" "}`)), 7)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank token, got %d", resp.Code)
	}

	req = asRecipient(httptest.NewRequest(http.MethodPost, "/notification", strings.NewReader(`{"deviceToken":"tok-2"}`)), 9)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown recipient, got %d", resp.Code)
	}

	if len(auditLog.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(auditLog.entries))
	}
	entry := auditLog.entries[0]
	if entry.Action != "notification.device_token" || entry.Actor != "7" || entry.Role != string(auth.RoleViewer) {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
}
