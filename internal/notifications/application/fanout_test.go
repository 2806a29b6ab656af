package application

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	incidents "safety-cloud/internal/incidents/domain"
	notifications "safety-cloud/internal/notifications/domain"
	"safety-cloud/internal/notifications/push"
)

type stubTx struct {
	store   *stubStore
	pending []notifications.DeliveryRecord
}

func (t *stubTx) GetContent(_ context.Context, key string) (*notifications.Content, error) {
	content, ok := t.store.contents[key]
	if !ok {
		return nil, nil
	}
	return &content, nil
}

func (t *stubTx) ListRecipients(_ context.Context) ([]notifications.Recipient, error) {
	return t.store.recipients, nil
}

func (t *stubTx) HasDeliveries(_ context.Context, incidentID int64) (bool, error) {
	for _, record := range t.store.committed {
		if record.IncidentID == incidentID {
			return true, nil
		}
	}
	return false, nil
}

func (t *stubTx) InsertDeliveries(_ context.Context, records []notifications.DeliveryRecord) error {
	if t.store.insertErr != nil {
		return t.store.insertErr
	}
	t.pending = append(t.pending, records...)
	return nil
}

type stubStore struct {
	contents   map[string]notifications.Content
	recipients []notifications.Recipient
	insertErr  error
	commitErr  error
	committed  []notifications.DeliveryRecord
	rollbacks  int
}

func (s *stubStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx DispatchTx) error) error {
	tx := &stubTx{store: s}
	if err := fn(ctx, tx); err != nil {
		s.rollbacks++
		return err
	}
	if s.commitErr != nil {
		s.rollbacks++
		return s.commitErr
	}
	s.committed = append(s.committed, tx.pending...)
	return nil
}

type stubGateway struct {
	calls   []push.Message
	results []push.Result
	err     error
}

func (g *stubGateway) SendMulticast(_ context.Context, msg push.Message) ([]push.Result, error) {
	g.calls = append(g.calls, msg)
	if g.err != nil {
		return nil, g.err
	}
	if g.results != nil {
		return g.results, nil
	}
	out := make([]push.Result, len(msg.Tokens))
	for i, token := range msg.Tokens {
		out[i].Success = !strings.HasPrefix(token, "bad")
	}
	return out, nil
}

type memoryClaims struct {
	claimed  map[string]bool
	released []string
	err      error
}

func newMemoryClaims() *memoryClaims {
	return &memoryClaims{claimed: map[string]bool{}}
}

func (m *memoryClaims) Claim(_ context.Context, key string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.claimed[key] {
		return false, nil
	}
	m.claimed[key] = true
	return true, nil
}

func (m *memoryClaims) Release(_ context.Context, key string) error {
	delete(m.claimed, key)
	m.released = append(m.released, key)
	return nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2024, 12, 3, 14, 2, 5, 0, time.UTC)

func seededStore(recipients ...notifications.Recipient) *stubStore {
	return &stubStore{
		contents: map[string]notifications.Content{
			"FALL":        {Key: "FALL", Title: "Accident alert", Body: "A fall accident has occurred."},
			"SOS_REQUEST": {Key: "SOS_REQUEST", Title: "Emergency alert", Body: "Rescue requested on {{.StreamKey}} ({{.Level}})"},
		},
		recipients: recipients,
	}
}

func fallIncident() incidents.Incident {
	return incidents.Incident{
		ID:        101,
		StreamKey: "6f9619ff-8b86-d011-b42d-00c04fc964ff",
		Type:      incidents.TypeFall,
		Level:     incidents.LevelMedium,
		Reason:    "fall detected",
		StartAt:   testNow,
		CreatedAt: testNow,
	}
}

func newTestEngine(t *testing.T, store DispatchStore, gateway push.Gateway, opts ...EngineOption) *Engine {
	t.Helper()
	opts = append([]EngineOption{WithEngineClock(fixedClock{now: testNow})}, opts...)
	engine, err := NewEngine(store, gateway, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func TestDispatchRecordsOneRowPerRecipient(t *testing.T) {
	store := seededStore(
		notifications.Recipient{ID: 1, DeviceToken: "tok-a"},
		notifications.Recipient{ID: 2, DeviceToken: "bad-b"},
		notifications.Recipient{ID: 3, DeviceToken: "tok-c"},
	)
	gateway := &stubGateway{}
	engine := newTestEngine(t, store, gateway)

	outcome, err := engine.Dispatch(context.Background(), fallIncident())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(gateway.calls) != 1 {
		t.Fatalf("expected one multicast, got %d", len(gateway.calls))
	}
	msg := gateway.calls[0]
	if msg.Title != "Accident alert" || msg.Body != "A fall accident has occurred." {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.Priority != push.PriorityNormal {
		t.Fatalf("FALL must not be high priority")
	}
	if msg.Data["accidentId"] != "101" {
		t.Fatalf("unexpected data %+v", msg.Data)
	}
	if len(store.committed) != 3 {
		t.Fatalf("expected 3 records, got %d", len(store.committed))
	}
	want := []bool{true, false, true}
	for i, record := range store.committed {
		if record.Sent != want[i] {
			t.Fatalf("record %d: expected sent=%v", i, want[i])
		}
		if record.IncidentID != 101 || record.ContentKey != "FALL" || record.ReadAt != nil {
			t.Fatalf("unexpected record %+v", record)
		}
		if !record.CreatedAt.Equal(testNow) {
			t.Fatalf("records must share created_at, got %s", record.CreatedAt)
		}
	}
	if outcome.Sent != 2 || outcome.Failed != 1 || outcome.Skipped != 0 || outcome.Status() != notifications.OutcomePartial {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestDispatchSkipsAddresslessRecipients(t *testing.T) {
	store := seededStore(
		notifications.Recipient{ID: 1, DeviceToken: "tok-a"},
		notifications.Recipient{ID: 2},
	)
	gateway := &stubGateway{}
	engine := newTestEngine(t, store, gateway)

	outcome, err := engine.Dispatch(context.Background(), fallIncident())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(gateway.calls[0].Tokens) != 1 || gateway.calls[0].Tokens[0] != "tok-a" {
		t.Fatalf("addressless recipient must not reach the gateway: %+v", gateway.calls[0].Tokens)
	}
	if len(store.committed) != 2 {
		t.Fatalf("expected 2 records, got %d", len(store.committed))
	}
	if !store.committed[0].Sent || store.committed[1].Sent {
		t.Fatalf("unexpected sent flags %+v", store.committed)
	}
	if store.committed[1].RecipientID != 2 {
		t.Fatalf("record must reference recipient 2")
	}
	if outcome.Skipped != 1 || outcome.Sent != 1 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestDispatchWithoutAddressesSkipsGateway(t *testing.T) {
	store := seededStore(notifications.Recipient{ID: 1}, notifications.Recipient{ID: 2})
	gateway := &stubGateway{}
	engine := newTestEngine(t, store, gateway)

	if _, err := engine.Dispatch(context.Background(), fallIncident()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(gateway.calls) != 0 {
		t.Fatalf("gateway must not be called without tokens")
	}
	if len(store.committed) != 2 {
		t.Fatalf("expected 2 unsent records, got %d", len(store.committed))
	}
}

func TestDispatchNoRecipients(t *testing.T) {
	store := seededStore()
	gateway := &stubGateway{}
	engine := newTestEngine(t, store, gateway)

	outcome, err := engine.Dispatch(context.Background(), fallIncident())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.Status() != notifications.OutcomeEmpty || len(store.committed) != 0 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestDispatchGatewayFailureLeavesNoRows(t *testing.T) {
	store := seededStore(notifications.Recipient{ID: 1, DeviceToken: "tok-a"})
	gateway := &stubGateway{err: errors.New("connection reset")}
	claims := newMemoryClaims()
	engine := newTestEngine(t, store, gateway, WithClaimStore(claims))

	_, err := engine.Dispatch(context.Background(), fallIncident())
	if !errors.Is(err, notifications.ErrGatewayFailed) {
		t.Fatalf("expected ErrGatewayFailed, got %v", err)
	}
	if errors.Is(err, notifications.ErrDispatchUnrecorded) {
		t.Fatalf("gateway failure is not an unrecorded dispatch")
	}
	if len(store.committed) != 0 || store.rollbacks != 1 {
		t.Fatalf("expected rollback with zero rows, committed=%d rollbacks=%d", len(store.committed), store.rollbacks)
	}
	if len(claims.released) != 1 {
		t.Fatalf("claim must be released so the fan-out can be retried")
	}
}

func TestDispatchCommitFailureIsUnrecorded(t *testing.T) {
	store := seededStore(notifications.Recipient{ID: 1, DeviceToken: "tok-a"})
	store.commitErr = errors.New("commit: connection lost")
	gateway := &stubGateway{}
	claims := newMemoryClaims()
	engine := newTestEngine(t, store, gateway, WithClaimStore(claims))

	outcome, err := engine.Dispatch(context.Background(), fallIncident())
	if !errors.Is(err, notifications.ErrDispatchUnrecorded) {
		t.Fatalf("expected ErrDispatchUnrecorded, got %v", err)
	}
	if outcome.Sent != 1 {
		t.Fatalf("outcome must describe what was dispatched, got %+v", outcome)
	}
	if len(claims.released) != 0 {
		t.Fatalf("claim must be kept after a dispatch")
	}
}

func TestDispatchInsertFailureAfterGatewayIsUnrecorded(t *testing.T) {
	store := seededStore(notifications.Recipient{ID: 1, DeviceToken: "tok-a"})
	store.insertErr = errors.New("insert failed")
	engine := newTestEngine(t, store, &stubGateway{})

	if _, err := engine.Dispatch(context.Background(), fallIncident()); !errors.Is(err, notifications.ErrDispatchUnrecorded) {
		t.Fatalf("expected ErrDispatchUnrecorded, got %v", err)
	}
}

func TestDispatchInsertFailureWithoutGatewayIsPlainError(t *testing.T) {
	store := seededStore(notifications.Recipient{ID: 1})
	store.insertErr = errors.New("insert failed")
	engine := newTestEngine(t, store, &stubGateway{})

	_, err := engine.Dispatch(context.Background(), fallIncident())
	if err == nil || errors.Is(err, notifications.ErrDispatchUnrecorded) {
		t.Fatalf("expected plain error, got %v", err)
	}
}

func TestDispatchResultMismatch(t *testing.T) {
	store := seededStore(
		notifications.Recipient{ID: 1, DeviceToken: "tok-a"},
		notifications.Recipient{ID: 2, DeviceToken: "tok-b"},
	)
	gateway := &stubGateway{results: []push.Result{{Success: true}}}
	engine := newTestEngine(t, store, gateway)

	_, err := engine.Dispatch(context.Background(), fallIncident())
	if !errors.Is(err, notifications.ErrGatewayResultMismatch) || !errors.Is(err, notifications.ErrDispatchUnrecorded) {
		t.Fatalf("expected mismatch reported as unrecorded, got %v", err)
	}
	if len(store.committed) != 0 {
		t.Fatalf("mismatch must abort the transaction")
	}
}

func TestDispatchMissingContent(t *testing.T) {
	store := seededStore(notifications.Recipient{ID: 1, DeviceToken: "tok-a"})
	delete(store.contents, "FALL")
	gateway := &stubGateway{}
	engine := newTestEngine(t, store, gateway)

	if _, err := engine.Dispatch(context.Background(), fallIncident()); !errors.Is(err, notifications.ErrContentNotFound) {
		t.Fatalf("expected ErrContentNotFound, got %v", err)
	}
	if len(gateway.calls) != 0 {
		t.Fatalf("gateway must not be called without content")
	}
}

func TestDispatchHighLevelUsesHighPriorityAndTemplate(t *testing.T) {
	store := seededStore(notifications.Recipient{ID: 1, DeviceToken: "tok-a"})
	gateway := &stubGateway{}
	engine := newTestEngine(t, store, gateway)

	incident := fallIncident()
	incident.Type = incidents.TypeSOSRequest
	incident.Level = incidents.LevelHigh
	if _, err := engine.Dispatch(context.Background(), incident); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	msg := gateway.calls[0]
	if msg.Priority != push.PriorityHigh {
		t.Fatalf("expected high priority")
	}
	if msg.Body != "Rescue requested on 6f9619ff-8b86-d011-b42d-00c04fc964ff (HIGH)" {
		t.Fatalf("unexpected rendered body %q", msg.Body)
	}
}

func TestDispatchClaimPreventsSecondFanout(t *testing.T) {
	store := seededStore(notifications.Recipient{ID: 1, DeviceToken: "tok-a"})
	gateway := &stubGateway{}
	claims := newMemoryClaims()
	engine := newTestEngine(t, store, gateway, WithClaimStore(claims))

	if _, err := engine.Dispatch(context.Background(), fallIncident()); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if _, err := engine.Dispatch(context.Background(), fallIncident()); !errors.Is(err, notifications.ErrAlreadyDispatched) {
		t.Fatalf("expected ErrAlreadyDispatched, got %v", err)
	}
	if len(gateway.calls) != 1 || len(store.committed) != 1 {
		t.Fatalf("second dispatch must not reach the gateway")
	}
}

func TestDispatchClaimStoreErrorFailsOpen(t *testing.T) {
	store := seededStore(notifications.Recipient{ID: 1, DeviceToken: "tok-a"})
	claims := newMemoryClaims()
	claims.err = errors.New("redis down")
	engine := newTestEngine(t, store, &stubGateway{}, WithClaimStore(claims))

	if _, err := engine.Dispatch(context.Background(), fallIncident()); err != nil {
		t.Fatalf("dispatch must proceed without the guard: %v", err)
	}
	if len(store.committed) != 1 {
		t.Fatalf("expected one record")
	}
}

func TestDispatchRejectsUnsavedIncident(t *testing.T) {
	engine := newTestEngine(t, seededStore(), &stubGateway{})
	incident := fallIncident()
	incident.ID = 0
	if _, err := engine.Dispatch(context.Background(), incident); err == nil {
		t.Fatalf("expected error for incident without id")
	}
}

func TestClaimKeyIncludesCreationInstant(t *testing.T) {
	incident := fallIncident()
	if got := ClaimKey(incident); got != "101:1733234525000000" {
		t.Fatalf("unexpected claim key %q", got)
	}
	reused := incident
	reused.CreatedAt = testNow.Add(48 * time.Hour)
	if ClaimKey(reused) == ClaimKey(incident) {
		t.Fatalf("a reused id with a new creation instant must get a new key")
	}
	precise := incident
	precise.CreatedAt = testNow.Add(999 * time.Nanosecond)
	if ClaimKey(precise) != ClaimKey(incident) {
		t.Fatalf("sub-microsecond digits must not change the key")
	}
}

func TestDispatchRefusesIncidentWithRecordedDeliveries(t *testing.T) {
	store := seededStore(notifications.Recipient{ID: 1, DeviceToken: "tok-a"})
	gateway := &stubGateway{}
	engine := newTestEngine(t, store, gateway)

	if _, err := engine.Dispatch(context.Background(), fallIncident()); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if _, err := engine.Dispatch(context.Background(), fallIncident()); !errors.Is(err, notifications.ErrAlreadyDispatched) {
		t.Fatalf("expected ErrAlreadyDispatched, got %v", err)
	}
	if len(gateway.calls) != 1 || len(store.committed) != 1 {
		t.Fatalf("recorded incident must not be pushed again")
	}
}

func TestRedispatchAfterGatewayFailureSucceeds(t *testing.T) {
	store := seededStore(notifications.Recipient{ID: 1, DeviceToken: "tok-a"})
	gateway := &stubGateway{err: errors.New("connection reset")}
	claims := newMemoryClaims()
	engine := newTestEngine(t, store, gateway, WithClaimStore(claims))

	if _, err := engine.Dispatch(context.Background(), fallIncident()); !errors.Is(err, notifications.ErrGatewayFailed) {
		t.Fatalf("expected gateway failure, got %v", err)
	}
	gateway.err = nil
	outcome, err := engine.Redispatch(context.Background(), fallIncident())
	if err != nil {
		t.Fatalf("redispatch: %v", err)
	}
	if outcome.Sent != 1 || len(store.committed) != 1 {
		t.Fatalf("unexpected redispatch outcome %+v committed=%d", outcome, len(store.committed))
	}
	if !claims.claimed[ClaimKey(fallIncident())] {
		t.Fatalf("successful redispatch must hold the claim")
	}
}

func TestRedispatchAfterRecordedFanoutRefused(t *testing.T) {
	store := seededStore(notifications.Recipient{ID: 1, DeviceToken: "tok-a"})
	gateway := &stubGateway{}
	claims := newMemoryClaims()
	engine := newTestEngine(t, store, gateway, WithClaimStore(claims))

	if _, err := engine.Dispatch(context.Background(), fallIncident()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := engine.Redispatch(context.Background(), fallIncident()); !errors.Is(err, notifications.ErrAlreadyDispatched) {
		t.Fatalf("expected ErrAlreadyDispatched, got %v", err)
	}

	// The rows still refuse it once the claim has expired.
	delete(claims.claimed, ClaimKey(fallIncident()))
	if _, err := engine.Redispatch(context.Background(), fallIncident()); !errors.Is(err, notifications.ErrAlreadyDispatched) {
		t.Fatalf("expected ErrAlreadyDispatched after claim expiry, got %v", err)
	}
	if len(gateway.calls) != 1 {
		t.Fatalf("recorded incident must not be pushed again, got %d calls", len(gateway.calls))
	}
	if !claims.claimed[ClaimKey(fallIncident())] {
		t.Fatalf("refused redispatch must keep the claim")
	}
}

func TestRedispatchAfterUnrecordedFanoutRefused(t *testing.T) {
	store := seededStore(notifications.Recipient{ID: 1, DeviceToken: "tok-a"})
	store.commitErr = errors.New("commit: connection lost")
	gateway := &stubGateway{}
	engine := newTestEngine(t, store, gateway, WithClaimStore(newMemoryClaims()))

	if _, err := engine.Dispatch(context.Background(), fallIncident()); !errors.Is(err, notifications.ErrDispatchUnrecorded) {
		t.Fatalf("expected unrecorded dispatch, got %v", err)
	}
	store.commitErr = nil
	if _, err := engine.Redispatch(context.Background(), fallIncident()); !errors.Is(err, notifications.ErrAlreadyDispatched) {
		t.Fatalf("expected ErrAlreadyDispatched, got %v", err)
	}
	if len(gateway.calls) != 1 {
		t.Fatalf("pushed incident must not be pushed again, got %d calls", len(gateway.calls))
	}
}

func TestRedispatchRequiresClaims(t *testing.T) {
	store := seededStore(notifications.Recipient{ID: 1, DeviceToken: "tok-a"})
	gateway := &stubGateway{}

	engine := newTestEngine(t, store, gateway)
	if _, err := engine.Redispatch(context.Background(), fallIncident()); !errors.Is(err, notifications.ErrRedispatchUnavailable) {
		t.Fatalf("expected ErrRedispatchUnavailable, got %v", err)
	}

	claims := newMemoryClaims()
	claims.err = errors.New("redis down")
	engine = newTestEngine(t, store, gateway, WithClaimStore(claims))
	if _, err := engine.Redispatch(context.Background(), fallIncident()); !errors.Is(err, notifications.ErrRedispatchUnavailable) {
		t.Fatalf("expected ErrRedispatchUnavailable when claims are unreachable, got %v", err)
	}
	if len(gateway.calls) != 0 {
		t.Fatalf("unavailable redispatch must not reach the gateway")
	}
}
