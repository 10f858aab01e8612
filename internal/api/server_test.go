package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/amparo-line/amparo/internal/intake"
	"github.com/amparo-line/amparo/internal/model"
	"github.com/amparo-line/amparo/internal/reengage"
	"github.com/amparo-line/amparo/internal/retention"
	"github.com/amparo-line/amparo/internal/router"
)

// fakeBackend implements the store slices of every core component so the
// full HTTP surface can be exercised in-memory.
type fakeBackend struct {
	channels   map[string]bool
	convs      map[uuid.UUID]*model.Conversation
	volunteers map[uuid.UUID]*model.Volunteer
	messages   []model.Message
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		channels:   map[string]bool{"sms": true},
		convs:      make(map[uuid.UUID]*model.Conversation),
		volunteers: make(map[uuid.UUID]*model.Volunteer),
	}
}

func (f *fakeBackend) ChannelEnabled(_ context.Context, name string) (bool, error) {
	return f.channels[name], nil
}

func (f *fakeBackend) GetConversation(_ context.Context, id uuid.UUID) (*model.Conversation, error) {
	c, ok := f.convs[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeBackend) GetConversationByAddress(_ context.Context, address string) (*model.Conversation, error) {
	for _, c := range f.convs {
		if c.Address == address {
			cp := *c
			return &cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (f *fakeBackend) CreateConversation(_ context.Context, c model.Conversation) error {
	cp := c
	f.convs[c.ID] = &cp
	return nil
}

func (f *fakeBackend) GetVolunteer(_ context.Context, id uuid.UUID) (*model.Volunteer, error) {
	v, ok := f.volunteers[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	vp := *v
	return &vp, nil
}

func (f *fakeBackend) InsertInbound(_ context.Context, m model.Message) error {
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeBackend) InsertOutbound(_ context.Context, m model.Message) error {
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeBackend) PassFilter(_ context.Context, id uuid.UUID) error {
	c, ok := f.convs[id]
	if !ok || c.State != model.StateAwaitingFilter {
		return model.ErrConflict
	}
	t := true
	c.State = model.StateAwaitingCrisisLevel
	c.FilterPassed = &t
	return nil
}

func (f *fakeBackend) SetCrisisLevel(_ context.Context, id uuid.UUID, level int, now time.Time) error {
	c, ok := f.convs[id]
	if !ok || c.State != model.StateAwaitingCrisisLevel {
		return model.ErrConflict
	}
	c.State = model.StateWaitingForVolunteer
	c.CrisisLevel = &level
	c.AutoMessageCount = 1
	c.LastAutoMessageAt = &now
	return nil
}

func (f *fakeBackend) RecordInbound(_ context.Context, id uuid.UUID, body string, at time.Time) error {
	c, ok := f.convs[id]
	if !ok {
		return model.ErrNotFound
	}
	c.UnreadCount++
	c.LastMessage = body
	c.LastMessageAt = &at
	return nil
}

func (f *fakeBackend) DeleteConversation(_ context.Context, id uuid.UUID, _ bool) error {
	delete(f.convs, id)
	return nil
}

func (f *fakeBackend) Claim(_ context.Context, id, volunteerID uuid.UUID, at time.Time) error {
	c, ok := f.convs[id]
	if !ok || c.State != model.StateWaitingForVolunteer || c.AssignedTo != nil {
		return model.ErrConflict
	}
	c.State = model.StateAssigned
	c.AssignedTo = &volunteerID
	c.AssignedAt = &at
	c.UnreadCount = 0
	return nil
}

func (f *fakeBackend) Transfer(_ context.Context, id, toVolunteerID uuid.UUID, at time.Time) error {
	c, ok := f.convs[id]
	if !ok || c.State != model.StateAssigned {
		return model.ErrConflict
	}
	c.AssignedTo = &toVolunteerID
	c.AssignedAt = &at
	return nil
}

func (f *fakeBackend) ListVisible(_ context.Context, volunteerID uuid.UUID, supervise bool) ([]model.Conversation, error) {
	var out []model.Conversation
	for _, c := range f.convs {
		switch {
		case c.State == model.StateWaitingForVolunteer,
			c.State == model.StateAssigned && supervise,
			c.State == model.StateAssigned && c.AssignedTo != nil && *c.AssignedTo == volunteerID:
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeBackend) ListMessages(_ context.Context, conversationID uuid.UUID) ([]model.Message, error) {
	var out []model.Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeBackend) MarkInboundRead(_ context.Context, _ uuid.UUID) error { return nil }

func (f *fakeBackend) RecordSystemNote(_ context.Context, conversationID uuid.UUID, body string) error {
	f.messages = append(f.messages, model.Message{
		ID: uuid.New(), ConversationID: conversationID,
		Direction: model.DirectionOutbound, Body: body, Status: model.MsgStatusSystemNote,
	})
	return nil
}

func (f *fakeBackend) CloseConversation(_ context.Context, id uuid.UUID, closedAt time.Time) error {
	c, ok := f.convs[id]
	if !ok || (c.State != model.StateAssigned && c.State != model.StateWaitingForVolunteer) {
		return model.ErrConflict
	}
	c.State = model.StatePendingDelete
	c.ClosedAt = &closedAt
	return nil
}

func (f *fakeBackend) ListDueForAutoMessage(_ context.Context, _ time.Time, _ int) ([]model.Conversation, error) {
	return nil, nil
}

func (f *fakeBackend) MarkAutoMessaged(_ context.Context, _ uuid.UUID, _ int, _ *time.Time, _ time.Time) error {
	return model.ErrConflict
}

func (f *fakeBackend) ListExpiredPendingDelete(_ context.Context, _ time.Time) ([]model.Conversation, error) {
	return nil, nil
}

type nullSender struct{}

func (nullSender) Send(_ context.Context, _, _ string) (string, error) { return "prov-x", nil }

func newTestServer(fb *fakeBackend) *Server {
	logger := slog.Default()
	proc := intake.New(fb, nullSender{}, nil, 30*time.Minute, logger)
	rt := router.New(fb, nullSender{}, nil, logger)
	ret := retention.New(fb, nullSender{}, nil, 24*time.Hour, logger)
	re := reengage.New(fb, nullSender{}, 90*time.Second, 5, logger)
	return NewServer(8460, proc, rt, ret, re, "test-trigger-token", logger)
}

func do(t *testing.T, srv *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	w := do(t, newTestServer(newFakeBackend()), "GET", "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestWebhookAcksMalformedPayload(t *testing.T) {
	w := do(t, newTestServer(newFakeBackend()), "POST", "/webhook/sms", "{not json", nil)
	if w.Code != http.StatusOK {
		t.Errorf("webhook must always ack, got %d", w.Code)
	}
}

func TestWebhookAcksDisabledChannel(t *testing.T) {
	fb := newFakeBackend()
	fb.channels["sms"] = false
	body := `{"address":"+5215550001111","body":"hola","provider_message_id":"p1"}`

	w := do(t, newTestServer(fb), "POST", "/webhook/sms", body, nil)
	if w.Code != http.StatusOK {
		t.Errorf("webhook must ack even on a disabled channel, got %d", w.Code)
	}
	if len(fb.convs) != 0 {
		t.Error("disabled channel must not create conversations")
	}
}

func TestWebhookCreatesConversation(t *testing.T) {
	fb := newFakeBackend()
	body := `{"address":"+5215550001111","body":"hola","provider_message_id":"p1"}`

	w := do(t, newTestServer(fb), "POST", "/webhook/sms", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(fb.convs) != 1 {
		t.Fatalf("expected a conversation, got %d", len(fb.convs))
	}
	for _, c := range fb.convs {
		if c.State != model.StateAwaitingFilter {
			t.Errorf("expected awaiting_filter, got %s", c.State)
		}
		if c.Channel != "sms" {
			t.Errorf("expected channel from the URL, got %q", c.Channel)
		}
	}
}

func TestTriggerAuth(t *testing.T) {
	srv := newTestServer(newFakeBackend())

	w := do(t, srv, "POST", "/internal/reengage", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	w = do(t, srv, "POST", "/internal/reengage", "", map[string]string{"Authorization": "Bearer wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", w.Code)
	}

	w = do(t, srv, "POST", "/internal/reengage", "", map[string]string{"Authorization": "Bearer test-trigger-token"})
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with the right token, got %d", w.Code)
	}
	var resp map[string]int
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := resp["sent"]; !ok {
		t.Error("expected a sent count in the response")
	}
}

func TestCleanupTrigger(t *testing.T) {
	srv := newTestServer(newFakeBackend())
	w := do(t, srv, "POST", "/internal/cleanup", "", map[string]string{"Authorization": "Bearer test-trigger-token"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]int
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := resp["deleted"]; !ok {
		t.Error("expected a deleted count in the response")
	}
}

func TestVolunteerSurfaceRequiresIdentity(t *testing.T) {
	srv := newTestServer(newFakeBackend())
	w := do(t, srv, "GET", "/api/v1/conversations", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without X-Volunteer-ID, got %d", w.Code)
	}
}

func TestClaimEndpointConflictMapsTo409(t *testing.T) {
	fb := newFakeBackend()
	ana := uuid.New()
	bea := uuid.New()
	fb.volunteers[ana] = &model.Volunteer{ID: ana, Role: model.RoleVolunteer, Status: model.VolunteerActive}
	fb.volunteers[bea] = &model.Volunteer{ID: bea, Role: model.RoleVolunteer, Status: model.VolunteerActive}
	convID := uuid.New()
	fb.convs[convID] = &model.Conversation{ID: convID, State: model.StateWaitingForVolunteer}
	srv := newTestServer(fb)

	w := do(t, srv, "POST", "/api/v1/conversations/"+convID.String()+"/claim", "",
		map[string]string{"X-Volunteer-ID": ana.String()})
	if w.Code != http.StatusOK {
		t.Fatalf("first claim should succeed, got %d: %s", w.Code, w.Body)
	}

	w = do(t, srv, "POST", "/api/v1/conversations/"+convID.String()+"/claim", "",
		map[string]string{"X-Volunteer-ID": bea.String()})
	if w.Code != http.StatusConflict {
		t.Errorf("second claim should 409, got %d", w.Code)
	}
}

func TestTransferForbiddenMapsTo403(t *testing.T) {
	fb := newFakeBackend()
	ana := uuid.New()
	bea := uuid.New()
	fb.volunteers[ana] = &model.Volunteer{ID: ana, Role: model.RoleVolunteer, Status: model.VolunteerActive}
	fb.volunteers[bea] = &model.Volunteer{ID: bea, Role: model.RoleVolunteer, Status: model.VolunteerActive}
	convID := uuid.New()
	fb.convs[convID] = &model.Conversation{ID: convID, State: model.StateAssigned, AssignedTo: &ana}
	srv := newTestServer(fb)

	w := do(t, srv, "POST", "/api/v1/conversations/"+convID.String()+"/transfer",
		`{"to":"`+bea.String()+`"}`, map[string]string{"X-Volunteer-ID": ana.String()})
	if w.Code != http.StatusForbidden {
		t.Errorf("non-supervisor transfer should 403, got %d", w.Code)
	}
}

func TestUnknownConversationMapsTo404(t *testing.T) {
	fb := newFakeBackend()
	ana := uuid.New()
	fb.volunteers[ana] = &model.Volunteer{ID: ana, Role: model.RoleVolunteer, Status: model.VolunteerActive}
	srv := newTestServer(fb)

	w := do(t, srv, "POST", "/api/v1/conversations/"+uuid.NewString()+"/claim", "",
		map[string]string{"X-Volunteer-ID": ana.String()})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown conversation should 404, got %d", w.Code)
	}
}

func TestListOmitsContactAddress(t *testing.T) {
	fb := newFakeBackend()
	ana := uuid.New()
	fb.volunteers[ana] = &model.Volunteer{ID: ana, Role: model.RoleVolunteer, Status: model.VolunteerActive}
	convID := uuid.New()
	fb.convs[convID] = &model.Conversation{
		ID: convID, Address: "+5215559999999", Channel: "sms",
		State: model.StateWaitingForVolunteer, CreatedAt: time.Now(),
	}
	srv := newTestServer(fb)

	w := do(t, srv, "GET", "/api/v1/conversations", "", map[string]string{"X-Volunteer-ID": ana.String()})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "+5215559999999") {
		t.Error("the contact address must never reach the UI payload")
	}
}
