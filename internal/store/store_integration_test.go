//go:build integration

package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/amparo-line/amparo/internal/model"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func testConversation(t *testing.T, s *Store, state model.ConversationState) model.Conversation {
	t.Helper()
	ctx := context.Background()
	c := model.Conversation{
		ID:        uuid.New(),
		Address:   "itest-" + uuid.NewString(),
		Channel:   "sms",
		State:     model.StateAwaitingFilter,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateConversation(ctx, c); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	t.Cleanup(func() {
		_ = s.DeleteConversation(ctx, c.ID, false)
	})
	if state != model.StateAwaitingFilter {
		if err := s.PassFilter(ctx, c.ID); err != nil {
			t.Fatalf("PassFilter: %v", err)
		}
	}
	if state == model.StateWaitingForVolunteer || state == model.StateAssigned {
		if err := s.SetCrisisLevel(ctx, c.ID, 3, time.Now().UTC()); err != nil {
			t.Fatalf("SetCrisisLevel: %v", err)
		}
	}
	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	return *got
}

func TestIntegration_AddressUniqueness(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := testConversation(t, s, model.StateAwaitingFilter)
	dup := model.Conversation{
		ID:        uuid.New(),
		Address:   c.Address,
		Channel:   "sms",
		State:     model.StateAwaitingFilter,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateConversation(ctx, dup); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate address, got %v", err)
	}
}

func TestIntegration_ClaimRace(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := testConversation(t, s, model.StateWaitingForVolunteer)
	a, b := uuid.New(), uuid.New()

	if err := s.Claim(ctx, c.ID, a, time.Now().UTC()); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := s.Claim(ctx, c.ID, b, time.Now().UTC()); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict for second claim, got %v", err)
	}

	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.AssignedTo == nil || *got.AssignedTo != a {
		t.Error("losing claim must not overwrite the winner")
	}
	if got.UnreadCount != 0 {
		t.Errorf("claim resets unread_count, got %d", got.UnreadCount)
	}
}

func TestIntegration_AutoMessageConditionalBump(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := testConversation(t, s, model.StateWaitingForVolunteer)

	// First bump with the freshly-read values wins.
	if err := s.MarkAutoMessaged(ctx, c.ID, c.AutoMessageCount, c.LastAutoMessageAt, time.Now().UTC()); err != nil {
		t.Fatalf("first bump: %v", err)
	}
	// A second bump with the stale values is the overlapping tick; it must lose.
	if err := s.MarkAutoMessaged(ctx, c.ID, c.AutoMessageCount, c.LastAutoMessageAt, time.Now().UTC()); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale bump, got %v", err)
	}

	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.AutoMessageCount != c.AutoMessageCount+1 {
		t.Errorf("expected exactly one bump, got %d", got.AutoMessageCount)
	}
}

func TestIntegration_InboundProviderDedup(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := testConversation(t, s, model.StateWaitingForVolunteer)
	providerID := "itest-prov-" + uuid.NewString()
	msg := model.Message{
		ID:             uuid.New(),
		ConversationID: c.ID,
		Direction:      model.DirectionInbound,
		Body:           "hola",
		Status:         model.MsgStatusUnread,
		ProviderID:     providerID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.InsertInbound(ctx, msg); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	msg.ID = uuid.New()
	if err := s.InsertInbound(ctx, msg); !errors.Is(err, model.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate on redelivery, got %v", err)
	}
}

func TestIntegration_DeletePreservesSurveyResponses(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := testConversation(t, s, model.StateWaitingForVolunteer)
	survey := model.Message{
		ID:             uuid.New(),
		ConversationID: c.ID,
		Direction:      model.DirectionInbound,
		Body:           "4",
		Status:         model.MsgStatusSurveyResponse,
		ProviderID:     "itest-prov-" + uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
	}
	other := model.Message{
		ID:             uuid.New(),
		ConversationID: c.ID,
		Direction:      model.DirectionInbound,
		Body:           "hola",
		Status:         model.MsgStatusUnread,
		ProviderID:     "itest-prov-" + uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.InsertInbound(ctx, survey); err != nil {
		t.Fatalf("insert survey: %v", err)
	}
	if err := s.InsertInbound(ctx, other); err != nil {
		t.Fatalf("insert other: %v", err)
	}

	if err := s.DeleteConversation(ctx, c.ID, true); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}

	msgs, err := s.ListMessages(ctx, c.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Status != model.MsgStatusSurveyResponse {
		t.Errorf("expected only the survey response to survive, got %+v", msgs)
	}
	if _, err := s.GetConversation(ctx, c.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected conversation gone, got %v", err)
	}
}

func TestIntegration_CloseVersusInboundRace(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := testConversation(t, s, model.StateWaitingForVolunteer)
	if err := s.CloseConversation(ctx, c.ID, time.Now().UTC()); err != nil {
		t.Fatalf("close: %v", err)
	}
	// A second close (or any transition keyed on the old state) loses.
	if err := s.CloseConversation(ctx, c.ID, time.Now().UTC()); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict on double close, got %v", err)
	}
}
