package store

import (
	"context"
	"errors"
	"testing"

	"taxifleet/internal/model"
)

func TestMemoryRunsLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var ids []string
	for i := 0; i < 3; i++ {
		r, err := m.CreateRun(ctx, model.Run{Region: "R"})
		if err != nil || r.ID == "" || r.Status != model.RunQueued {
			t.Fatalf("create: %+v %v", r, err)
		}
		ids = append(ids, r.ID)
	}
	page, next, err := m.ListRuns(ctx, "", 2)
	if err != nil || len(page) != 2 || next == "" {
		t.Fatalf("page 1: %d %q %v", len(page), next, err)
	}
	if page[0].ID != ids[2] {
		t.Fatalf("runs should list newest first")
	}
	page, next, _ = m.ListRuns(ctx, next, 2)
	if len(page) != 1 || next != "" || page[0].ID != ids[0] {
		t.Fatalf("page 2: %d %q", len(page), next)
	}

	r, _ := m.GetRun(ctx, ids[0])
	r.Status = model.RunCompleted
	if err := m.UpdateRun(ctx, r); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got, _ := m.GetRun(ctx, ids[0]); got.Status != model.RunCompleted {
		t.Fatalf("status not updated")
	}
	if _, err := m.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing run: %v", err)
	}
	if err := m.UpdateRun(ctx, model.Run{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: %v", err)
	}
}

func TestMemoryResults(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	r, _ := m.CreateRun(ctx, model.Run{Region: "R"})
	_ = m.SaveCheckpoint(ctx, r.ID, model.Checkpoint{Seq: 2, Name: "consolidated"})
	_ = m.SaveCheckpoint(ctx, r.ID, model.Checkpoint{Seq: 1, Name: "ingest"})
	cps, err := m.ListCheckpoints(ctx, r.ID)
	if err != nil || len(cps) != 2 || cps[0].Seq != 1 {
		t.Fatalf("checkpoints: %+v %v", cps, err)
	}
	var items []model.Itinerary
	for i := 1; i <= 5; i++ {
		items = append(items, model.Itinerary{TaxiID: uint64(i), Seq: i})
	}
	if err := m.SaveItineraries(ctx, r.ID, items); err != nil {
		t.Fatalf("save: %v", err)
	}
	page, next, _ := m.ListItineraries(ctx, r.ID, "", 3)
	if len(page) != 3 || next != "3" {
		t.Fatalf("page 1: %d %q", len(page), next)
	}
	page, next, _ = m.ListItineraries(ctx, r.ID, next, 3)
	if len(page) != 2 || next != "" || page[0].Seq != 4 {
		t.Fatalf("page 2: %d %q", len(page), next)
	}
	if err := m.SaveCheckpoint(ctx, "missing", model.Checkpoint{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("checkpoint for missing run: %v", err)
	}
}

func TestMemorySubscriptionsAndDeliveries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s, _ := m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://x", Events: []string{"run.completed"}})
	_, _ = m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://y", Events: []string{"run.failed"}})
	got, _ := m.GetSubscriptionsForEvent(ctx, "run.completed")
	if len(got) != 1 || got[0].ID != s.ID {
		t.Fatalf("subscriptions for event: %+v", got)
	}
	if err := m.DeleteSubscription(ctx, s.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.DeleteSubscription(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}

	id, _ := m.EnqueueWebhook(ctx, "", "run.completed", "http://x", "", []byte(`{}`))
	due, _ := m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 1 || due[0].ID != id {
		t.Fatalf("due: %+v", due)
	}
	_ = m.FailWebhookDelivery(ctx, id, "boom", 500, 3)
	if due, _ := m.FetchDueWebhookDeliveries(ctx, 10); len(due) != 0 {
		t.Fatalf("failed delivery should not be due")
	}
	if len(m.DeadLetters()) != 1 {
		t.Fatalf("expected one dead letter")
	}
}
