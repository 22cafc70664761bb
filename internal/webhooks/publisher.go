package webhooks

import (
	"context"
	"encoding/json"
	"log"

	"taxifleet/internal/model"
	"taxifleet/internal/store"
)

// Run lifecycle events delivered to subscribers.
const (
	EventRunCheckpoint = "run.checkpoint"
	EventRunCompleted  = "run.completed"
	EventRunFailed     = "run.failed"
)

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit queues evt for every subscription to its type. Delivery happens on the
// worker.
func (p *Publisher) Emit(ctx context.Context, evt model.Event) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, evt.Type)
	if err != nil {
		log.Printf("[webhooks] lookup subscriptions for %s: %v", evt.Type, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	body, _ := json.Marshal(evt)
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, s.ID, evt.Type, s.URL, s.Secret, body); err != nil {
			log.Printf("[webhooks] enqueue %s for %s: %v", evt.Type, s.ID, err)
		}
	}
}
