package store

import (
    "context"
    "errors"
    "time"

    "taxifleet/internal/model"
)

// Store is the persistence interface used by the API server and run worker.
type Store interface {
    // Runs
    CreateRun(ctx context.Context, run model.Run) (model.Run, error)
    UpdateRun(ctx context.Context, run model.Run) error
    GetRun(ctx context.Context, id string) (model.Run, error)
    ListRuns(ctx context.Context, cursor string, limit int) ([]model.Run, string, error)

    // Results
    SaveCheckpoint(ctx context.Context, runID string, cp model.Checkpoint) error
    ListCheckpoints(ctx context.Context, runID string) ([]model.Checkpoint, error)
    SaveItineraries(ctx context.Context, runID string, items []model.Itinerary) error
    ListItineraries(ctx context.Context, runID, cursor string, limit int) ([]model.Itinerary, string, error)

    // Subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error)
    DeleteSubscription(ctx context.Context, id string) error

    // Webhook deliveries
    EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
}

var ErrNotFound = errors.New("not found")

func clampLimit(limit int) int {
    if limit <= 0 || limit > 500 { return 100 }
    return limit
}
