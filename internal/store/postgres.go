package store

import (
    "context"
    "crypto/sha256"
    "database/sql"
    "encoding/hex"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "taxifleet/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// MigrateDir applies every *.sql file in dir in lexical order. Migrations are
// written to be re-runnable.
func (p *Postgres) MigrateDir(dir string) error {
    files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
    if err != nil { return err }
    sort.Strings(files)
    for _, f := range files {
        b, err := os.ReadFile(f)
        if err != nil { return err }
        if _, err := p.db.Exec(string(b)); err != nil {
            return fmt.Errorf("migrate %s: %w", filepath.Base(f), err)
        }
    }
    return nil
}

// Runs

func (p *Postgres) CreateRun(ctx context.Context, run model.Run) (model.Run, error) {
    if run.ID == "" { run.ID = uuid.New().String() }
    if run.CreatedAt.IsZero() { run.CreatedAt = time.Now().UTC() }
    if run.Status == "" { run.Status = model.RunQueued }
    params, _ := json.Marshal(run.Params)
    _, err := p.db.ExecContext(ctx, `INSERT INTO runs (id, region, source, status, error, stations, trips, params, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
        run.ID, run.Region, nullIfEmpty(run.Source), run.Status, nullIfEmpty(run.Error), run.Stations, run.Trips, params, run.CreatedAt)
    if err != nil { return model.Run{}, err }
    return run, nil
}

func (p *Postgres) UpdateRun(ctx context.Context, run model.Run) error {
    var summary any
    if run.Summary != nil {
        b, _ := json.Marshal(run.Summary)
        summary = b
    }
    params, _ := json.Marshal(run.Params)
    res, err := p.db.ExecContext(ctx, `UPDATE runs SET status=$2, error=$3, stations=$4, trips=$5, params=$6, summary=$7, started_at=$8, finished_at=$9 WHERE id=$1`,
        run.ID, run.Status, nullIfEmpty(run.Error), run.Stations, run.Trips, params, summary, run.StartedAt, run.FinishedAt)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

const runColumns = `id::text, region, COALESCE(source,''), status, COALESCE(error,''), stations, trips, params, summary, created_at, started_at, finished_at`

func scanRun(sc interface{ Scan(...any) error }) (model.Run, error) {
    var r model.Run
    var params, summary []byte
    var started, finished sql.NullTime
    if err := sc.Scan(&r.ID, &r.Region, &r.Source, &r.Status, &r.Error, &r.Stations, &r.Trips, &params, &summary, &r.CreatedAt, &started, &finished); err != nil {
        return model.Run{}, err
    }
    if len(params) > 0 { _ = json.Unmarshal(params, &r.Params) }
    if len(summary) > 0 {
        r.Summary = &model.Summary{}
        _ = json.Unmarshal(summary, r.Summary)
    }
    if started.Valid { t := started.Time; r.StartedAt = &t }
    if finished.Valid { t := finished.Time; r.FinishedAt = &t }
    return r, nil
}

func (p *Postgres) GetRun(ctx context.Context, id string) (model.Run, error) {
    if _, err := uuid.Parse(id); err != nil { return model.Run{}, ErrNotFound }
    row := p.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=$1`, id)
    r, err := scanRun(row)
    if errors.Is(err, sql.ErrNoRows) { return model.Run{}, ErrNotFound }
    return r, err
}

// ListRuns pages newest first using the previous page's last id.
func (p *Postgres) ListRuns(ctx context.Context, cursor string, limit int) ([]model.Run, string, error) {
    limit = clampLimit(limit)
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs
            WHERE (created_at, id) < (SELECT created_at, id FROM runs WHERE id::text=$1)
            ORDER BY created_at DESC, id DESC LIMIT $2`, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Run{}
    for rows.Next() {
        r, err := scanRun(rows)
        if err != nil { return nil, "", err }
        out = append(out, r)
    }
    next := ""
    if len(out) == limit { next = out[len(out)-1].ID }
    return out, next, rows.Err()
}

// Results

func (p *Postgres) SaveCheckpoint(ctx context.Context, runID string, cp model.Checkpoint) error {
    data, _ := json.Marshal(cp)
    _, err := p.db.ExecContext(ctx, `INSERT INTO run_checkpoints (run_id, seq, name, data) VALUES ($1,$2,$3,$4)
        ON CONFLICT (run_id, seq) DO UPDATE SET name=EXCLUDED.name, data=EXCLUDED.data`, runID, cp.Seq, cp.Name, data)
    return err
}

func (p *Postgres) ListCheckpoints(ctx context.Context, runID string) ([]model.Checkpoint, error) {
    if _, err := p.GetRun(ctx, runID); err != nil { return nil, err }
    rows, err := p.db.QueryContext(ctx, `SELECT data FROM run_checkpoints WHERE run_id=$1 ORDER BY seq`, runID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Checkpoint{}
    for rows.Next() {
        var b []byte
        if err := rows.Scan(&b); err != nil { return nil, err }
        var cp model.Checkpoint
        if err := json.Unmarshal(b, &cp); err != nil { return nil, err }
        out = append(out, cp)
    }
    return out, rows.Err()
}

// SaveItineraries replaces a run's itineraries in one transaction.
func (p *Postgres) SaveItineraries(ctx context.Context, runID string, items []model.Itinerary) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func() { _ = tx.Rollback() }()
    if _, err := tx.ExecContext(ctx, `DELETE FROM run_itineraries WHERE run_id=$1`, runID); err != nil { return err }
    stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_itineraries
        (run_id, seq, taxi_id, origin_station, current_station, depart_sec, available_sec, empty_miles, riders, nodes, legs)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`)
    if err != nil { return err }
    defer stmt.Close()
    for _, it := range items {
        legs, _ := json.Marshal(it.Legs)
        if _, err := stmt.ExecContext(ctx, runID, it.Seq, int64(it.TaxiID), nullIfNil(it.OriginStation), nullIfNil(it.CurrentStation),
            it.DepartSec, it.AvailableSec, it.EmptyMiles, it.Riders, it.Nodes, legs); err != nil {
            return err
        }
    }
    return tx.Commit()
}

func (p *Postgres) ListItineraries(ctx context.Context, runID, cursor string, limit int) ([]model.Itinerary, string, error) {
    if _, err := p.GetRun(ctx, runID); err != nil { return nil, "", err }
    limit = clampLimit(limit)
    rows, err := p.db.QueryContext(ctx, `SELECT seq, taxi_id, origin_station, current_station, depart_sec, available_sec, empty_miles, riders, nodes, legs
        FROM run_itineraries WHERE run_id=$1 AND seq > $2 ORDER BY seq LIMIT $3`, runID, parseSeqCursor(cursor), limit)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Itinerary{}
    for rows.Next() {
        var it model.Itinerary
        var taxi int64
        var origin, current sql.NullInt64
        var legs []byte
        if err := rows.Scan(&it.Seq, &taxi, &origin, &current, &it.DepartSec, &it.AvailableSec, &it.EmptyMiles, &it.Riders, &it.Nodes, &legs); err != nil {
            return nil, "", err
        }
        it.TaxiID = uint64(taxi)
        if origin.Valid { v := int(origin.Int64); it.OriginStation = &v }
        if current.Valid { v := int(current.Int64); it.CurrentStation = &v }
        _ = json.Unmarshal(legs, &it.Legs)
        out = append(out, it)
    }
    next := ""
    if len(out) == limit { next = seqCursor(out[len(out)-1].Seq) }
    return out, next, rows.Err()
}

// Subscriptions

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New().String()
    ev, _ := json.Marshal(req.Events)
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, url, events, secret) VALUES ($1,$2,$3,$4)`, id, req.URL, ev, nullIfEmpty(req.Secret))
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    filter, _ := json.Marshal([]string{eventType})
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE events @> $1::jsonb`, filter)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, err }
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
    limit = clampLimit(limit)
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE id::text > $1 ORDER BY id LIMIT $2`, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions ORDER BY id LIMIT $1`, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Subscription{}
    var last string
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, "", err }
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
        last = s.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
    if _, err := uuid.Parse(id); err != nil { return ErrNotFound }
    res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

// Webhook deliveries

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    dk := computeDedupKey(payload)
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now(),$7)
        ON CONFLICT (event_type, url, dedup_key) DO NOTHING`, id, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
            id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
    return err
}

// FailWebhookDelivery marks a delivery failed and copies it to the DLQ.
func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', attempts=attempts+1, last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
    if err != nil { return err }
    _, err = p.db.ExecContext(ctx, `INSERT INTO webhook_dlq (id, delivery_id, event_type, url, secret, payload, attempts, last_error)
        SELECT gen_random_uuid(), id, event_type, url, secret, payload, attempts, $2 FROM webhook_deliveries WHERE id=$1`, id, nullIfEmpty(lastError))
    return err
}

// computeDedupKey prefers the event id in the payload and falls back to a
// short content hash.
func computeDedupKey(payload []byte) string {
    var m map[string]any
    if json.Unmarshal(payload, &m) == nil {
        if v, ok := m["id"].(string); ok && v != "" {
            return v
        }
    }
    sum := sha256.Sum256(payload)
    return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }

func nullIfNil(v *int) any { if v == nil { return nil }; return *v }
